package transport

import (
	"bytes"

	"github.com/opd-ai/lnsocket/noise"
)

// awaitingHeader marks a decoder that has not yet decrypted the length
// prefix of the message currently in flight.
const awaitingHeader = -1

// Decoder incrementally decrypts the framed message stream of one
// connection's receive direction. Bytes arrive via Feed in whatever
// fragments the network delivers them; Next yields each complete message
// as soon as enough bytes have accumulated, and reports "not yet" rather
// than an error while a frame is still partial.
//
// A Decoder owns the receive half of the session's nonce sequence, so it
// must only ever be fed the connection's bytes in order, by one caller at
// a time.
type Decoder struct {
	keys *noise.SessionKeys

	buf bytes.Buffer

	// bodyLen is the plaintext length announced by the current message's
	// decrypted header, or awaitingHeader before the header is complete.
	bodyLen int
}

// NewDecoder creates a decoder drawing receive keys from the given
// session.
func NewDecoder(keys *noise.SessionKeys) *Decoder {
	return &Decoder{
		keys:    keys,
		bodyLen: awaitingHeader,
	}
}

// Feed appends raw ciphertext bytes read from the connection. Feeding
// never fails and never decrypts; call Next to drain decoded messages.
func (d *Decoder) Feed(p []byte) {
	d.buf.Write(p)
}

// Buffered returns the number of undecoded bytes currently held.
func (d *Decoder) Buffered() int {
	return d.buf.Len()
}

// Next attempts to decode the next message from the accumulated bytes.
// It returns (msg, true, nil) when a full message was decrypted,
// (nil, false, nil) when more input is needed, and a non-nil error when
// decryption failed. A decryption error is fatal: the cipher state is out
// of step with the peer and the connection must be closed.
//
// After a successful decode the next call immediately attempts the
// following message from any surplus bytes already buffered, so callers
// should drain Next until it reports needing more input before reading
// from the network again.
func (d *Decoder) Next() ([]byte, bool, error) {
	if d.bodyLen == awaitingHeader {
		if d.buf.Len() < noise.LengthHeaderSize {
			return nil, false, nil
		}

		var hdr [noise.LengthHeaderSize]byte
		copy(hdr[:], d.buf.Next(noise.LengthHeaderSize))

		length, err := d.keys.DecryptHeader(hdr)
		if err != nil {
			return nil, false, err
		}
		d.bodyLen = int(length)
	}

	if d.buf.Len() < d.bodyLen+noise.MacSize {
		return nil, false, nil
	}

	body := d.buf.Next(d.bodyLen + noise.MacSize)
	d.bodyLen = awaitingHeader

	msg, err := d.keys.DecryptBody(body)
	if err != nil {
		return nil, false, err
	}

	return msg, true, nil
}
