package noise

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MacSize is the length in bytes of a Poly1305 authentication tag.
	MacSize = 16

	// LengthHeaderSize is the wire size of the encrypted length prefix
	// that announces each message body: a 2-byte big-endian length plus
	// its own authentication tag.
	LengthHeaderSize = 2 + MacSize

	// MaxMessagePayload is the largest plaintext a single frame can
	// carry, bounded by the 2-byte length field.
	MaxMessagePayload = 65535
)

// ErrOversizedMessage indicates a plaintext too large for the 2-byte
// length prefix. It is an encode-side error only; a decoder trusts the
// decrypted length field, which cannot express an oversized value.
var ErrOversizedMessage = errors.New("message exceeds maximum payload size")

// EncryptMessage encrypts msg for the wire and returns the full encoding:
// an encrypted length header followed by the encrypted body. Each of the
// two frames carries its own authentication tag and consumes one nonce
// from the send cipher, so a single message advances it by two.
//
// The returned buffer must be written to the stream in full before the
// next message is encrypted, as the peer decrypts strictly in nonce order.
func (sk *SessionKeys) EncryptMessage(msg []byte) ([]byte, error) {
	if len(msg) > MaxMessagePayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrOversizedMessage, len(msg))
	}

	out := make([]byte, 0, LengthHeaderSize+len(msg)+MacSize)

	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(msg)))

	out = sk.send.Encrypt(nil, out, length[:])
	out = sk.send.Encrypt(nil, out, msg)

	return out, nil
}

// DecryptHeader authenticates and decrypts an 18-byte length header,
// returning the plaintext length of the body that follows. The body's
// wire size is the returned length plus MacSize. A tag mismatch returns
// ErrDecryptFailed and the connection must be closed.
func (sk *SessionKeys) DecryptHeader(hdr [LengthHeaderSize]byte) (uint16, error) {
	plain, err := sk.recv.Decrypt(nil, nil, hdr[:])
	if err != nil {
		return 0, fmt.Errorf("length header: %w", err)
	}

	return binary.BigEndian.Uint16(plain), nil
}

// DecryptBody authenticates and decrypts a message body previously
// announced by a length header, returning the plaintext message. A tag
// mismatch returns ErrDecryptFailed and the connection must be closed.
func (sk *SessionKeys) DecryptBody(body []byte) ([]byte, error) {
	if len(body) < MacSize {
		return nil, fmt.Errorf("%w: body of %d bytes is shorter than its tag",
			ErrMalformedFrame, len(body))
	}

	plain, err := sk.recv.Decrypt(nil, nil, body)
	if err != nil {
		return nil, fmt.Errorf("message body: %w", err)
	}

	return plain, nil
}
