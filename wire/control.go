package wire

import (
	"encoding/binary"
	"fmt"
)

// MaxPongBytes is the largest ignored-byte count a ping may request in
// its pong; larger requests signal a peer probing for non-conformance and
// are answered with no pong at all per the protocol.
const MaxPongBytes = 65531

// Ping asks the peer to respond with a pong carrying NumPongBytes of
// padding. The Ignored padding on the ping itself lets a sender pad
// traffic in both directions.
type Ping struct {
	NumPongBytes uint16
	Ignored      []byte
}

// MsgType returns the message's wire type code.
func (m *Ping) MsgType() MessageType { return MsgPing }

// Encode serializes the ping payload.
func (m *Ping) Encode() ([]byte, error) {
	out := make([]byte, 0, 4+len(m.Ignored))
	out = binary.BigEndian.AppendUint16(out, m.NumPongBytes)
	out = binary.BigEndian.AppendUint16(out, uint16(len(m.Ignored)))
	return append(out, m.Ignored...), nil
}

func decodePing(payload []byte) (*Ping, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("ping: %w", ErrTruncatedMessage)
	}
	msg := &Ping{NumPongBytes: binary.BigEndian.Uint16(payload)}

	if _, err := readLengthPrefixed(payload[2:], &msg.Ignored); err != nil {
		return nil, fmt.Errorf("ping ignored bytes: %w", err)
	}
	return msg, nil
}

// Pong answers a ping. Its padding length echoes the ping's NumPongBytes.
type Pong struct {
	Ignored []byte
}

// NewPongFor builds the conforming pong for a received ping: numPongBytes
// zero bytes of padding.
func NewPongFor(ping *Ping) *Pong {
	return &Pong{Ignored: make([]byte, ping.NumPongBytes)}
}

// MsgType returns the message's wire type code.
func (m *Pong) MsgType() MessageType { return MsgPong }

// Encode serializes the pong payload.
func (m *Pong) Encode() ([]byte, error) {
	out := make([]byte, 0, 2+len(m.Ignored))
	out = binary.BigEndian.AppendUint16(out, uint16(len(m.Ignored)))
	return append(out, m.Ignored...), nil
}

func decodePong(payload []byte) (*Pong, error) {
	msg := &Pong{}
	if _, err := readLengthPrefixed(payload, &msg.Ignored); err != nil {
		return nil, fmt.Errorf("pong ignored bytes: %w", err)
	}
	return msg, nil
}

// ChannelIDSize is the size of the channel identifier carried by error
// and warning messages. The all-zero id addresses the connection as a
// whole rather than one channel.
const ChannelIDSize = 32

// Error tells the peer something is irrecoverably wrong with a channel,
// or with the whole connection when ChannelID is zero. Data is free-form
// and often printable.
type Error struct {
	ChannelID [ChannelIDSize]byte
	Data      []byte
}

// MsgType returns the message's wire type code.
func (m *Error) MsgType() MessageType { return MsgError }

// Encode serializes the error payload.
func (m *Error) Encode() ([]byte, error) {
	return encodeChannelData(m.ChannelID, m.Data)
}

func decodeError(payload []byte) (*Error, error) {
	msg := &Error{}
	if err := decodeChannelData(payload, &msg.ChannelID, &msg.Data); err != nil {
		return nil, fmt.Errorf("error message: %w", err)
	}
	return msg, nil
}

// Warning is the non-fatal sibling of Error: the peer flags a problem but
// the connection may continue.
type Warning struct {
	ChannelID [ChannelIDSize]byte
	Data      []byte
}

// MsgType returns the message's wire type code.
func (m *Warning) MsgType() MessageType { return MsgWarning }

// Encode serializes the warning payload.
func (m *Warning) Encode() ([]byte, error) {
	return encodeChannelData(m.ChannelID, m.Data)
}

func decodeWarning(payload []byte) (*Warning, error) {
	msg := &Warning{}
	if err := decodeChannelData(payload, &msg.ChannelID, &msg.Data); err != nil {
		return nil, fmt.Errorf("warning message: %w", err)
	}
	return msg, nil
}

func encodeChannelData(channelID [ChannelIDSize]byte, data []byte) ([]byte, error) {
	if len(data) > 0xffff {
		return nil, fmt.Errorf("data exceeds 65535 bytes")
	}
	out := make([]byte, 0, ChannelIDSize+2+len(data))
	out = append(out, channelID[:]...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(data)))
	return append(out, data...), nil
}

func decodeChannelData(payload []byte, channelID *[ChannelIDSize]byte, data *[]byte) error {
	if len(payload) < ChannelIDSize {
		return ErrTruncatedMessage
	}
	copy(channelID[:], payload)
	if _, err := readLengthPrefixed(payload[ChannelIDSize:], data); err != nil {
		return err
	}
	return nil
}
