package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType is the 2-byte big-endian type code that starts every
// Lightning message.
type MessageType uint16

// Message type codes for the messages this package understands. Anything
// else is surfaced as a [Custom] message.
const (
	MsgWarning MessageType = 1
	MsgInit    MessageType = 16
	MsgError   MessageType = 17
	MsgPing    MessageType = 18
	MsgPong    MessageType = 19
)

// String returns the conventional name of the type code.
func (t MessageType) String() string {
	switch t {
	case MsgWarning:
		return "warning"
	case MsgInit:
		return "init"
	case MsgError:
		return "error"
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(t))
	}
}

var (
	// ErrTruncatedMessage is returned when a message payload ends before
	// a field it promised.
	ErrTruncatedMessage = errors.New("truncated message payload")

	// ErrShortMessage is returned when a message is too short to carry
	// its 2-byte type code.
	ErrShortMessage = errors.New("message shorter than its type code")
)

// Message is a single Lightning wire message. Encode produces the payload
// that follows the type code; the envelope is added by Marshal.
type Message interface {
	MsgType() MessageType
	Encode() ([]byte, error)
}

// CustomDecoder lets callers supply decoders for message types this
// package does not know, for example the commando RPC types. It returns
// the decoded message and true, or false to fall back to the default
// [Custom] representation. A returned error aborts the read.
type CustomDecoder func(msgType MessageType, payload []byte) (Message, bool, error)

// Marshal encodes a message into its full wire form: the big-endian type
// code followed by the payload.
func Marshal(m Message) ([]byte, error) {
	payload, err := m.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %v message: %w", m.MsgType(), err)
	}

	out := make([]byte, 2, 2+len(payload))
	binary.BigEndian.PutUint16(out, uint16(m.MsgType()))
	return append(out, payload...), nil
}

// Unmarshal decodes one full wire message. Types without a known decoder
// are handed to the optional custom decoder, and failing that returned as
// a [Custom] carrying the raw payload; unknown types are never an error,
// matching the protocol's it's-ok-to-be-odd tolerance for messages a peer
// does not understand.
func Unmarshal(b []byte, custom CustomDecoder) (Message, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(b))
	}

	msgType := MessageType(binary.BigEndian.Uint16(b[:2]))
	payload := b[2:]

	var (
		msg     Message
		err     error
		decoded = true
	)
	switch msgType {
	case MsgInit:
		msg, err = decodeInit(payload)
	case MsgPing:
		msg, err = decodePing(payload)
	case MsgPong:
		msg, err = decodePong(payload)
	case MsgError:
		msg, err = decodeError(payload)
	case MsgWarning:
		msg, err = decodeWarning(payload)
	default:
		decoded = false
	}
	if decoded {
		if err != nil {
			return nil, err
		}
		return msg, nil
	}

	if custom != nil {
		msg, ok, err := custom(msgType, payload)
		if err != nil {
			return nil, fmt.Errorf("custom decoder for %v: %w", msgType, err)
		}
		if ok {
			return msg, nil
		}
	}

	return &Custom{Type: msgType, Payload: payload}, nil
}

// Custom carries any message type this package has no dedicated decoder
// for, payload untouched.
type Custom struct {
	Type    MessageType
	Payload []byte
}

// MsgType returns the message's wire type code.
func (c *Custom) MsgType() MessageType { return c.Type }

// Encode returns the raw payload as-is.
func (c *Custom) Encode() ([]byte, error) { return c.Payload, nil }
