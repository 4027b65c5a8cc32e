package wire

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ChainHashSize is the size of a chain hash identifying a blockchain in
// the init message's networks record.
const ChainHashSize = 32

// networksTLVType is the TLV record type carrying the list of chains a
// node is interested in.
const networksTLVType = 1

// BitcoinChainHash identifies the Bitcoin mainnet chain; it is the
// genesis block hash in the byte order the Lightning protocol uses.
var BitcoinChainHash = mustChainHash(
	"6fe28c0ab6f1b372c1a6a246ae63f74f931e8365e15a089c68d6190000000000")

func mustChainHash(s string) (h [ChainHashSize]byte) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != ChainHashSize {
		panic("invalid chain hash constant")
	}
	copy(h[:], b)
	return h
}

// Init is the first message each peer sends on a fresh connection,
// advertising its feature bits and the chains it operates on.
type Init struct {
	GlobalFeatures []byte
	Features       []byte

	// Networks holds the chain hashes from the networks TLV record, if
	// the peer sent one.
	Networks [][ChainHashSize]byte
}

// NewInit builds the init message this library sends by default: empty
// feature vectors, Bitcoin mainnet only. A minimal client sets no feature
// bits of its own and relies on the peer tolerating that.
func NewInit() *Init {
	return &Init{
		GlobalFeatures: make([]byte, 0),
		Features:       make([]byte, 0),
		Networks:       [][ChainHashSize]byte{BitcoinChainHash},
	}
}

// MsgType returns the message's wire type code.
func (m *Init) MsgType() MessageType { return MsgInit }

// Encode serializes the init payload: both length-prefixed feature
// vectors followed by the TLV stream with the networks record.
func (m *Init) Encode() ([]byte, error) {
	if len(m.GlobalFeatures) > 0xffff || len(m.Features) > 0xffff {
		return nil, fmt.Errorf("feature vector exceeds 65535 bytes")
	}

	out := make([]byte, 0, 4+len(m.GlobalFeatures)+len(m.Features))

	out = binary.BigEndian.AppendUint16(out, uint16(len(m.GlobalFeatures)))
	out = append(out, m.GlobalFeatures...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(m.Features)))
	out = append(out, m.Features...)

	if len(m.Networks) > 0 {
		out = appendBigSize(out, networksTLVType)
		out = appendBigSize(out, uint64(len(m.Networks)*ChainHashSize))
		for _, chain := range m.Networks {
			out = append(out, chain[:]...)
		}
	}

	return out, nil
}

func decodeInit(payload []byte) (*Init, error) {
	msg := &Init{}

	rest, err := readLengthPrefixed(payload, &msg.GlobalFeatures)
	if err != nil {
		return nil, fmt.Errorf("init global features: %w", err)
	}
	rest, err = readLengthPrefixed(rest, &msg.Features)
	if err != nil {
		return nil, fmt.Errorf("init features: %w", err)
	}

	// The remainder is a TLV stream. Records must appear in strictly
	// ascending type order, but a lenient read that just skips unknown
	// records is all a client needs.
	for len(rest) > 0 {
		recType, afterType, err := readBigSize(rest)
		if err != nil {
			return nil, fmt.Errorf("init tlv type: %w", err)
		}
		recLen, afterLen, err := readBigSize(afterType)
		if err != nil {
			return nil, fmt.Errorf("init tlv length: %w", err)
		}
		if uint64(len(afterLen)) < recLen {
			return nil, fmt.Errorf("%w: tlv record of %d bytes", ErrTruncatedMessage, recLen)
		}
		value := afterLen[:recLen]
		rest = afterLen[recLen:]

		if recType != networksTLVType {
			continue
		}
		if recLen%ChainHashSize != 0 {
			return nil, fmt.Errorf("init networks record of %d bytes is not a multiple of %d",
				recLen, ChainHashSize)
		}
		for off := 0; off < len(value); off += ChainHashSize {
			var chain [ChainHashSize]byte
			copy(chain[:], value[off:])
			msg.Networks = append(msg.Networks, chain)
		}
	}

	return msg, nil
}

// readLengthPrefixed reads a u16 big-endian length followed by that many
// bytes into dst, returning the remainder.
func readLengthPrefixed(b []byte, dst *[]byte) ([]byte, error) {
	if len(b) < 2 {
		return nil, ErrTruncatedMessage
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return nil, ErrTruncatedMessage
	}
	// A zero-length field decodes as an empty, non-nil slice so that a
	// decoded Init compares equal to one built with empty vectors.
	*dst = make([]byte, n)
	copy(*dst, b[:n])
	return b[n:], nil
}

// appendBigSize appends v in the protocol's variable-length integer
// encoding, which uses the minimal representation for each value.
func appendBigSize(out []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(out, byte(v))
	case v <= 0xffff:
		out = append(out, 0xfd)
		return binary.BigEndian.AppendUint16(out, uint16(v))
	case v <= 0xffffffff:
		out = append(out, 0xfe)
		return binary.BigEndian.AppendUint32(out, uint32(v))
	default:
		out = append(out, 0xff)
		return binary.BigEndian.AppendUint64(out, v)
	}
}

// readBigSize reads one variable-length integer, returning the value and
// the remainder.
func readBigSize(b []byte) (uint64, []byte, error) {
	if len(b) == 0 {
		return 0, nil, ErrTruncatedMessage
	}
	switch b[0] {
	case 0xfd:
		if len(b) < 3 {
			return 0, nil, ErrTruncatedMessage
		}
		return uint64(binary.BigEndian.Uint16(b[1:3])), b[3:], nil
	case 0xfe:
		if len(b) < 5 {
			return 0, nil, ErrTruncatedMessage
		}
		return uint64(binary.BigEndian.Uint32(b[1:5])), b[5:], nil
	case 0xff:
		if len(b) < 9 {
			return 0, nil, ErrTruncatedMessage
		}
		return binary.BigEndian.Uint64(b[1:9]), b[9:], nil
	default:
		return uint64(b[0]), b[1:], nil
	}
}
