package crypto

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/sirupsen/logrus"
)

// SecretKeySize is the size of a serialized secp256k1 secret key in bytes.
const SecretKeySize = 32

// PubKeySize is the size of a compressed secp256k1 public key in bytes.
const PubKeySize = 33

var (
	// ErrInvalidSecretKey is returned when 32 bytes of supplied key
	// material do not form a valid secp256k1 scalar.
	ErrInvalidSecretKey = errors.New("secret key is not a valid secp256k1 scalar")

	// ErrInvalidPublicKey is returned when key material cannot be parsed
	// as a compressed secp256k1 point.
	ErrInvalidPublicKey = errors.New("public key is not a valid secp256k1 point")
)

// KeyPair represents a secp256k1 key pair. It is used both for long-lived
// node identities and for the single-use ephemeral keys generated during
// each handshake.
type KeyPair struct {
	Private *btcec.PrivateKey
	Public  *btcec.PublicKey
}

// GenerateKeyPair creates a new random secp256k1 key pair using a
// cryptographically secure random number generator.
func GenerateKeyPair() (*KeyPair, error) {
	logrus.WithFields(logrus.Fields{
		"function": "GenerateKeyPair",
	}).Debug("Generating new secp256k1 key pair")

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "GenerateKeyPair",
			"error":    err.Error(),
		}).Error("Key generation failed")
		return nil, fmt.Errorf("failed to generate secret key: %w", err)
	}

	kp := &KeyPair{
		Private: priv,
		Public:  priv.PubKey(),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "GenerateKeyPair",
		"pubkey_hex": fmt.Sprintf("%x", kp.Public.SerializeCompressed()[:8]),
	}).Debug("Key pair generated successfully")

	return kp, nil
}

// FromSecretKey creates a key pair from an existing 32-byte secret key.
// The secret must be a valid scalar for the secp256k1 group: values of
// zero or at least the group order are rejected rather than reduced.
func FromSecretKey(secret [SecretKeySize]byte) (*KeyPair, error) {
	var scalar btcec.ModNScalar
	overflow := scalar.SetByteSlice(secret[:])
	if overflow || scalar.IsZero() {
		scalar.Zero()
		logrus.WithFields(logrus.Fields{
			"function": "FromSecretKey",
		}).Error("Rejected secret key outside the valid scalar range")
		return nil, ErrInvalidSecretKey
	}
	scalar.Zero()

	priv, _ := btcec.PrivKeyFromBytes(secret[:])

	kp := &KeyPair{
		Private: priv,
		Public:  priv.PubKey(),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "FromSecretKey",
		"pubkey_hex": fmt.Sprintf("%x", kp.Public.SerializeCompressed()[:8]),
	}).Debug("Key pair loaded from existing secret")

	return kp, nil
}

// ParsePublicKey parses a 33-byte compressed secp256k1 public key. It
// rejects uncompressed and hybrid encodings as well as points that are
// not on the curve.
func ParsePublicKey(data []byte) (*btcec.PublicKey, error) {
	if len(data) != PubKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d",
			ErrInvalidPublicKey, len(data), PubKeySize)
	}

	// Compressed encodings begin with 0x02 or 0x03. ParsePubKey would
	// also accept 33-byte hybrid forms, so the prefix is checked first.
	if data[0] != 0x02 && data[0] != 0x03 {
		return nil, fmt.Errorf("%w: invalid prefix 0x%02x",
			ErrInvalidPublicKey, data[0])
	}

	pub, err := btcec.ParsePubKey(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "ParsePublicKey",
			"key_prefix": fmt.Sprintf("%x", data[:4]),
			"error":      err.Error(),
		}).Debug("Public key failed to parse")
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	return pub, nil
}

// PubKeyBytes returns the compressed serialization of the key pair's
// public key as a fixed-size array.
func (kp *KeyPair) PubKeyBytes() [PubKeySize]byte {
	var out [PubKeySize]byte
	copy(out[:], kp.Public.SerializeCompressed())
	return out
}
