package noise

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/opd-ai/lnsocket/crypto"
)

// keyRotationInterval is the number of AEAD operations performed under a
// single key before the key ratchets forward. Both peers count
// independently per direction, so the two directions of a connection
// rotate on their own schedules.
const keyRotationInterval = 1000

// ErrDecryptFailed indicates that an authentication tag did not verify.
// This error is fatal to a connection: the nonce state of the two peers
// can no longer be reconciled, so the connection must be torn down rather
// than retried.
var ErrDecryptFailed = errors.New("message authentication failed")

// CipherState provides ChaCha20-Poly1305 authenticated encryption under a
// rotating 32-byte key and a monotonically increasing 64-bit nonce. A
// single instance serves exactly one direction of one connection.
//
// The zero value is not usable; a key must be installed with
// InitializeKey or InitializeKeyWithSalt first.
type CipherState struct {
	// nonce counts AEAD operations under the current key. It doubles as
	// the rotation counter: when it reaches keyRotationInterval the key
	// ratchets and the counter resets.
	nonce uint64

	// secretKey is the current AEAD key.
	secretKey [32]byte

	// salt seeds each key rotation. It is the final chaining key of the
	// handshake that produced this state, and is itself replaced on
	// every rotation.
	salt [32]byte

	cipher cipher.AEAD
}

// InitializeKey installs a fresh key and resets the nonce to zero.
func (c *CipherState) InitializeKey(key [32]byte) {
	c.secretKey = key
	c.nonce = 0

	// The key is always 32 bytes, so this cannot fail.
	c.cipher, _ = chacha20poly1305.New(c.secretKey[:])
}

// InitializeKeyWithSalt installs a fresh key along with the salt that
// future key rotations will draw on.
func (c *CipherState) InitializeKeyWithSalt(salt, key [32]byte) {
	c.salt = salt
	c.InitializeKey(key)
}

// rotateKey ratchets the cipher forward: the next key and the next salt
// are derived from the current pair, and the nonce resets to zero. The
// outgoing key is wiped as it can decrypt nothing we will ever see again.
func (c *CipherState) rotateKey() {
	var (
		info    []byte
		nextKey [32]byte
	)

	oldKey := c.secretKey
	h := hkdf.New(sha256.New, oldKey[:], c.salt[:], info)

	// salt' and key' are the two 32-byte outputs of HKDF(salt, key).
	_, _ = io.ReadFull(h, c.salt[:])
	_, _ = io.ReadFull(h, nextKey[:])

	c.InitializeKey(nextKey)

	crypto.ZeroBytes(oldKey[:])
	crypto.ZeroBytes(nextKey[:])
}

// Encrypt seals plainText under the current key and nonce, observing the
// passed associatedData, and appends the result to cipherText. The nonce
// is then advanced, rotating the key if its budget is spent.
func (c *CipherState) Encrypt(associatedData, cipherText, plainText []byte) []byte {
	defer func() {
		c.nonce++

		if c.nonce == keyRotationInterval {
			c.rotateKey()
		}
	}()

	var nonce [12]byte
	binary.LittleEndian.PutUint64(nonce[4:], c.nonce)

	return c.cipher.Seal(cipherText, nonce[:], plainText, associatedData)
}

// Decrypt opens cipherText under the current key and nonce, observing the
// passed associatedData, and appends the plaintext to plainText. Only a
// successful decryption advances the nonce; a tag mismatch returns
// ErrDecryptFailed and leaves the state untouched, though by then the
// connection is unrecoverable anyway.
func (c *CipherState) Decrypt(associatedData, plainText, cipherText []byte) ([]byte, error) {
	var nonce [12]byte
	binary.LittleEndian.PutUint64(nonce[4:], c.nonce)

	plain, err := c.cipher.Open(plainText, nonce[:], cipherText, associatedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	c.nonce++

	if c.nonce == keyRotationInterval {
		c.rotateKey()
	}

	return plain, nil
}

// Wipe overwrites the key material held by the cipher state. The state
// must not be used afterwards.
func (c *CipherState) Wipe() {
	crypto.ZeroBytes(c.secretKey[:])
	crypto.ZeroBytes(c.salt[:])
	c.cipher = nil
	c.nonce = 0
}
