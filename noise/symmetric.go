package noise

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// symmetricState extends a cipher state with the handshake transcript: the
// running digest h that commits to every byte exchanged so far, and the
// chaining key ck that every derived key ratchets from. mixHash and mixKey
// are the only operations that mutate the transcript, and the handshake
// acts invoke them in a fixed order that both peers must follow exactly
// for their transcripts to converge.
type symmetricState struct {
	CipherState

	chainingKey     [32]byte
	tempKey         [32]byte
	handshakeDigest [32]byte
}

// initializeSymmetric seeds the transcript from the protocol name. The
// name is longer than a hash output, so it is hashed rather than padded.
func (s *symmetricState) initializeSymmetric(protocolName []byte) {
	s.handshakeDigest = sha256.Sum256(protocolName)
	s.chainingKey = s.handshakeDigest
	s.InitializeKey([32]byte{})
}

// mixKey ratchets the chaining key with fresh input key material (a DH
// result) and installs the derived temporary key into the embedded cipher
// state, resetting its nonce for the next act.
func (s *symmetricState) mixKey(input []byte) {
	var info []byte

	h := hkdf.New(sha256.New, input, s.chainingKey[:], info)

	// ck' and the act's temporary key are the two 32-byte outputs of
	// HKDF(ck, input).
	_, _ = io.ReadFull(h, s.chainingKey[:])
	_, _ = io.ReadFull(h, s.tempKey[:])

	s.InitializeKey(s.tempKey)
}

// mixHash folds data into the running handshake digest.
func (s *symmetricState) mixHash(data []byte) {
	h := sha256.New()
	h.Write(s.handshakeDigest[:])
	h.Write(data)

	copy(s.handshakeDigest[:], h.Sum(nil))
}

// encryptAndHash seals plaintext with the current temporary key, binding
// it to the transcript so far, then commits the ciphertext to the
// transcript as well.
func (s *symmetricState) encryptAndHash(plaintext []byte) []byte {
	ciphertext := s.Encrypt(s.handshakeDigest[:], nil, plaintext)
	s.mixHash(ciphertext)

	return ciphertext
}

// decryptAndHash opens ciphertext against the transcript so far. The
// ciphertext is only committed to the transcript once its tag verifies,
// leaving the state unchanged on failure.
func (s *symmetricState) decryptAndHash(ciphertext []byte) ([]byte, error) {
	plaintext, err := s.Decrypt(s.handshakeDigest[:], nil, ciphertext)
	if err != nil {
		return nil, err
	}

	s.mixHash(ciphertext)

	return plaintext, nil
}
