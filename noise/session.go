package noise

import (
	"github.com/opd-ai/lnsocket/crypto"
)

// SessionKeys holds the post-handshake state of one connection: a cipher
// state for each direction plus the final transcript hash. The two
// directions never share key material and may be driven from separate
// goroutines, though each individual direction requires external
// serialization if multiple goroutines use it.
type SessionKeys struct {
	send CipherState
	recv CipherState

	handshakeHash [32]byte
}

// HandshakeHash returns the final transcript hash of the handshake that
// produced these keys. It uniquely identifies the session and is suitable
// as a channel-binding value for protocols layered on top.
func (sk *SessionKeys) HandshakeHash() [32]byte {
	return sk.handshakeHash
}

// Wipe overwrites all key material held by the session. The session must
// not be used afterwards.
func (sk *SessionKeys) Wipe() {
	sk.send.Wipe()
	sk.recv.Wipe()
	crypto.ZeroBytes(sk.handshakeHash[:])
}
