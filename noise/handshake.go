package noise

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/hkdf"

	"github.com/opd-ai/lnsocket/crypto"
)

const (
	// protocolName is the ASCII name of the Noise protocol instance the
	// handshake executes, hashed into the transcript before anything
	// else. Both peers must agree on it byte for byte.
	protocolName = "Noise_XK_secp256k1_ChaChaPoly_SHA256"

	// prologue is mixed into the transcript immediately after the
	// protocol name, binding the handshake to the Lightning Network.
	prologue = "lightning"

	// HandshakeVersion is the single version byte prepended to every
	// act. Any other value must abort the handshake.
	HandshakeVersion = 0x00

	// ActOneSize is the wire size of act one: version byte, compressed
	// ephemeral public key, and authentication tag.
	ActOneSize = 1 + 33 + 16

	// ActTwoSize is the wire size of act two, which mirrors act one in
	// the opposite direction.
	ActTwoSize = 1 + 33 + 16

	// ActThreeSize is the wire size of act three: version byte, the
	// encrypted compressed static key with its tag, and a final tag
	// over the whole transcript.
	ActThreeSize = 1 + 33 + 16 + 16
)

var (
	// ErrUnsupportedVersion indicates an act carried a version byte
	// other than HandshakeVersion.
	ErrUnsupportedVersion = errors.New("unsupported handshake version")

	// ErrAuthenticationFailed indicates an authentication tag in one of
	// the acts did not verify. The peer either holds different keys
	// than expected or the act was tampered with in flight.
	ErrAuthenticationFailed = errors.New("handshake authentication failed")

	// ErrMalformedFrame indicates a frame of the right length whose
	// contents could not be interpreted, such as bytes that do not
	// encode a curve point.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrPeerClosed indicates the remote peer closed the stream before
	// the handshake finished.
	ErrPeerClosed = errors.New("peer closed connection during handshake")

	// ErrHandshakeNotComplete indicates session keys were requested
	// before the handshake finished.
	ErrHandshakeNotComplete = errors.New("handshake not complete")

	// ErrHandshakeComplete indicates a handshake act was attempted on a
	// machine that already finished.
	ErrHandshakeComplete = errors.New("handshake already complete")

	// ErrInvalidState indicates an operation that does not belong to
	// the machine's current phase or role, including any use of a
	// machine that previously failed.
	ErrInvalidState = errors.New("operation not valid in current handshake state")
)

// HandshakeRole defines whether we initiate the handshake or respond to one.
type HandshakeRole uint8

const (
	// Initiator starts the handshake and must know the responder's
	// static public key in advance.
	Initiator HandshakeRole = iota

	// Responder answers a handshake and learns the initiator's static
	// public key in act three.
	Responder
)

// String returns the lowercase name of the role.
func (r HandshakeRole) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// handshakePhase tracks which act the machine expects next. Failure is
// absorbing: once failed, every operation returns ErrInvalidState.
type handshakePhase uint8

const (
	phaseActOne handshakePhase = iota
	phaseActTwo
	phaseActThree
	phaseComplete
	phaseConsumed
	phaseFailed
)

// EphemeralGenerator produces the single-use ephemeral key pair consumed
// by a handshake. The default draws from crypto/rand; tests substitute
// deterministic generators to reproduce published transcripts.
type EphemeralGenerator func() (*crypto.KeyPair, error)

// Option customizes an XKHandshake at construction time.
type Option func(*XKHandshake)

// WithEphemeralGenerator overrides the source of ephemeral handshake keys.
func WithEphemeralGenerator(gen EphemeralGenerator) Option {
	return func(hs *XKHandshake) {
		hs.ephemeralGen = gen
	}
}

// XKHandshake implements the Noise XK pattern over secp256k1 as used for
// transport encryption on the Lightning Network (BOLT #8). XK provides
// mutual authentication with identity hiding for the initiator: the
// responder's static key is known to the initiator up front and never
// crosses the wire, while the initiator's static key crosses only
// encrypted, in act three.
//
// The machine is driven act by act. An initiator calls GenActOne,
// RecvActTwo, then GenActThree; a responder calls RecvActOne, GenActTwo,
// then RecvActThree. Acts must be invoked in exactly that order. Any
// protocol failure poisons the machine permanently, and a fresh handshake
// with fresh ephemeral keys is the only retry path.
type XKHandshake struct {
	symmetricState

	role  HandshakeRole
	phase handshakePhase

	localStatic     *crypto.KeyPair
	localEphemeral  *crypto.KeyPair
	remoteStatic    *btcec.PublicKey
	remoteEphemeral *btcec.PublicKey

	ephemeralGen EphemeralGenerator

	sendCipher CipherState
	recvCipher CipherState
}

// NewXKHandshake creates a handshake machine for one connection attempt.
// localStatic is our long-lived identity key. remoteStatic is the peer's
// identity key: the initiator must supply it, the responder must pass nil
// since it learns the initiator's identity during act three.
func NewXKHandshake(role HandshakeRole, localStatic *crypto.KeyPair,
	remoteStatic *btcec.PublicKey, opts ...Option) (*XKHandshake, error) {

	if localStatic == nil || localStatic.Private == nil || localStatic.Public == nil {
		return nil, errors.New("local static key pair is required")
	}

	if role == Initiator && remoteStatic == nil {
		return nil, errors.New("initiator requires the responder's static public key")
	}

	if role == Responder && remoteStatic != nil {
		return nil, errors.New("responder learns the remote static key in act three, must not pin one")
	}

	hs := &XKHandshake{
		role:         role,
		phase:        phaseActOne,
		localStatic:  localStatic,
		remoteStatic: remoteStatic,
		ephemeralGen: crypto.GenerateKeyPair,
	}

	for _, opt := range opts {
		opt(hs)
	}

	hs.initializeSymmetric([]byte(protocolName))
	hs.mixHash([]byte(prologue))

	// Both sides bind the transcript to the responder's static key, the
	// one key that is known out of band.
	if role == Initiator {
		hs.mixHash(remoteStatic.SerializeCompressed())
	} else {
		hs.mixHash(localStatic.Public.SerializeCompressed())
	}

	return hs, nil
}

// expect verifies that the machine is in the right phase for an act
// executed by the given role.
func (hs *XKHandshake) expect(role HandshakeRole, phase handshakePhase) error {
	switch {
	case hs.phase == phaseFailed:
		return fmt.Errorf("%w: handshake already failed", ErrInvalidState)
	case hs.phase == phaseComplete || hs.phase == phaseConsumed:
		return ErrHandshakeComplete
	case hs.role != role:
		return fmt.Errorf("%w: act belongs to the %s", ErrInvalidState, role)
	case hs.phase != phase:
		return fmt.Errorf("%w: expected act %d next", ErrInvalidState, hs.phase+1)
	}
	return nil
}

// fail transitions the machine into its absorbing failure state and
// passes the causing error through.
func (hs *XKHandshake) fail(err error) error {
	hs.phase = phaseFailed
	return err
}

// GenActOne produces act one. The initiator commits a fresh ephemeral key
// to the transcript and proves, via the tag, that it performed a DH
// against the responder's static key.
func (hs *XKHandshake) GenActOne() ([ActOneSize]byte, error) {
	var actOne [ActOneSize]byte

	if err := hs.expect(Initiator, phaseActOne); err != nil {
		return actOne, err
	}

	e, err := hs.ephemeralGen()
	if err != nil {
		return actOne, hs.fail(fmt.Errorf("failed to generate ephemeral key: %w", err))
	}
	hs.localEphemeral = e

	ephemeral := e.Public.SerializeCompressed()
	hs.mixHash(ephemeral)

	es, err := crypto.ECDH(e.Private, hs.remoteStatic)
	if err != nil {
		return actOne, hs.fail(fmt.Errorf("act one ecdh: %w", err))
	}
	hs.mixKey(es[:])
	crypto.ZeroBytes(es[:])

	authPayload := hs.encryptAndHash(nil)

	actOne[0] = HandshakeVersion
	copy(actOne[1:34], ephemeral)
	copy(actOne[34:], authPayload)

	hs.phase = phaseActTwo
	return actOne, nil
}

// RecvActOne processes act one on the responder side, verifying that the
// initiator targeted our static key.
func (hs *XKHandshake) RecvActOne(actOne [ActOneSize]byte) error {
	if err := hs.expect(Responder, phaseActOne); err != nil {
		return err
	}

	if actOne[0] != HandshakeVersion {
		return hs.fail(fmt.Errorf("%w: act one version %d", ErrUnsupportedVersion, actOne[0]))
	}

	re, err := crypto.ParsePublicKey(actOne[1:34])
	if err != nil {
		return hs.fail(fmt.Errorf("%w: act one ephemeral key: %v", ErrMalformedFrame, err))
	}
	hs.remoteEphemeral = re

	hs.mixHash(re.SerializeCompressed())

	es, err := crypto.ECDH(hs.localStatic.Private, re)
	if err != nil {
		return hs.fail(fmt.Errorf("act one ecdh: %w", err))
	}
	hs.mixKey(es[:])
	crypto.ZeroBytes(es[:])

	if _, err := hs.decryptAndHash(actOne[34:]); err != nil {
		return hs.fail(fmt.Errorf("%w: act one tag: %v", ErrAuthenticationFailed, err))
	}

	hs.phase = phaseActTwo
	return nil
}

// GenActTwo produces act two. The responder commits its own ephemeral key
// and folds the ephemeral-ephemeral DH into the transcript.
func (hs *XKHandshake) GenActTwo() ([ActTwoSize]byte, error) {
	var actTwo [ActTwoSize]byte

	if err := hs.expect(Responder, phaseActTwo); err != nil {
		return actTwo, err
	}

	e, err := hs.ephemeralGen()
	if err != nil {
		return actTwo, hs.fail(fmt.Errorf("failed to generate ephemeral key: %w", err))
	}
	hs.localEphemeral = e

	ephemeral := e.Public.SerializeCompressed()
	hs.mixHash(ephemeral)

	ee, err := crypto.ECDH(e.Private, hs.remoteEphemeral)
	if err != nil {
		return actTwo, hs.fail(fmt.Errorf("act two ecdh: %w", err))
	}
	hs.mixKey(ee[:])
	crypto.ZeroBytes(ee[:])

	authPayload := hs.encryptAndHash(nil)

	actTwo[0] = HandshakeVersion
	copy(actTwo[1:34], ephemeral)
	copy(actTwo[34:], authPayload)

	hs.phase = phaseActThree
	return actTwo, nil
}

// RecvActTwo processes act two on the initiator side.
func (hs *XKHandshake) RecvActTwo(actTwo [ActTwoSize]byte) error {
	if err := hs.expect(Initiator, phaseActTwo); err != nil {
		return err
	}

	if actTwo[0] != HandshakeVersion {
		return hs.fail(fmt.Errorf("%w: act two version %d", ErrUnsupportedVersion, actTwo[0]))
	}

	re, err := crypto.ParsePublicKey(actTwo[1:34])
	if err != nil {
		return hs.fail(fmt.Errorf("%w: act two ephemeral key: %v", ErrMalformedFrame, err))
	}
	hs.remoteEphemeral = re

	hs.mixHash(re.SerializeCompressed())

	ee, err := crypto.ECDH(hs.localEphemeral.Private, re)
	if err != nil {
		return hs.fail(fmt.Errorf("act two ecdh: %w", err))
	}
	hs.mixKey(ee[:])
	crypto.ZeroBytes(ee[:])

	if _, err := hs.decryptAndHash(actTwo[34:]); err != nil {
		return hs.fail(fmt.Errorf("%w: act two tag: %v", ErrAuthenticationFailed, err))
	}

	hs.phase = phaseActThree
	return nil
}

// GenActThree produces act three and completes the handshake on the
// initiator side. Our static key crosses the wire here, encrypted to the
// transcript, followed by a final tag that commits the whole exchange.
func (hs *XKHandshake) GenActThree() ([ActThreeSize]byte, error) {
	var actThree [ActThreeSize]byte

	if err := hs.expect(Initiator, phaseActThree); err != nil {
		return actThree, err
	}

	ourPubkey := hs.localStatic.Public.SerializeCompressed()
	ciphertext := hs.encryptAndHash(ourPubkey)

	se, err := crypto.ECDH(hs.localStatic.Private, hs.remoteEphemeral)
	if err != nil {
		return actThree, hs.fail(fmt.Errorf("act three ecdh: %w", err))
	}
	hs.mixKey(se[:])
	crypto.ZeroBytes(se[:])

	authPayload := hs.encryptAndHash(nil)

	actThree[0] = HandshakeVersion
	copy(actThree[1:50], ciphertext)
	copy(actThree[50:], authPayload)

	hs.split()
	hs.phase = phaseComplete
	return actThree, nil
}

// RecvActThree processes act three on the responder side, learning and
// authenticating the initiator's static key, and completes the handshake.
func (hs *XKHandshake) RecvActThree(actThree [ActThreeSize]byte) error {
	if err := hs.expect(Responder, phaseActThree); err != nil {
		return err
	}

	if actThree[0] != HandshakeVersion {
		return hs.fail(fmt.Errorf("%w: act three version %d", ErrUnsupportedVersion, actThree[0]))
	}

	plaintext, err := hs.decryptAndHash(actThree[1:50])
	if err != nil {
		return hs.fail(fmt.Errorf("%w: act three static key: %v", ErrAuthenticationFailed, err))
	}

	remoteStatic, err := crypto.ParsePublicKey(plaintext)
	if err != nil {
		return hs.fail(fmt.Errorf("%w: act three static key: %v", ErrMalformedFrame, err))
	}
	hs.remoteStatic = remoteStatic

	se, err := crypto.ECDH(hs.localEphemeral.Private, remoteStatic)
	if err != nil {
		return hs.fail(fmt.Errorf("act three ecdh: %w", err))
	}
	hs.mixKey(se[:])
	crypto.ZeroBytes(se[:])

	if _, err := hs.decryptAndHash(actThree[50:]); err != nil {
		return hs.fail(fmt.Errorf("%w: act three tag: %v", ErrAuthenticationFailed, err))
	}

	hs.split()
	hs.phase = phaseComplete
	return nil
}

// split performs the final derivation, turning the chaining key into the
// two directional session keys. The first 32 bytes of output always key
// the initiator-to-responder direction, so the two peers assign them to
// opposite cipher states. The final chaining key rides along as the salt
// for future key rotations.
func (hs *XKHandshake) split() {
	var (
		empty            []byte
		sendKey, recvKey [32]byte
	)

	h := hkdf.New(sha256.New, empty, hs.chainingKey[:], empty)

	if hs.role == Initiator {
		_, _ = io.ReadFull(h, sendKey[:])
		_, _ = io.ReadFull(h, recvKey[:])
	} else {
		_, _ = io.ReadFull(h, recvKey[:])
		_, _ = io.ReadFull(h, sendKey[:])
	}

	hs.sendCipher = CipherState{}
	hs.sendCipher.InitializeKeyWithSalt(hs.chainingKey, sendKey)

	hs.recvCipher = CipherState{}
	hs.recvCipher.InitializeKeyWithSalt(hs.chainingKey, recvKey)

	crypto.ZeroBytes(sendKey[:])
	crypto.ZeroBytes(recvKey[:])

	// The ephemeral key is single-use and the temporary act key is
	// spent; neither survives the handshake.
	_ = crypto.WipeKeyPair(hs.localEphemeral)
	crypto.ZeroBytes(hs.tempKey[:])
}

// IsComplete returns true once the handshake has finished and session
// keys are available.
func (hs *XKHandshake) IsComplete() bool {
	return hs.phase == phaseComplete || hs.phase == phaseConsumed
}

// GetSessionKeys consumes the machine, handing the derived directional
// cipher states and the final transcript hash to the caller. It can be
// called exactly once; the machine retains no usable key material
// afterwards.
func (hs *XKHandshake) GetSessionKeys() (*SessionKeys, error) {
	switch hs.phase {
	case phaseConsumed:
		return nil, fmt.Errorf("%w: session keys already taken", ErrInvalidState)
	case phaseComplete:
	default:
		return nil, ErrHandshakeNotComplete
	}

	keys := &SessionKeys{
		send:          hs.sendCipher,
		recv:          hs.recvCipher,
		handshakeHash: hs.handshakeDigest,
	}

	hs.sendCipher.Wipe()
	hs.recvCipher.Wipe()
	crypto.ZeroBytes(hs.chainingKey[:])

	hs.phase = phaseConsumed
	return keys, nil
}

// GetRemoteStaticKey returns the peer's long-lived identity key. For the
// responder this is only known once act three has been processed.
func (hs *XKHandshake) GetRemoteStaticKey() (*btcec.PublicKey, error) {
	if hs.remoteStatic == nil {
		return nil, ErrHandshakeNotComplete
	}
	return hs.remoteStatic, nil
}

// GetLocalStaticKey returns our own identity public key.
func (hs *XKHandshake) GetLocalStaticKey() *btcec.PublicKey {
	return hs.localStatic.Public
}
