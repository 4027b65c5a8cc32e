// Package crypto implements the cryptographic primitives for the Lightning
// Network peer transport.
//
// This package provides the foundation for lnsocket-go's encrypted transport,
// implementing secp256k1 key management, the ECDH construction used by the
// Brontide handshake, and memory-safe handling of secret material. It follows
// the BOLT #8 specification for all key derivation inputs.
//
// # Core Types
//
// The package defines one core type for key operations:
//
//   - [KeyPair]: secp256k1 key pair used for node identity and for the
//     ephemeral keys consumed by each handshake
//
// # Key Generation and ECDH
//
// Key pairs are generated from a cryptographically secure source, or loaded
// from an existing 32-byte secret:
//
//	// Fresh random identity
//	kp, _ := crypto.GenerateKeyPair()
//
//	// Identity from stored secret material
//	kp, _ := crypto.FromSecretKey(secret)
//
//	// BOLT #8 ECDH: SHA-256 of the compressed shared point
//	secret, _ := crypto.ECDH(kp.Private, peerPub)
//
// Note that the ECDH operation here differs from a raw X-coordinate ECDH:
// BOLT #8 hashes the full compressed representation of the shared point,
// which is what every Lightning implementation interoperates on.
//
// # Secure Memory Handling
//
// Secret keys and derived secrets should be wiped once they are no longer
// needed:
//
//	defer crypto.WipeKeyPair(ephemeral)
//	defer crypto.ZeroBytes(secret[:])
//
// Wiping is best-effort: Go's runtime may have copied the data during stack
// growth or garbage collection, but zeroing the canonical copy still narrows
// the window in which secrets are recoverable from process memory.
package crypto
