package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/sirupsen/logrus"
)

// ErrPointAtInfinity is returned when an ECDH operation produces the point
// at infinity, which has no serializable representation.
var ErrPointAtInfinity = errors.New("ecdh produced the point at infinity")

// ECDH performs the BOLT #8 Elliptic Curve Diffie-Hellman operation: the
// shared point priv*pub is computed and the SHA-256 digest of its
// compressed serialization is returned.
//
// Hashing the compressed point rather than taking the raw X coordinate is
// what the Lightning Network handshake requires; the two constructions are
// not interchangeable.
func ECDH(priv *btcec.PrivateKey, pub *btcec.PublicKey) ([32]byte, error) {
	if priv == nil || pub == nil {
		return [32]byte{}, errors.New("ecdh requires both a private and a public key")
	}

	logrus.WithFields(logrus.Fields{
		"function":        "ECDH",
		"peer_key_prefix": fmt.Sprintf("%x", pub.SerializeCompressed()[:8]),
	}).Debug("Computing shared secret")

	var (
		point  btcec.JacobianPoint
		shared btcec.JacobianPoint
	)
	pub.AsJacobian(&point)
	btcec.ScalarMultNonConst(&priv.Key, &point, &shared)
	shared.ToAffine()

	// A valid scalar times a valid point cannot land on the identity, but
	// the serialization below has no representation for it, so check.
	if shared.X.IsZero() && shared.Y.IsZero() {
		return [32]byte{}, ErrPointAtInfinity
	}

	sharedPub := btcec.NewPublicKey(&shared.X, &shared.Y)

	compressed := sharedPub.SerializeCompressed()
	digest := sha256.Sum256(compressed)

	// The compressed point is itself secret material.
	ZeroBytes(compressed)

	logrus.WithFields(logrus.Fields{
		"function": "ECDH",
	}).Debug("Shared secret computed")

	return digest, nil
}
