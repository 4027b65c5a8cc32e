// Package noise implements the Noise_XK handshake and the encrypted
// message framing used for transport connections between Lightning
// Network peers, as specified by BOLT #8.
//
// The package has two halves. The handshake half runs a three-act
// Noise_XK exchange over secp256k1 that mutually authenticates the two
// peers and derives one 32-byte key per direction. The framing half then
// carries application messages under those keys: every message is
// prefixed by an encrypted 2-byte length, both length and body carry
// their own authentication tag, and each direction ratchets to a fresh
// key after every 1000 AEAD operations.
//
// # Handshake
//
// The initiator must know the responder's static public key out of band;
// that key never crosses the wire. The initiator's own identity travels
// encrypted inside act three, so a passive observer learns neither party.
//
//	initiator, _ := noise.NewXKHandshake(noise.Initiator, ourKeys, peerPub)
//	responder, _ := noise.NewXKHandshake(noise.Responder, peerKeys, nil)
//
//	actOne, _ := initiator.GenActOne()
//	_ = responder.RecvActOne(actOne)
//
//	actTwo, _ := responder.GenActTwo()
//	_ = initiator.RecvActTwo(actTwo)
//
//	actThree, _ := initiator.GenActThree()
//	_ = responder.RecvActThree(actThree)
//
// Acts are fixed-size byte arrays (50, 50 and 66 bytes) so callers can
// read them from a stream with exact-length reads. Any verification
// failure permanently poisons the machine; retrying requires a new
// machine and therefore fresh ephemeral keys.
//
// # Session keys and framing
//
// A completed machine is consumed into a [SessionKeys] value holding the
// two directional cipher states:
//
//	keys, _ := initiator.GetSessionKeys()
//
//	wire, _ := keys.EncryptMessage([]byte("hello"))
//	// write wire to the stream...
//
//	// ...and on the receiving side:
//	var hdr [noise.LengthHeaderSize]byte
//	// fill hdr with an exact-length read, then:
//	bodyLen, _ := keys.DecryptHeader(hdr)
//	// read bodyLen+noise.MacSize bytes, then:
//	msg, _ := keys.DecryptBody(body)
//
// A failed decryption is fatal to the connection. The nonce sequences on
// the two sides can no longer be reconciled, so the only safe reaction is
// to tear the connection down.
//
// # Concurrency
//
// A handshake machine and each individual cipher state are single-caller
// values. The send and receive directions of one session are fully
// independent and may be used concurrently with each other, but multiple
// writers on one direction must serialize externally to preserve the
// encrypt-then-transmit nonce ordering.
package noise
