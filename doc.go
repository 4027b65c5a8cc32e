// Package lnsocket implements a minimal client for the Lightning Network
// peer-to-peer transport: the encrypted, mutually authenticated session
// every Lightning node speaks, without any of the channel machinery.
//
// A [Socket] is one live session. It is built from three layers, each
// usable on its own:
//
//   - package noise: the three-act handshake, the rotating per-direction
//     cipher states, and the encrypted message framing
//   - package transport: the handshake and framing bound to real network
//     streams, with dial/listen helpers
//   - package wire: the init, ping/pong, error and warning messages, plus
//     passthrough for everything else
//
// The typical client path dials a node, runs the handshake and the
// mandatory init exchange, and is then free to exchange messages:
//
//	keys, _ := crypto.GenerateKeyPair()
//	sock, err := lnsocket.ConnectAndInit(ctx, keys, nodePub,
//		"ln.example.com:9735", nil)
//	if err != nil {
//		return err
//	}
//	defer sock.Close()
//
//	_ = sock.Ping(16)
//	msg, err := sock.ReadMessage() // *wire.Pong
//
// Incoming pings are answered automatically unless disabled via
// [Options], so a connection stays alive while a caller is only
// interested in its own traffic. The commando package layers a JSON-RPC
// client for Core Lightning's commando plugin on top of a Socket.
package lnsocket
