// Package transport connects the noise package's handshake and framing
// to real network streams.
//
// A [Conn] wraps any net.Conn (normally TCP) with the three-act transport
// handshake and the encrypted message framing, exposing both message
// semantics (WriteMessage/ReadNextMessage) and a net.Conn byte-stream
// view for code that expects one. [Dial] and [Listener] cover the common
// client and server paths; [ClientHandshake] and [ServerHandshake] run
// the handshake over a stream the caller already owns, which is also how
// the tests drive both ends over an in-memory pipe.
//
//	conn, err := transport.Dial(ctx, ourKeys, peerPub, "ln.example.com:9735")
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	if err := conn.WriteMessage(msg); err != nil {
//		return err
//	}
//	reply, err := conn.ReadNextMessage()
//
// The [Decoder] underlying the read path is exported for callers that do
// their own I/O: feed it ciphertext fragments as they arrive and drain
// complete messages as they become decodable.
//
// Reads and writes are internally serialized per direction, so one reader
// goroutine and one writer goroutine may share a Conn freely. A failed
// decryption permanently closes the connection: once an authentication
// tag mismatches, the two ends' cipher states can no longer be
// reconciled.
package transport
