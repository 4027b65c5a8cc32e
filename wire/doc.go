// Package wire encodes and decodes the small set of Lightning messages a
// transport client needs: init, ping, pong, error and warning, plus a
// passthrough representation for everything else.
//
// Messages are (type, payload) pairs; [Marshal] and [Unmarshal] convert
// between Message values and the flat bytes carried inside an encrypted
// transport frame. Types this package has no decoder for come back as
// [Custom] values with the payload untouched, and callers can hook their
// own decoders in via [CustomDecoder]; the commando package decodes its
// RPC reply types that way.
package wire
