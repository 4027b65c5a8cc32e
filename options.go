package lnsocket

import (
	"github.com/opd-ai/lnsocket/wire"
)

// Options configures the behavior of a Socket.
type Options struct {
	// AutoPong makes ReadMessage answer incoming pings internally
	// instead of surfacing them. Lightning nodes disconnect peers that
	// never pong, so this defaults to on; disable it to handle pings
	// yourself.
	AutoPong bool

	// CustomDecoder, when set, is consulted for message types the wire
	// package does not decode itself.
	CustomDecoder wire.CustomDecoder

	// InitMessage is the init sent during the initial feature exchange.
	// Nil selects the library default: empty feature vectors, Bitcoin
	// mainnet.
	InitMessage *wire.Init
}

// NewOptions creates a new Options struct with default values.
func NewOptions() *Options {
	return &Options{
		AutoPong: true,
	}
}

func (o *Options) initMessage() *wire.Init {
	if o.InitMessage != nil {
		return o.InitMessage
	}
	return wire.NewInit()
}
