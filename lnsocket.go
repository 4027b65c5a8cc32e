package lnsocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnsocket/crypto"
	"github.com/opd-ai/lnsocket/transport"
	"github.com/opd-ai/lnsocket/wire"
)

// ErrFirstMessageNotInit is returned by the init exchange when the peer's
// first message is anything other than init. The protocol requires init
// to open every connection, so this indicates a peer that is not speaking
// Lightning.
var ErrFirstMessageNotInit = errors.New("first received message was not init")

// role notes which side of the handshake this socket ran, which decides
// who speaks first in the init exchange.
type role uint8

const (
	roleInitiator role = iota
	roleResponder
)

// Socket is an authenticated, encrypted session with a Lightning peer,
// speaking typed messages. It wraps a transport connection with the
// message codec, the initial init exchange, and automatic ping handling.
type Socket struct {
	conn *transport.Conn
	opts *Options
	role role

	// remoteInit is the peer's init message, retained after PerformInit
	// so callers can inspect the peer's advertised features.
	remoteInit *wire.Init
}

// Connect dials the peer with identity remotePub at address and completes
// the transport handshake as initiator. The returned socket has not yet
// exchanged init messages; use ConnectAndInit, or call PerformInit before
// any other traffic. A nil options selects defaults.
func Connect(ctx context.Context, localStatic *crypto.KeyPair,
	remotePub *btcec.PublicKey, address string, options *Options) (*Socket, error) {

	if options == nil {
		options = NewOptions()
	}

	conn, err := transport.Dial(ctx, localStatic, remotePub, address)
	if err != nil {
		return nil, err
	}

	return &Socket{conn: conn, opts: options, role: roleInitiator}, nil
}

// ConnectAndInit dials the peer and completes both the transport
// handshake and the init exchange, returning a socket ready for
// application messages.
func ConnectAndInit(ctx context.Context, localStatic *crypto.KeyPair,
	remotePub *btcec.PublicKey, address string, options *Options) (*Socket, error) {

	s, err := Connect(ctx, localStatic, remotePub, address, options)
	if err != nil {
		return nil, err
	}

	if err := s.PerformInit(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// Accept completes the responder side of the transport handshake over an
// already-accepted stream connection. The initiator's identity is
// available from RemotePub afterwards. A nil options selects defaults.
func Accept(raw net.Conn, localStatic *crypto.KeyPair, options *Options) (*Socket, error) {
	if options == nil {
		options = NewOptions()
	}

	conn, err := transport.ServerHandshake(raw, localStatic)
	if err != nil {
		return nil, err
	}

	return &Socket{conn: conn, opts: options, role: roleResponder}, nil
}

// PerformInit runs the mandatory feature exchange that opens every
// connection. Nodes send init immediately after the handshake, so the
// responder side sends first and the initiator side reads the peer's
// init before answering. The peer's first message must be init;
// anything else returns ErrFirstMessageNotInit.
func (s *Socket) PerformInit() error {
	if s.role == roleResponder {
		if err := s.WriteMessage(s.opts.initMessage()); err != nil {
			return fmt.Errorf("failed to send init: %w", err)
		}
		return s.readRemoteInit()
	}

	if err := s.readRemoteInit(); err != nil {
		return err
	}
	if err := s.WriteMessage(s.opts.initMessage()); err != nil {
		return fmt.Errorf("failed to send init: %w", err)
	}
	return nil
}

func (s *Socket) readRemoteInit() error {
	msg, err := s.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read peer init: %w", err)
	}

	remoteInit, ok := msg.(*wire.Init)
	if !ok {
		return fmt.Errorf("%w: got %v", ErrFirstMessageNotInit, msg.MsgType())
	}
	s.remoteInit = remoteInit

	logrus.WithFields(logrus.Fields{
		"function":   "readRemoteInit",
		"remote_key": fmt.Sprintf("%x", s.RemotePub().SerializeCompressed()[:8]),
		"features":   len(remoteInit.Features),
		"networks":   len(remoteInit.Networks),
	}).Debug("Received peer init")

	return nil
}

// WriteMessage encodes and sends one message.
func (s *Socket) WriteMessage(m wire.Message) error {
	b, err := wire.Marshal(m)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(b)
}

// ReadMessage blocks until the next message arrives and returns it
// decoded. Pings are answered internally and skipped when AutoPong is
// enabled; pings requesting an oversized pong are dropped without an
// answer either way, as the protocol demands.
func (s *Socket) ReadMessage() (wire.Message, error) {
	for {
		raw, err := s.conn.ReadNextMessage()
		if err != nil {
			return nil, err
		}

		msg, err := wire.Unmarshal(raw, s.opts.CustomDecoder)
		if err != nil {
			return nil, err
		}

		ping, isPing := msg.(*wire.Ping)
		if !isPing {
			return msg, nil
		}
		if ping.NumPongBytes > wire.MaxPongBytes {
			continue
		}
		if !s.opts.AutoPong {
			return msg, nil
		}

		if err := s.WriteMessage(wire.NewPongFor(ping)); err != nil {
			return nil, fmt.Errorf("failed to answer ping: %w", err)
		}
	}
}

// Ping sends a ping requesting a pong with numPongBytes of padding. The
// pong arrives through ReadMessage like any other message.
func (s *Socket) Ping(numPongBytes uint16) error {
	return s.WriteMessage(&wire.Ping{NumPongBytes: numPongBytes})
}

// RemoteInit returns the peer's init message, or nil before PerformInit
// has completed.
func (s *Socket) RemoteInit() *wire.Init {
	return s.remoteInit
}

// LocalPub returns our static identity public key.
func (s *Socket) LocalPub() *btcec.PublicKey {
	return s.conn.LocalPub()
}

// RemotePub returns the peer's authenticated identity public key.
func (s *Socket) RemotePub() *btcec.PublicKey {
	return s.conn.RemotePub()
}

// SetReadDeadline bounds blocking reads, for callers implementing
// timeouts or cancellation above the socket.
func (s *Socket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// Close tears down the session and wipes its key material.
func (s *Socket) Close() error {
	return s.conn.Close()
}
