package transport

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnsocket/crypto"
)

// Listener accepts incoming encrypted connections, running the responder
// side of the handshake for each one before handing it to the caller.
type Listener struct {
	tcp         net.Listener
	localStatic *crypto.KeyPair
}

// NewListener starts listening for Lightning transport connections on
// listenAddr, presenting localStatic as our node identity.
func NewListener(localStatic *crypto.KeyPair, listenAddr string) (*Listener, error) {
	if localStatic == nil {
		return nil, fmt.Errorf("listener requires a static identity key")
	}

	tcp, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewListener",
		"listen_addr": tcp.Addr(),
	}).Info("Listening for transport connections")

	return &Listener{
		tcp:         tcp,
		localStatic: localStatic,
	}, nil
}

// Accept waits for the next incoming connection and completes the
// handshake on it. A connection whose handshake fails is closed and the
// error returned; the listener itself stays usable.
func (l *Listener) Accept() (*Conn, error) {
	raw, err := l.tcp.Accept()
	if err != nil {
		return nil, err
	}

	conn, err := ServerHandshake(raw, l.localStatic)
	if err != nil {
		raw.Close()
		logrus.WithFields(logrus.Fields{
			"function":    "Accept",
			"remote_addr": raw.RemoteAddr(),
			"error":       err.Error(),
		}).Warn("Inbound handshake failed")
		return nil, err
	}

	return conn, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.tcp.Addr()
}

// Close stops the listener. Connections already accepted are unaffected.
func (l *Listener) Close() error {
	return l.tcp.Close()
}
