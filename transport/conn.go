package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnsocket/crypto"
	"github.com/opd-ai/lnsocket/noise"
)

// DefaultHandshakeTimeout bounds how long a peer may take to complete the
// three handshake acts before the connection attempt is abandoned.
const DefaultHandshakeTimeout = 15 * time.Second

// readChunkSize is how much ciphertext one network read pulls into the
// decoder at most.
const readChunkSize = 8192

// ErrConnClosed is returned by operations on a connection that has been
// closed, either locally or because a fatal transport error poisoned it.
var ErrConnClosed = errors.New("connection closed")

// Conn is an encrypted, mutually authenticated connection to a Lightning
// peer. It wraps an underlying stream connection with the transport
// handshake and message framing, and satisfies net.Conn so it can slot
// into code written against plain sockets.
//
// WriteMessage calls are serialized internally; the encrypt-then-transmit
// order of the send nonce sequence must never interleave. The read path
// is likewise serialized, independently of the writes: one reader and one
// writer may run concurrently without coordination.
type Conn struct {
	conn net.Conn

	keys    *noise.SessionKeys
	decoder *Decoder

	localPub  *btcec.PublicKey
	remotePub *btcec.PublicKey

	// readMu guards the decoder and leftover; sendMu guards the send
	// cipher and the underlying write.
	readMu sync.Mutex
	sendMu sync.Mutex

	// leftover holds plaintext from a decoded message that a short
	// net.Conn-style Read did not fully consume.
	leftover []byte

	closeOnce sync.Once
	wipeOnce  sync.Once
	closed    chan struct{}
}

// Dial connects to the Lightning peer with the given static public key at
// address (host:port, hostname allowed) and runs the initiator side of
// the handshake. The context covers both the TCP dial and the handshake.
func Dial(ctx context.Context, localStatic *crypto.KeyPair,
	remotePub *btcec.PublicKey, address string) (*Conn, error) {

	var d net.Dialer
	tcpConn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = tcpConn.SetDeadline(deadline)
	}

	conn, err := ClientHandshake(tcpConn, localStatic, remotePub)
	if err != nil {
		tcpConn.Close()
		return nil, err
	}

	return conn, nil
}

// ClientHandshake runs the initiator side of the handshake over an
// already-established stream and returns the encrypted connection. The
// raw connection is not closed on failure; that is the caller's job.
func ClientHandshake(conn net.Conn, localStatic *crypto.KeyPair,
	remotePub *btcec.PublicKey) (*Conn, error) {

	logrus.WithFields(logrus.Fields{
		"function":    "ClientHandshake",
		"remote_addr": conn.RemoteAddr(),
	}).Debug("Starting initiator handshake")

	hs, err := noise.NewXKHandshake(noise.Initiator, localStatic, remotePub)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake: %w", err)
	}

	if err := setHandshakeDeadline(conn); err != nil {
		return nil, err
	}

	actOne, err := hs.GenActOne()
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(actOne[:]); err != nil {
		return nil, fmt.Errorf("failed to send act one: %w", err)
	}

	var actTwo [noise.ActTwoSize]byte
	if err := readAct(conn, actTwo[:]); err != nil {
		return nil, err
	}
	if err := hs.RecvActTwo(actTwo); err != nil {
		return nil, err
	}

	actThree, err := hs.GenActThree()
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(actThree[:]); err != nil {
		return nil, fmt.Errorf("failed to send act three: %w", err)
	}

	return newConn(conn, hs)
}

// ServerHandshake runs the responder side of the handshake over an
// accepted stream and returns the encrypted connection. The initiator's
// identity is available from RemotePub afterwards.
func ServerHandshake(conn net.Conn, localStatic *crypto.KeyPair) (*Conn, error) {
	logrus.WithFields(logrus.Fields{
		"function":    "ServerHandshake",
		"remote_addr": conn.RemoteAddr(),
	}).Debug("Starting responder handshake")

	hs, err := noise.NewXKHandshake(noise.Responder, localStatic, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake: %w", err)
	}

	if err := setHandshakeDeadline(conn); err != nil {
		return nil, err
	}

	var actOne [noise.ActOneSize]byte
	if err := readAct(conn, actOne[:]); err != nil {
		return nil, err
	}
	if err := hs.RecvActOne(actOne); err != nil {
		return nil, err
	}

	actTwo, err := hs.GenActTwo()
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(actTwo[:]); err != nil {
		return nil, fmt.Errorf("failed to send act two: %w", err)
	}

	var actThree [noise.ActThreeSize]byte
	if err := readAct(conn, actThree[:]); err != nil {
		return nil, err
	}
	if err := hs.RecvActThree(actThree); err != nil {
		return nil, err
	}

	return newConn(conn, hs)
}

// setHandshakeDeadline bounds the whole act exchange. A stream that does
// not support deadlines is tolerated; the caller's context still bounds
// the overall attempt.
func setHandshakeDeadline(conn net.Conn) error {
	_ = conn.SetDeadline(time.Now().Add(DefaultHandshakeTimeout))
	return nil
}

// readAct fills buf with exactly one handshake act, mapping a premature
// end of stream to ErrPeerClosed.
func readAct(conn net.Conn, buf []byte) error {
	if _, err := io.ReadFull(conn, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return noise.ErrPeerClosed
		}
		return fmt.Errorf("failed to read handshake act: %w", err)
	}
	return nil
}

// newConn finalizes a completed handshake into a usable connection.
func newConn(conn net.Conn, hs *noise.XKHandshake) (*Conn, error) {
	keys, err := hs.GetSessionKeys()
	if err != nil {
		return nil, err
	}

	remotePub, err := hs.GetRemoteStaticKey()
	if err != nil {
		return nil, err
	}

	// Clear the handshake deadline; post-handshake deadlines are the
	// caller's to manage.
	_ = conn.SetDeadline(time.Time{})

	logrus.WithFields(logrus.Fields{
		"function":    "newConn",
		"remote_addr": conn.RemoteAddr(),
		"remote_key":  fmt.Sprintf("%x", remotePub.SerializeCompressed()[:8]),
	}).Info("Transport handshake complete")

	return &Conn{
		conn:      conn,
		keys:      keys,
		decoder:   NewDecoder(keys),
		localPub:  hs.GetLocalStaticKey(),
		remotePub: remotePub,
		closed:    make(chan struct{}),
	}, nil
}

// WriteMessage encrypts and writes a single message. The plaintext may be
// at most 65535 bytes. Concurrent callers are serialized; each message is
// fully flushed to the socket before the next one is encrypted.
func (c *Conn) WriteMessage(msg []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.isClosed() {
		return ErrConnClosed
	}

	wire, err := c.keys.EncryptMessage(msg)
	if err != nil {
		return err
	}

	if _, err := c.conn.Write(wire); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// ReadNextMessage blocks until one full message has been received and
// decrypted, and returns its plaintext. A decryption failure closes the
// connection and is returned as a noise.ErrDecryptFailed-wrapping error;
// it is not recoverable.
func (c *Conn) ReadNextMessage() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.readNextMessageLocked()
}

// readNextMessageLocked is ReadNextMessage's body; the caller must hold
// readMu.
func (c *Conn) readNextMessageLocked() ([]byte, error) {
	if c.isClosed() {
		return nil, ErrConnClosed
	}

	var chunk [readChunkSize]byte
	for {
		msg, ok, err := c.decoder.Next()
		if err != nil {
			// The receive cipher is out of step with the peer; nothing
			// on this connection can be trusted from here on.
			logrus.WithFields(logrus.Fields{
				"function":    "ReadNextMessage",
				"remote_addr": c.conn.RemoteAddr(),
				"error":       err.Error(),
			}).Warn("Decryption failure, closing connection")
			// readMu is held here, so only the stream can be shut;
			// Close wipes the keys once the caller gets around to it.
			c.closeStream()
			return nil, err
		}
		if ok {
			return msg, nil
		}

		n, err := c.conn.Read(chunk[:])
		if n > 0 {
			c.decoder.Feed(chunk[:n])
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: %v", ErrConnClosed, err)
			}
			return nil, err
		}
	}
}

// Read implements net.Conn. It returns plaintext bytes, reading and
// decrypting further messages as needed. Message boundaries are not
// preserved; use ReadNextMessage for message semantics.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.leftover) > 0 {
		n := copy(p, c.leftover)
		c.leftover = c.leftover[n:]
		return n, nil
	}

	msg, err := c.readNextMessageLocked()
	if err != nil {
		return 0, err
	}

	n := copy(p, msg)
	c.leftover = msg[n:]
	return n, nil
}

// Write implements net.Conn, sending p as a single message.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.WriteMessage(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// closeStream shuts the underlying connection and marks the Conn closed
// without touching key material. Safe to call from under readMu, where a
// full Close would deadlock.
func (c *Conn) closeStream() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// Close tears the connection down and wipes all session key material.
// It is safe to call more than once and may be called while a reader or
// writer is blocked on the connection.
func (c *Conn) Close() error {
	// Shut the stream first so a reader blocked inside conn.Read
	// returns and releases readMu before the wipe waits on it.
	err := c.closeStream()

	// Wiping needs both directions quiescent. Lock order is sendMu
	// then readMu; no other path holds both.
	c.wipeOnce.Do(func() {
		c.sendMu.Lock()
		c.readMu.Lock()
		c.keys.Wipe()
		c.readMu.Unlock()
		c.sendMu.Unlock()
	})
	return err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// LocalPub returns our static identity public key.
func (c *Conn) LocalPub() *btcec.PublicKey {
	return c.localPub
}

// RemotePub returns the peer's authenticated static identity public key.
func (c *Conn) RemotePub() *btcec.PublicKey {
	return c.remotePub
}

// LocalAddr implements net.Conn.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr implements net.Conn.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline implements net.Conn.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline implements net.Conn.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements net.Conn.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
