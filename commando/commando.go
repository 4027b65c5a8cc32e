// Package commando implements a JSON-RPC client for Core Lightning's
// commando plugin, which exposes the node's RPC over custom peer
// messages on the normal encrypted transport.
//
// Each call is one custom message carrying an 8-byte request id and a
// JSON body authenticated by a rune; the node streams the reply back as
// one or more fragments that the client reassembles. Any peer messages
// unrelated to the outstanding request are skipped, so a call can share
// the socket with ordinary traffic like pings.
//
//	client := commando.NewClient(rune)
//	result, err := client.Call(ctx, sock, "getinfo", nil)
package commando

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnsocket/wire"
)

// Commando message type codes. They are odd, so peers that do not run the
// plugin ignore them rather than erroring.
const (
	// MsgCommand carries an RPC request to the node.
	MsgCommand wire.MessageType = 0x4c4f

	// MsgReplyContinues carries a reply fragment with more to follow.
	MsgReplyContinues wire.MessageType = 0x594b

	// MsgReplyTerm carries the final fragment of a reply.
	MsgReplyTerm wire.MessageType = 0x594d
)

// requestIDSize is the length of the big-endian request id prefixing
// every commando message body.
const requestIDSize = 8

var (
	// ErrShortReply is returned when a commando reply message is too
	// short to carry its request id.
	ErrShortReply = errors.New("commando reply shorter than its request id")

	// ErrMalformedReply is returned when a reassembled reply is not the
	// JSON object the plugin promises.
	ErrMalformedReply = errors.New("malformed commando reply")
)

// Error is a JSON-RPC error returned by the node, for example when the
// rune does not authorize the requested method.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("commando error %d: %s", e.Code, e.Message)
}

// Peer is the slice of socket behavior the client needs. It is satisfied
// by *lnsocket.Socket.
type Peer interface {
	WriteMessage(wire.Message) error
	ReadMessage() (wire.Message, error)
}

// Client issues commando RPC calls over an established peer socket. One
// client may serve many sequential calls; concurrent calls on the same
// socket must be serialized by the caller, since replies are matched to
// the single outstanding request.
type Client struct {
	rune   string
	nextID atomic.Uint64
}

// NewClient creates a client authenticating with the given rune.
func NewClient(rune string) *Client {
	c := &Client{rune: rune}

	// Start ids at a random point so independent sessions do not
	// collide in the node's logs.
	c.nextID.Store(rand.Uint64() >> 1)

	return c
}

// request is the JSON body of a commando command message.
type request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Rune   string          `json:"rune"`
	ID     uint64          `json:"id"`
}

// response is the JSON body reassembled from the reply fragments.
type response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Call invokes method on the node and returns the raw JSON result.
// params may be any JSON-marshalable value; nil sends an empty parameter
// list. A node-side failure is returned as *Error. If the context
// carries a deadline and the peer supports read deadlines, reply reads
// are bounded by it.
func (c *Client) Call(ctx context.Context, peer Peer, method string, params any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}

	id := c.nextID.Add(1)

	body, err := json.Marshal(request{
		Method: method,
		Params: rawParams,
		Rune:   c.rune,
		ID:     id,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	payload := make([]byte, requestIDSize, requestIDSize+len(body))
	binary.BigEndian.PutUint64(payload, id)
	payload = append(payload, body...)

	logrus.WithFields(logrus.Fields{
		"function": "Call",
		"method":   method,
		"id":       id,
	}).Debug("Sending commando request")

	if err := peer.WriteMessage(&wire.Custom{Type: MsgCommand, Payload: payload}); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if d, ok := peer.(interface{ SetReadDeadline(time.Time) error }); ok {
			_ = d.SetReadDeadline(deadline)
			defer d.SetReadDeadline(time.Time{})
		}
	}

	reply, err := c.readReply(ctx, peer, id)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// readReply collects the fragments of the reply to request id until the
// terminating fragment arrives.
func (c *Client) readReply(ctx context.Context, peer Peer, id uint64) ([]byte, error) {
	var reply []byte

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := peer.ReadMessage()
		if err != nil {
			return nil, err
		}

		custom, ok := msg.(*wire.Custom)
		if !ok {
			continue
		}
		if custom.Type != MsgReplyContinues && custom.Type != MsgReplyTerm {
			continue
		}
		if len(custom.Payload) < requestIDSize {
			return nil, ErrShortReply
		}
		if binary.BigEndian.Uint64(custom.Payload) != id {
			// A fragment for a request we did not make, likely a stale
			// reply from a previous session on a reused socket.
			continue
		}

		reply = append(reply, custom.Payload[requestIDSize:]...)

		if custom.Type == MsgReplyTerm {
			return reply, nil
		}
	}
}
