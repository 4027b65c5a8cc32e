package commando

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lnsocket/wire"
)

// fakePeer records what the client sends and plays back a scripted
// sequence of incoming messages.
type fakePeer struct {
	sent     []*wire.Custom
	incoming []wire.Message
}

func (p *fakePeer) WriteMessage(m wire.Message) error {
	custom, ok := m.(*wire.Custom)
	if !ok {
		return errors.New("unexpected message type")
	}
	p.sent = append(p.sent, custom)
	return nil
}

func (p *fakePeer) ReadMessage() (wire.Message, error) {
	if len(p.incoming) == 0 {
		return nil, errors.New("no more scripted messages")
	}
	m := p.incoming[0]
	p.incoming = p.incoming[1:]
	return m, nil
}

// reply builds a commando reply fragment for the given request id.
func reply(msgType wire.MessageType, id uint64, fragment string) *wire.Custom {
	payload := make([]byte, requestIDSize, requestIDSize+len(fragment))
	binary.BigEndian.PutUint64(payload, id)
	return &wire.Custom{Type: msgType, Payload: append(payload, fragment...)}
}

// sentRequest decodes the request the client sent through the fake peer.
func sentRequest(t *testing.T, p *fakePeer) (uint64, request) {
	t.Helper()

	require.Len(t, p.sent, 1)
	require.Equal(t, MsgCommand, p.sent[0].Type)
	require.GreaterOrEqual(t, len(p.sent[0].Payload), requestIDSize)

	id := binary.BigEndian.Uint64(p.sent[0].Payload)

	var req request
	require.NoError(t, json.Unmarshal(p.sent[0].Payload[requestIDSize:], &req))
	return id, req
}

func TestCallEncodesRequest(t *testing.T) {
	client := NewClient("my-rune")
	peer := &fakePeer{}

	// Peer answers whatever id the client picked; capture it by letting
	// the call fail on an empty script first.
	_, err := client.Call(context.Background(), peer, "getinfo", nil)
	require.Error(t, err)

	id, req := sentRequest(t, peer)
	assert.Equal(t, "getinfo", req.Method)
	assert.Equal(t, "my-rune", req.Rune)
	assert.Equal(t, id, req.ID)
	assert.JSONEq(t, "[]", string(req.Params))
}

func TestCallParamsEncoding(t *testing.T) {
	client := NewClient("r")
	peer := &fakePeer{}

	_, err := client.Call(context.Background(), peer, "invoice", map[string]any{
		"amount_msat": 100000,
		"label":       "test",
	})
	require.Error(t, err)

	_, req := sentRequest(t, peer)
	assert.JSONEq(t, `{"amount_msat":100000,"label":"test"}`, string(req.Params))
}

// callWithScript runs one call against a peer scripted to reply with the
// given fragments once the request id is known. Because the id is chosen
// by the client, the script is built by a probe call first.
func callWithScript(t *testing.T, build func(id uint64) []wire.Message) (json.RawMessage, error) {
	t.Helper()

	client := NewClient("r")

	probe := &fakePeer{}
	_, _ = client.Call(context.Background(), probe, "probe", nil)
	lastID, _ := sentRequest(t, probe)

	// The next call uses lastID+1.
	peer := &fakePeer{incoming: build(lastID + 1)}
	result, err := client.Call(context.Background(), peer, "getinfo", nil)
	return result, err
}

func TestCallSingleFragmentReply(t *testing.T) {
	result, err := callWithScript(t, func(id uint64) []wire.Message {
		return []wire.Message{
			reply(MsgReplyTerm, id, `{"result":{"alias":"node"}}`),
		}
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"alias":"node"}`, string(result))
}

func TestCallReassemblesFragments(t *testing.T) {
	result, err := callWithScript(t, func(id uint64) []wire.Message {
		return []wire.Message{
			reply(MsgReplyContinues, id, `{"result":{"alias":`),
			reply(MsgReplyContinues, id, `"split across`),
			reply(MsgReplyTerm, id, ` frames"}}`),
		}
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"alias":"split across frames"}`, string(result))
}

func TestCallSkipsUnrelatedMessages(t *testing.T) {
	result, err := callWithScript(t, func(id uint64) []wire.Message {
		return []wire.Message{
			&wire.Pong{Ignored: []byte{0, 0}},
			&wire.Custom{Type: 0x6001, Payload: []byte("noise")},
			reply(MsgReplyTerm, id+7, `{"result":"stale"}`),
			reply(MsgReplyTerm, id, `{"result":"mine"}`),
		}
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"mine"`, string(result))
}

func TestCallNodeError(t *testing.T) {
	_, err := callWithScript(t, func(id uint64) []wire.Message {
		return []wire.Message{
			reply(MsgReplyTerm, id,
				`{"error":{"code":19537,"message":"Not authorized: method not permitted by rune"}}`),
		}
	})

	var cmdErr *Error
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 19537, cmdErr.Code)
	assert.Contains(t, cmdErr.Message, "Not authorized")
}

func TestCallMalformedReply(t *testing.T) {
	_, err := callWithScript(t, func(id uint64) []wire.Message {
		return []wire.Message{
			reply(MsgReplyTerm, id, `this is not json`),
		}
	})
	require.ErrorIs(t, err, ErrMalformedReply)
}

func TestCallShortReply(t *testing.T) {
	_, err := callWithScript(t, func(id uint64) []wire.Message {
		return []wire.Message{
			&wire.Custom{Type: MsgReplyTerm, Payload: []byte{0x01}},
		}
	})
	require.ErrorIs(t, err, ErrShortReply)
}

func TestCallContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("r")
	peer := &fakePeer{incoming: []wire.Message{
		&wire.Pong{}, &wire.Pong{}, &wire.Pong{},
	}}

	_, err := client.Call(ctx, peer, "getinfo", nil)
	require.ErrorIs(t, err, context.Canceled)
}

// deadlinePeer verifies the client plumbs a context deadline through to
// the peer's read deadline when one is available.
type deadlinePeer struct {
	fakePeer
	deadlines []time.Time
}

func (p *deadlinePeer) SetReadDeadline(t time.Time) error {
	p.deadlines = append(p.deadlines, t)
	return nil
}

func TestCallSetsReadDeadline(t *testing.T) {
	deadline := time.Now().Add(time.Minute)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	client := NewClient("r")
	peer := &deadlinePeer{}

	_, err := client.Call(ctx, peer, "getinfo", nil)
	require.Error(t, err)

	// Set to the deadline for the call, cleared afterwards.
	require.Len(t, peer.deadlines, 2)
	assert.Equal(t, deadline, peer.deadlines[0])
	assert.True(t, peer.deadlines[1].IsZero())
}
