package router_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/a-essam23/go-huddle/internal/engine"
	"github.com/a-essam23/go-huddle/internal/router"
	"github.com/a-essam23/go-huddle/pkg/fault"
	"github.com/a-essam23/go-huddle/pkg/logging"
	"github.com/a-essam23/go-huddle/pkg/pipeline"
	"github.com/a-essam23/go-huddle/pkg/state"
	"github.com/a-essam23/go-huddle/pkg/state/statemanager"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type received struct {
	ResponseType string          `json:"responseType"`
	Body         json.RawMessage `json:"body"`
	RequestID    *uuid.UUID      `json:"requestId"`
}

type recordingTransport struct {
	id   uuid.UUID
	mu   sync.Mutex
	msgs []received
}

func (t *recordingTransport) ID() uuid.UUID { return t.id }

func (t *recordingTransport) Send(msg []byte) error {
	var r received
	if err := json.Unmarshal(msg, &r); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = append(t.msgs, r)
	return nil
}

func (t *recordingTransport) Close(_ error) {}

func (t *recordingTransport) messages() []received {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]received(nil), t.msgs...)
}

type harness struct {
	sm       *statemanager.InMemoryManager
	registry *engine.Registry
	router   *router.EventRouter
}

func newHarness() *harness {
	sm := statemanager.NewInMemoryManager(logging.Discard())
	registry := engine.New(logging.Discard(), nil)
	return &harness{
		sm:       sm,
		registry: registry,
		router:   router.NewEventRouter(logging.Discard(), sm, registry),
	}
}

func (h *harness) connect(t *testing.T, channelID string) *recordingTransport {
	t.Helper()
	tr := &recordingTransport{id: uuid.New()}
	_, err := h.sm.RegisterConnection(tr, "127.0.0.1")
	require.NoError(t, err)
	if channelID != "" {
		require.NoError(t, h.sm.SetChannel(tr.id, channelID))
	}
	return tr
}

func (h *harness) send(tr *recordingTransport, requestType string, body any) uuid.UUID {
	id := uuid.New()
	raw, _ := json.Marshal(map[string]any{"requestType": requestType, "body": body, "requestId": id})
	h.router.HandleMessage(context.Background(), tr.id, raw)
	return id
}

func errorBody(t *testing.T, msg received) router.ErrorBody {
	t.Helper()
	require.Equal(t, router.ResponseError, msg.ResponseType)
	var body router.ErrorBody
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	return body
}

type greetBody struct {
	Name string `json:"name"`
}

func (b greetBody) Validate() error {
	if len(b.Name) > 10 {
		return errors.New("name too long")
	}
	return nil
}

func TestDirectResponseFromReturnValue(t *testing.T) {
	h := newHarness()
	h.registry.Register("Greet", engine.Validate[greetBody]("name"), pipeline.Handle(func(req pipeline.Request, _ pipeline.Responder) (any, error) {
		body, err := pipeline.Body[greetBody](req)
		if err != nil {
			return nil, err
		}
		return map[string]string{"hello": body.Name}, nil
	}))
	tr := h.connect(t, "")

	id := h.send(tr, "Greet", map[string]string{"name": "ada"})

	msgs := tr.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, router.ResponseDirect, msgs[0].ResponseType)
	require.Equal(t, id, *msgs[0].RequestID)
	require.JSONEq(t, `{"hello":"ada"}`, string(msgs[0].Body))
}

func TestValidationShortCircuitsChain(t *testing.T) {
	h := newHarness()
	called := false
	h.registry.Register("Greet", engine.Validate[greetBody]("name"), pipeline.Handle(func(pipeline.Request, pipeline.Responder) (any, error) {
		called = true
		return "unreachable", nil
	}))
	tr := h.connect(t, "")

	id := h.send(tr, "Greet", map[string]string{"nickname": "ada"})
	h.send(tr, "Greet", map[string]string{"name": "a name far too long"})

	require.False(t, called)
	msgs := tr.messages()
	require.Len(t, msgs, 2)
	first := errorBody(t, msgs[0])
	require.Equal(t, "validation", first.Kind)
	require.Contains(t, first.Description, "name")
	require.Equal(t, id, *msgs[0].RequestID)
	require.Equal(t, "name too long", errorBody(t, msgs[1]).Description)
}

func TestUnknownRequestType(t *testing.T) {
	h := newHarness()
	tr := h.connect(t, "")

	id := h.send(tr, "Nope", nil)

	msgs := tr.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "unknown_request_type", errorBody(t, msgs[0]).Kind)
	require.Equal(t, id, *msgs[0].RequestID)
}

func TestMalformedMessageSalvagesRequestID(t *testing.T) {
	h := newHarness()
	tr := h.connect(t, "")
	id := uuid.New()

	h.router.HandleMessage(context.Background(), tr.id, []byte(`{"requestId":"`+id.String()+`","body":{}}`))
	h.router.HandleMessage(context.Background(), tr.id, []byte(`not json`))

	msgs := tr.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "validation", errorBody(t, msgs[0]).Kind)
	require.Equal(t, id, *msgs[0].RequestID)
	require.Nil(t, msgs[1].RequestID)
}

func TestCorrelationIDSingleUse(t *testing.T) {
	h := newHarness()
	var secondErr error
	h.registry.Register("Twice",
		pipeline.Handle(func(_ pipeline.Request, res pipeline.Responder) (any, error) {
			return nil, res.Send("First", 1, true)
		}),
		pipeline.Handle(func(_ pipeline.Request, res pipeline.Responder) (any, error) {
			secondErr = res.Send("Second", 2, true)
			return "late", nil
		}),
	)
	tr := h.connect(t, "")

	id := h.send(tr, "Twice", nil)

	require.ErrorIs(t, secondErr, router.ErrReplyAlreadySent)
	msgs := tr.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "First", msgs[0].ResponseType)
	require.Equal(t, id, *msgs[0].RequestID)
}

func TestSendWithoutCorrelationID(t *testing.T) {
	h := newHarness()
	h.registry.Register("Notify", pipeline.Handle(func(_ pipeline.Request, res pipeline.Responder) (any, error) {
		if err := res.Send("Progress", 1, false); err != nil {
			return nil, err
		}
		return "done", nil
	}))
	tr := h.connect(t, "")

	id := h.send(tr, "Notify", nil)

	msgs := tr.messages()
	require.Len(t, msgs, 2)
	require.Nil(t, msgs[0].RequestID)
	require.Equal(t, router.ResponseDirect, msgs[1].ResponseType)
	require.Equal(t, id, *msgs[1].RequestID)
}

func TestBroadcastReachesChannelOnly(t *testing.T) {
	h := newHarness()
	h.registry.Register("Shout", pipeline.Handle(func(_ pipeline.Request, res pipeline.Responder) (any, error) {
		return nil, res.Broadcast("Shouted", "hi", true)
	}))
	sender := h.connect(t, "m1")
	peer := h.connect(t, "m1")
	outsider := h.connect(t, "m2")

	id := h.send(sender, "Shout", nil)

	for _, tr := range []*recordingTransport{sender, peer} {
		msgs := tr.messages()
		require.Len(t, msgs, 1)
		require.Equal(t, "Shouted", msgs[0].ResponseType)
		require.Equal(t, id, *msgs[0].RequestID)
	}
	require.Empty(t, outsider.messages())
}

func TestBroadcastWithoutChannelIsNoop(t *testing.T) {
	h := newHarness()
	h.registry.Register("Shout", pipeline.Handle(func(_ pipeline.Request, res pipeline.Responder) (any, error) {
		return nil, res.Broadcast("Shouted", "hi", true)
	}))
	lonely := h.connect(t, "")

	h.send(lonely, "Shout", nil)

	require.Empty(t, lonely.messages())
}

// A second broadcast carrying the id still goes out, just without it.
func TestBroadcastAfterConsumedID(t *testing.T) {
	h := newHarness()
	h.registry.Register("Double", pipeline.Handle(func(_ pipeline.Request, res pipeline.Responder) (any, error) {
		if err := res.Broadcast("A", 1, true); err != nil {
			return nil, err
		}
		return nil, res.Broadcast("B", 2, true)
	}))
	tr := h.connect(t, "m1")

	id := h.send(tr, "Double", nil)

	msgs := tr.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, id, *msgs[0].RequestID)
	require.Nil(t, msgs[1].RequestID)
}

// After a broadcast used the id, a direct reply asking for it is dropped while
// a peer still receives every broadcast.
func TestSendAfterBroadcastIsDropped(t *testing.T) {
	h := newHarness()
	var sendErr error
	h.registry.Register("Mixed", pipeline.Handle(func(_ pipeline.Request, res pipeline.Responder) (any, error) {
		if err := res.Broadcast("State", 1, true); err != nil {
			return nil, err
		}
		sendErr = res.Send("Ack", 2, true)
		return nil, res.Broadcast("State", 3, true)
	}))
	tr := h.connect(t, "m1")
	peer := h.connect(t, "m1")

	id := h.send(tr, "Mixed", nil)

	require.ErrorIs(t, sendErr, router.ErrReplyAlreadySent)
	msgs := tr.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, id, *msgs[0].RequestID)
	require.Nil(t, msgs[1].RequestID)
	for _, m := range msgs {
		require.Equal(t, "State", m.ResponseType)
	}
	require.Len(t, peer.messages(), 2)
}

func TestBroadcastFollowsChannelSwitch(t *testing.T) {
	h := newHarness()
	h.registry.Register("Move", pipeline.Handle(func(req pipeline.Request, res pipeline.Responder) (any, error) {
		if err := h.sm.SetChannel(req.ConnID, "m2"); err != nil {
			return nil, err
		}
		return nil, res.Broadcast("Moved", nil, false)
	}))
	mover := h.connect(t, "m1")
	oldPeer := h.connect(t, "m1")
	newPeer := h.connect(t, "m2")

	h.send(mover, "Move", nil)

	require.Empty(t, oldPeer.messages())
	require.Len(t, newPeer.messages(), 1)
	require.Len(t, mover.messages(), 1)
}

func TestErrorHaltsChain(t *testing.T) {
	h := newHarness()
	reached := false
	h.registry.Register("Fails",
		pipeline.Handle(func(_ pipeline.Request, res pipeline.Responder) (any, error) {
			if err := res.Broadcast("Partial", nil, false); err != nil {
				return nil, err
			}
			return nil, fault.Invariant("cannot do that")
		}),
		pipeline.Handle(func(pipeline.Request, pipeline.Responder) (any, error) {
			reached = true
			return nil, nil
		}),
	)
	tr := h.connect(t, "m1")

	id := h.send(tr, "Fails", nil)

	require.False(t, reached)
	msgs := tr.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "Partial", msgs[0].ResponseType)
	body := errorBody(t, msgs[1])
	require.Equal(t, "invariant", body.Kind)
	require.Equal(t, "cannot do that", body.Description)
	require.Equal(t, id, *msgs[1].RequestID)
}

func TestInternalErrorsAreMasked(t *testing.T) {
	h := newHarness()
	h.registry.Register("Leaky", pipeline.Handle(func(pipeline.Request, pipeline.Responder) (any, error) {
		return nil, errors.New("dial tcp 10.0.0.3:5432: connection refused")
	}))
	h.registry.Register("Panics", pipeline.Handle(func(pipeline.Request, pipeline.Responder) (any, error) {
		panic("boom")
	}))
	tr := h.connect(t, "")

	h.send(tr, "Leaky", nil)
	h.send(tr, "Panics", nil)

	msgs := tr.messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		body := errorBody(t, m)
		require.Equal(t, "internal", body.Kind)
		require.Equal(t, "internal server error", body.Description)
	}
}

func TestSilentChainSendsNothing(t *testing.T) {
	h := newHarness()
	h.registry.Register("Quiet", pipeline.Handle(func(pipeline.Request, pipeline.Responder) (any, error) {
		return nil, nil
	}))
	tr := h.connect(t, "")

	h.send(tr, "Quiet", nil)

	require.Empty(t, tr.messages())
}

func TestPublish(t *testing.T) {
	h := newHarness()
	a := h.connect(t, "m1")
	b := h.connect(t, "m2")

	require.NoError(t, h.router.Publish("m1", "Participants", []string{"x"}))

	msgs := a.messages()
	require.Len(t, msgs, 1)
	require.Nil(t, msgs[0].RequestID)
	require.Empty(t, b.messages())
}

func TestDecodeRequestNormalisesNullBody(t *testing.T) {
	msg, err := router.DecodeRequest([]byte(`{"requestType":"X","body":null}`))
	require.NoError(t, err)
	require.Nil(t, msg.Body)
	require.Equal(t, uuid.Nil, msg.RequestID)

	_, err = router.DecodeRequest([]byte(`{"body":{}}`))
	require.ErrorIs(t, err, router.ErrMissingRequestType)
}

var _ state.Transport = (*recordingTransport)(nil)
