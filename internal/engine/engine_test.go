package engine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/a-essam23/go-huddle/internal/engine"
	"github.com/a-essam23/go-huddle/pkg/config"
	"github.com/a-essam23/go-huddle/pkg/fault"
	"github.com/a-essam23/go-huddle/pkg/logging"
	"github.com/a-essam23/go-huddle/pkg/pipeline"
	"github.com/a-essam23/go-huddle/pkg/store"
	"github.com/a-essam23/go-huddle/pkg/store/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func noop() pipeline.Step {
	return pipeline.Handle(func(pipeline.Request, pipeline.Responder) (any, error) { return nil, nil })
}

func newRequest(body string) pipeline.Request {
	req := pipeline.Request{
		Ctx:    context.Background(),
		Logger: logging.Discard(),
		ConnID: uuid.New(),
		Type:   "Test",
		ID:     uuid.New(),
	}
	if body != "" {
		req.Body = json.RawMessage(body)
	}
	return req
}

func runStep(step pipeline.Step, req pipeline.Request) (pipeline.Request, error) {
	next, _, err := step(req, nil)
	return next, err
}

func TestRegisterAndLookup(t *testing.T) {
	r := engine.New(logging.Discard(), nil)
	r.Register("B", noop())
	r.Register("A", noop(), noop())

	steps, ok := r.Lookup("A")
	require.True(t, ok)
	require.Len(t, steps, 2)
	_, ok = r.Lookup("C")
	require.False(t, ok)
	require.Equal(t, []string{"A", "B"}, r.RequestTypes())
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	r := engine.New(logging.Discard(), nil)
	r.Register("A", noop())
	require.Panics(t, func() { r.Register("A", noop()) })
	require.Panics(t, func() { r.Register("Empty") })
}

func TestRegisterPrependsRateLimit(t *testing.T) {
	limits, err := config.CompileLimits(map[string]string{"SendNote": "1/h"})
	require.NoError(t, err)
	r := engine.New(logging.Discard(), limits)
	r.Register("SendNote", noop())
	r.Register("Other", noop())

	other, _ := r.Lookup("Other")
	require.Len(t, other, 1)

	steps, _ := r.Lookup("SendNote")
	require.Len(t, steps, 2)

	req := newRequest("")
	_, err = runStep(steps[0], req)
	require.NoError(t, err)
	_, err = runStep(steps[0], req)
	require.True(t, fault.Is(err, fault.KindValidation))
	require.Contains(t, err.Error(), "rate limit for request 'Test' exceeded")
}

func TestRateLimitIsPerConnection(t *testing.T) {
	step := engine.RateLimit(config.Limit{Count: 2, Per: time.Minute})
	a, b := newRequest(""), newRequest("")

	for i := 0; i < 2; i++ {
		_, err := runStep(step, a)
		require.NoError(t, err)
	}
	_, err := runStep(step, a)
	require.Error(t, err)
	_, err = runStep(step, b)
	require.NoError(t, err)
}

type noteBody struct {
	Content string  `json:"content"`
	TopicID *string `json:"topicId"`
}

func (b noteBody) Validate() error {
	if b.Content == "" {
		return fault.Validation("'content' must not be empty")
	}
	return nil
}

func TestValidate(t *testing.T) {
	step := engine.Validate[noteBody]("content")

	next, err := runStep(step, newRequest(`{"content":"hello","topicId":"t1"}`))
	require.NoError(t, err)
	body, err := pipeline.Body[noteBody](next)
	require.NoError(t, err)
	require.Equal(t, "hello", body.Content)
	require.Equal(t, "t1", *body.TopicID)

	testCases := map[string]string{
		"missing body":  "",
		"invalid json":  `{"content":`,
		"missing field": `{"topicId":"t1"}`,
		"null field":    `{"content":null}`,
		"wrong type":    `{"content":42}`,
		"failed checks": `{"content":""}`,
	}
	for name, raw := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := runStep(step, newRequest(raw))
			require.True(t, fault.Is(err, fault.KindValidation), "got %v", err)
		})
	}
}

func TestAttachIdentity(t *testing.T) {
	people := memstore.New()
	_, err := people.UpsertPerson(context.Background(), store.Person{ID: "u1", Name: "Ada"})
	require.NoError(t, err)
	step := engine.AttachIdentity(people)

	req := newRequest("").WithUser("u1")
	next, err := runStep(step, req)
	require.NoError(t, err)
	require.Equal(t, "Ada", next.Person.Name)

	next, err = runStep(step, newRequest("").WithUser("stranger"))
	require.NoError(t, err)
	require.Equal(t, "stranger", next.Person.ID)

	next, err = runStep(step, newRequest(""))
	require.NoError(t, err)
	require.Nil(t, next.Person)
}

func TestRequireIdentityAndChannel(t *testing.T) {
	_, err := runStep(engine.RequireIdentity(), newRequest(""))
	require.True(t, fault.Is(err, fault.KindAuthorization))
	_, err = runStep(engine.RequireIdentity(), newRequest("").WithUser("u1"))
	require.NoError(t, err)

	_, err = runStep(engine.RequireChannel(), newRequest(""))
	require.True(t, fault.Is(err, fault.KindInvariant))
	req := newRequest("")
	req.ChannelID = "m1"
	_, err = runStep(engine.RequireChannel(), req)
	require.NoError(t, err)
}
