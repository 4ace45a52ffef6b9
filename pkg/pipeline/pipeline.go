package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-huddle/pkg/store"
	"github.com/google/uuid"
)

/*
 * The purpose of this is to detach the implementation of endpoints and stages
 * from the dispatcher that runs them.
 */

// Request is the view of one inbound message handed to each stage. Stages
// never mutate it in place; a stage that enriches it returns a modified copy,
// which the dispatcher threads into the next stage.
type Request struct {
	Ctx    context.Context
	Logger *slog.Logger

	ConnID    uuid.UUID
	UserID    string
	ChannelID string

	Type string
	ID   uuid.UUID
	Body json.RawMessage

	// Decoded holds the typed body once a validation stage accepted it.
	Decoded any
	// Person is the identity record attached by the identity stage, if any.
	Person *store.Person
}

func (r Request) Authenticated() bool {
	return r.UserID != ""
}

func (r Request) HasChannel() bool {
	return r.ChannelID != ""
}

func (r Request) WithDecoded(body json.RawMessage, decoded any) Request {
	r.Body = body
	r.Decoded = decoded
	return r
}

func (r Request) WithPerson(p *store.Person) Request {
	r.Person = p
	return r
}

func (r Request) WithUser(userID string) Request {
	r.UserID = userID
	return r
}

// Responder delivers replies for one request. includeRequestID asks for the
// correlation id to be attached; only the first such message carries it.
type Responder interface {
	// Send delivers to the requesting connection only. Asking for a correlation
	// id that was already used drops the message and returns an error.
	Send(responseType string, data any, includeRequestID bool) error
	// Broadcast delivers to every member of the requester's channel, and is a
	// no-op when the requester has none. Other members need the state change
	// regardless, so a used correlation id is stripped from the message rather
	// than the message being dropped.
	Broadcast(responseType string, data any, includeRequestID bool) error
}

// Step is one link of an endpoint chain. It returns the request to hand to the
// next step and an optional value to reply with once the chain completes.
type Step func(req Request, res Responder) (Request, any, error)

// Handle adapts a business function that leaves the request untouched.
func Handle(fn func(req Request, res Responder) (any, error)) Step {
	return func(req Request, res Responder) (Request, any, error) {
		out, err := fn(req, res)
		return req, out, err
	}
}

// Transform adapts a function that only enriches or rejects the request.
func Transform(fn func(req Request) (Request, error)) Step {
	return func(req Request, _ Responder) (Request, any, error) {
		next, err := fn(req)
		return next, nil, err
	}
}

// Body returns the typed body a validation stage stored on the request.
func Body[T any](req Request) (T, error) {
	body, ok := req.Decoded.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("request '%s' has no decoded %T body", req.Type, zero)
	}
	return body, nil
}
