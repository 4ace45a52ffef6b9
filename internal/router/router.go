package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/a-essam23/go-huddle/pkg/fault"
	"github.com/a-essam23/go-huddle/pkg/pipeline"
	"github.com/a-essam23/go-huddle/pkg/state"
	"github.com/google/uuid"
)

// EndpointSource resolves a request type to its stage chain.
type EndpointSource interface {
	Lookup(requestType string) ([]pipeline.Step, bool)
}

// EventRouter is the dispatcher: it decodes inbound messages, runs the
// matching chain to completion and turns failures into a single Error reply.
type EventRouter struct {
	logger       *slog.Logger
	stateManager state.Manager
	endpoints    EndpointSource
}

func NewEventRouter(logger *slog.Logger, stateManager state.Manager, endpoints EndpointSource) *EventRouter {
	return &EventRouter{
		logger:       logger.With(slog.String("component", "event_router")),
		stateManager: stateManager,
		endpoints:    endpoints,
	}
}

// HandleMessage processes one inbound message. It runs on the connection's
// read loop, so messages from one connection are handled in order.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	conn, ok := r.stateManager.GetConnection(connID)
	if !ok {
		r.logger.Error("could not find connection profile for active connection", slog.String("connID", connID.String()))
		return
	}

	clientMsg, err := DecodeRequest(msg)
	if err != nil {
		requestID := clientMsg.RequestID
		if requestID == uuid.Nil {
			requestID = salvageRequestID(msg)
		}
		r.logger.Warn("Failed to decode client message", slog.String("connID", connID.String()), slog.Any("error", err))
		res := r.newResponse(conn, "", requestID)
		res.fail(fault.Validation("%s", err.Error()))
		return
	}

	reqLogger := r.logger.With(
		slog.String("connID", connID.String()),
		slog.String("requestType", clientMsg.RequestType),
		slog.String("requestID", clientMsg.RequestID.String()),
	)
	req := pipeline.Request{
		Ctx:       ctx,
		Logger:    reqLogger,
		ConnID:    connID,
		UserID:    conn.UserID,
		ChannelID: conn.ChannelID,
		Type:      clientMsg.RequestType,
		ID:        clientMsg.RequestID,
		Body:      clientMsg.Body,
	}
	res := r.newResponse(conn, clientMsg.RequestType, clientMsg.RequestID)

	steps, ok := r.endpoints.Lookup(clientMsg.RequestType)
	if !ok {
		reqLogger.Warn("Received unknown request type")
		res.fail(fault.UnknownRequestType(clientMsg.RequestType))
		return
	}

	reqLogger.Debug("Executing endpoint chain", slog.Int("steps", len(steps)))
	reply, err := r.run(req, res, steps)
	if err != nil {
		res.fail(err)
		return
	}
	if !isEmpty(reply) {
		if err := res.Send(ResponseDirect, reply, true); err != nil {
			reqLogger.Warn("Failed to deliver direct response", slog.Any("error", err))
		}
	}
}

// run executes steps in order, threading the request through and halting on
// the first error. A panicking step is reported as an internal error.
func (r *EventRouter) run(req pipeline.Request, res pipeline.Responder, steps []pipeline.Step) (reply any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			req.Logger.Error("Endpoint step panicked", slog.Any("panic", rec))
			err = fmt.Errorf("endpoint '%s' panicked: %v", req.Type, rec)
		}
	}()

	for i, step := range steps {
		next, out, stepErr := step(req, res)
		if stepErr != nil {
			req.Logger.Debug("Step failed, halting chain", slog.Int("step", i), slog.Any("error", stepErr))
			return nil, stepErr
		}
		req = next
		if !isEmpty(out) {
			reply = out
		}
	}
	return reply, nil
}

// Publish broadcasts a server-initiated message to every member of channelID.
func (r *EventRouter) Publish(channelID, responseType string, data any) error {
	msg, err := EncodeResponse(responseType, data, nil)
	if err != nil {
		return err
	}
	r.deliver(channelID, msg)
	return nil
}

func (r *EventRouter) deliver(channelID string, msg []byte) int {
	members := r.stateManager.MembersOf(channelID)
	for _, m := range members {
		if err := m.Transport.Send(msg); err != nil {
			r.logger.Debug("Skipping member during broadcast", slog.String("connID", m.ConnID.String()), slog.Any("error", err))
		}
	}
	return len(members)
}

func describe(err error) ErrorBody {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return ErrorBody{Description: fe.Description, Kind: fe.Kind.String()}
	}
	return ErrorBody{Description: "internal server error", Kind: fault.KindInternal.String()}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
