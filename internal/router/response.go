package router

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/a-essam23/go-huddle/pkg/fault"
	"github.com/a-essam23/go-huddle/pkg/pipeline"
	"github.com/a-essam23/go-huddle/pkg/state"
	"github.com/google/uuid"
)

// ErrReplyAlreadySent is returned when a second message tries to carry a
// correlation id that has already been delivered. The message is dropped.
var ErrReplyAlreadySent = errors.New("correlation id already consumed")

// response implements pipeline.Responder for one in-flight request.
type response struct {
	router      *EventRouter
	conn        state.Connection
	requestType string
	requestID   uuid.UUID
	consumed    atomic.Bool
	logger      *slog.Logger
}

var _ pipeline.Responder = (*response)(nil)

func (r *EventRouter) newResponse(conn state.Connection, requestType string, requestID uuid.UUID) *response {
	return &response{
		router:      r,
		conn:        conn,
		requestType: requestType,
		requestID:   requestID,
		logger: r.logger.With(
			slog.String("connID", conn.ID.String()),
			slog.String("requestID", requestID.String()),
		),
	}
}

// claim hands out the correlation id exactly once.
func (res *response) claim() (*uuid.UUID, bool) {
	if res.requestID == uuid.Nil {
		return nil, true
	}
	if !res.consumed.CompareAndSwap(false, true) {
		return nil, false
	}
	id := res.requestID
	return &id, true
}

func (res *response) Send(responseType string, data any, includeRequestID bool) error {
	var id *uuid.UUID
	if includeRequestID {
		claimed, ok := res.claim()
		if !ok {
			res.logger.Warn("Dropping reply for already answered request", slog.String("responseType", responseType))
			return ErrReplyAlreadySent
		}
		id = claimed
	}
	msg, err := EncodeResponse(responseType, data, id)
	if err != nil {
		return err
	}
	return res.conn.Transport.Send(msg)
}

// Broadcast targets the requester's channel as it is now, falling back to the
// channel it had when the request arrived if the connection has since gone.
// A broadcast that loses the correlation id race is still delivered, without it.
func (res *response) Broadcast(responseType string, data any, includeRequestID bool) error {
	channelID, err := res.router.stateManager.ChannelOf(res.conn.ID)
	switch {
	case errors.Is(err, state.ErrNoActiveChannel):
		return nil
	case errors.Is(err, state.ErrUnknownConnection):
		channelID = res.conn.ChannelID
	}
	if channelID == "" {
		return nil
	}

	var id *uuid.UUID
	if includeRequestID {
		claimed, ok := res.claim()
		if !ok {
			res.logger.Warn("Broadcasting without correlation id, already consumed", slog.String("responseType", responseType))
		}
		id = claimed
	}
	msg, err := EncodeResponse(responseType, data, id)
	if err != nil {
		return err
	}
	n := res.router.deliver(channelID, msg)
	res.logger.Debug("Broadcast to channel", slog.String("channelID", channelID), slog.String("responseType", responseType), slog.Int("members", n))
	return nil
}

// fail sends the single Error reply for a failed request.
func (res *response) fail(err error) {
	body := describe(err)
	if fault.KindOf(err) == fault.KindInternal {
		res.logger.Error("Request failed", slog.String("requestType", res.requestType), slog.Any("error", err))
	} else {
		res.logger.Info("Request rejected", slog.String("requestType", res.requestType), slog.String("kind", body.Kind), slog.String("description", body.Description))
	}
	if sendErr := res.Send(ResponseError, body, true); sendErr != nil {
		res.logger.Warn("Failed to deliver error reply", slog.Any("error", sendErr))
	}
}
