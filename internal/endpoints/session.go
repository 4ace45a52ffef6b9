package endpoints

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-huddle/internal/presence"
	"github.com/a-essam23/go-huddle/pkg/auth"
	"github.com/a-essam23/go-huddle/pkg/fault"
	"github.com/a-essam23/go-huddle/pkg/pipeline"
	"github.com/a-essam23/go-huddle/pkg/state"
	"github.com/a-essam23/go-huddle/pkg/store"
)

type AuthenticateResult struct {
	UserID string        `json:"userId"`
	Person *store.Person `json:"person"`
}

func (h *handlers) authenticate(req pipeline.Request, _ pipeline.Responder) (any, error) {
	body, err := pipeline.Body[authenticateBody](req)
	if err != nil {
		return nil, err
	}
	claims, err := auth.ParseSession(h.jwtSecret, body.Token)
	if err != nil {
		req.Logger.Debug("Rejected session token", slog.Any("error", err))
		return nil, fault.Authorization("invalid session token")
	}

	if err := h.state.AssociateUser(req.ConnID, claims.Subject); err != nil {
		if errors.Is(err, state.ErrIdentityLocked) {
			return nil, fault.Invariant("leave the meeting before changing identity")
		}
		return nil, fmt.Errorf("failed to bind identity: %w", err)
	}

	person, err := h.store.UpsertPerson(req.Ctx, store.Person{ID: claims.Subject, Name: claims.Name})
	if err != nil {
		return nil, fmt.Errorf("failed to store person '%s': %w", claims.Subject, err)
	}
	req.Logger.Info("Connection authenticated", slog.String("userID", claims.Subject))
	return AuthenticateResult{UserID: claims.Subject, Person: person}, nil
}

// createMeeting opens a new meeting. The creator still has to join it.
func (h *handlers) createMeeting(req pipeline.Request, _ pipeline.Responder) (any, error) {
	body, err := pipeline.Body[createMeetingBody](req)
	if err != nil {
		return nil, err
	}
	meeting, err := h.store.CreateMeeting(req.Ctx, store.Meeting{Title: body.Title})
	if err != nil {
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}
	req.Logger.Info("Meeting created", slog.String("meetingID", meeting.ID), slog.String("userID", req.UserID))
	return meeting, nil
}

type JoinResult struct {
	Meeting *store.Meeting `json:"meeting"`
	Person  *store.Person  `json:"person"`
}

func (h *handlers) joinMeeting(req pipeline.Request, _ pipeline.Responder) (any, error) {
	body, err := pipeline.Body[joinMeetingBody](req)
	if err != nil {
		return nil, err
	}
	meeting, err := h.store.GetMeeting(req.Ctx, body.MeetingID)
	if err != nil {
		return nil, lookupErr(err, "meeting", body.MeetingID)
	}
	if err := h.state.SetChannel(req.ConnID, meeting.ID); err != nil {
		return nil, fmt.Errorf("failed to join meeting '%s': %w", meeting.ID, err)
	}
	return JoinResult{Meeting: meeting, Person: req.Person}, nil
}

type LeaveResult struct {
	MeetingID string `json:"meetingId"`
}

func (h *handlers) leaveMeeting(req pipeline.Request, _ pipeline.Responder) (any, error) {
	if err := h.state.SetChannel(req.ConnID, ""); err != nil {
		return nil, fmt.Errorf("failed to leave meeting '%s': %w", req.ChannelID, err)
	}
	return LeaveResult{MeetingID: req.ChannelID}, nil
}

func (h *handlers) getMeeting(req pipeline.Request, _ pipeline.Responder) (any, error) {
	meeting, err := h.store.GetMeeting(req.Ctx, req.ChannelID)
	if err != nil {
		return nil, lookupErr(err, "meeting", req.ChannelID)
	}
	return meeting, nil
}

func (h *handlers) getParticipants(req pipeline.Request, _ pipeline.Responder) (any, error) {
	return presence.Snapshot(req.ChannelID, h.state.MembersOf(req.ChannelID)), nil
}

func (h *handlers) setCurrentProtocol(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[setCurrentProtocolBody](req)
	if err != nil {
		return nil, err
	}

	patch := store.MeetingPatch{ClearCurrentProtocol: body.ProtocolID == nil}
	if body.ProtocolID != nil {
		if _, err := h.meetingProtocol(req, *body.ProtocolID); err != nil {
			return nil, err
		}
		patch.CurrentProtocolID = body.ProtocolID
	}

	meeting, err := h.store.UpdateMeeting(req.Ctx, req.ChannelID, patch)
	if err != nil {
		return nil, lookupErr(err, "meeting", req.ChannelID)
	}
	if err := res.Broadcast(ResponseMeeting, meeting, true); err != nil {
		return nil, err
	}
	if meeting.CurrentProtocolID != nil {
		return nil, h.refreshReadiness(req, res, *meeting.CurrentProtocolID)
	}
	return nil, nil
}
