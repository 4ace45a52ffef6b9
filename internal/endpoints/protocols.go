package endpoints

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-huddle/internal/protocol"
	"github.com/a-essam23/go-huddle/pkg/fault"
	"github.com/a-essam23/go-huddle/pkg/pipeline"
	"github.com/a-essam23/go-huddle/pkg/store"
)

type ItemDeleted struct {
	IDs        []string `json:"ids"`
	ProtocolID string   `json:"protocolId"`
}

type ActionDeleted struct {
	ID         string `json:"id"`
	ItemID     string `json:"itemId"`
	ProtocolID string `json:"protocolId"`
}

func (h *handlers) meetingProtocol(req pipeline.Request, id string) (*store.Protocol, error) {
	p, err := h.store.GetProtocol(req.Ctx, id)
	if err != nil {
		return nil, lookupErr(err, "protocol", id)
	}
	if err := inMeeting(req, p.MeetingID, "protocol", id); err != nil {
		return nil, err
	}
	return p, nil
}

// meetingItem loads an item together with its protocol, both scoped to the
// requester's meeting.
func (h *handlers) meetingItem(req pipeline.Request, id string) (*store.Item, *store.Protocol, error) {
	it, err := h.store.GetItem(req.Ctx, id)
	if err != nil {
		return nil, nil, lookupErr(err, "item", id)
	}
	p, err := h.meetingProtocol(req, it.ProtocolID)
	if err != nil {
		if fault.Is(err, fault.KindNotFound) {
			return nil, nil, fault.NotFound("item '%s' not found", id)
		}
		return nil, nil, err
	}
	return it, p, nil
}

func ongoing(p *store.Protocol) error {
	if p.Completed {
		return fault.Invariant("protocol '%s' is already completed", p.ID)
	}
	return nil
}

// refreshReadiness recomputes readiness after a mutation of the protocol's
// inputs and rebroadcasts the protocol if it changed.
func (h *handlers) refreshReadiness(req pipeline.Request, res pipeline.Responder, protocolID string) error {
	p, changed, err := h.phases.Refresh(req.Ctx, protocolID, req.ChannelID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return res.Broadcast(ResponseProtocol, p, false)
}

func (h *handlers) createProtocol(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[createProtocolBody](req)
	if err != nil {
		return nil, err
	}
	created, err := h.store.CreateProtocol(req.Ctx, store.Protocol{
		MeetingID: req.ChannelID,
		Name:      body.Name,
		CreatedBy: req.UserID,
		Phases:    body.Phases,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create protocol: %w", err)
	}

	meeting, err := h.store.UpdateMeeting(req.Ctx, req.ChannelID, store.MeetingPatch{CurrentProtocolID: &created.ID})
	if err != nil {
		return nil, lookupErr(err, "meeting", req.ChannelID)
	}

	p, _, err := h.phases.Refresh(req.Ctx, created.ID, req.ChannelID)
	if err != nil {
		return nil, err
	}
	req.Logger.Info("Protocol created", slog.String("protocolID", p.ID), slog.Int("phases", len(p.Phases)))

	if err := res.Broadcast(ResponseProtocol, p, true); err != nil {
		return nil, err
	}
	return nil, res.Broadcast(ResponseMeeting, meeting, false)
}

func (h *handlers) getProtocol(req pipeline.Request, _ pipeline.Responder) (any, error) {
	body, err := pipeline.Body[idBody](req)
	if err != nil {
		return nil, err
	}
	return h.meetingProtocol(req, body.ID)
}

func (h *handlers) deleteProtocol(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[idBody](req)
	if err != nil {
		return nil, err
	}
	p, err := h.meetingProtocol(req, body.ID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(req, p.CreatedBy, "protocol", p.ID); err != nil {
		return nil, err
	}
	if err := h.store.DeleteProtocol(req.Ctx, p.ID); err != nil {
		return nil, lookupErr(err, "protocol", p.ID)
	}
	if err := res.Broadcast(ResponseProtocolDeleted, Deleted{ID: p.ID, MeetingID: p.MeetingID}, true); err != nil {
		return nil, err
	}

	meeting, err := h.store.GetMeeting(req.Ctx, p.MeetingID)
	if err != nil {
		return nil, lookupErr(err, "meeting", p.MeetingID)
	}
	if meeting.CurrentProtocolID == nil || *meeting.CurrentProtocolID != p.ID {
		return nil, nil
	}
	meeting, err = h.store.UpdateMeeting(req.Ctx, p.MeetingID, store.MeetingPatch{ClearCurrentProtocol: true})
	if err != nil {
		return nil, lookupErr(err, "meeting", p.MeetingID)
	}
	return nil, res.Broadcast(ResponseMeeting, meeting, false)
}

// A debounced move replies with nothing at all.
func (h *handlers) advanceProtocol(req pipeline.Request, res pipeline.Responder) (any, error) {
	return h.moveProtocol(req, res, h.phases.Advance)
}

func (h *handlers) retreatProtocol(req pipeline.Request, res pipeline.Responder) (any, error) {
	return h.moveProtocol(req, res, h.phases.Retreat)
}

type moveFunc func(ctx context.Context, protocolID, channelID string) (*store.Protocol, bool, error)

func (h *handlers) moveProtocol(req pipeline.Request, res pipeline.Responder, move moveFunc) (any, error) {
	body, err := pipeline.Body[idBody](req)
	if err != nil {
		return nil, err
	}
	if _, err := h.meetingProtocol(req, body.ID); err != nil {
		return nil, err
	}
	p, moved, err := move(req.Ctx, body.ID, req.ChannelID)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, nil
	}
	return nil, res.Broadcast(ResponseProtocol, p, true)
}

func (h *handlers) createItem(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[createItemBody](req)
	if err != nil {
		return nil, err
	}
	p, err := h.meetingProtocol(req, body.ProtocolID)
	if err != nil {
		return nil, err
	}
	if err := ongoing(p); err != nil {
		return nil, err
	}
	if body.ParentID != nil {
		if err := h.checkParent(req, p.ID, *body.ParentID); err != nil {
			return nil, err
		}
	}

	it, err := h.store.CreateItem(req.Ctx, store.Item{
		ProtocolID: p.ID,
		ParentID:   body.ParentID,
		Phase:      p.CurrentPhase,
		Content:    body.Content,
		CreatedBy:  req.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	if err := res.Broadcast(ResponseProtocolItem, it, true); err != nil {
		return nil, err
	}
	return nil, h.refreshReadiness(req, res, p.ID)
}

func (h *handlers) checkParent(req pipeline.Request, protocolID, parentID string) error {
	parent, err := h.store.GetItem(req.Ctx, parentID)
	if err != nil {
		return lookupErr(err, "parent item", parentID)
	}
	if parent.ProtocolID != protocolID {
		return fault.Validation("parent item '%s' belongs to another protocol", parentID)
	}
	return nil
}

func (h *handlers) updateItem(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[updateItemBody](req)
	if err != nil {
		return nil, err
	}
	it, p, err := h.meetingItem(req, body.ID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(req, it.CreatedBy, "item", it.ID); err != nil {
		return nil, err
	}
	if body.ParentID != nil {
		if err := h.checkParent(req, p.ID, *body.ParentID); err != nil {
			return nil, err
		}
	}

	updated, err := h.store.UpdateItem(req.Ctx, it.ID, store.ItemPatch{
		Content:     body.Content,
		ParentID:    body.ParentID,
		ClearParent: body.ClearParent,
	})
	if err != nil {
		return nil, lookupErr(err, "item", it.ID)
	}
	if err := res.Broadcast(ResponseProtocolItem, updated, true); err != nil {
		return nil, err
	}
	return nil, h.refreshReadiness(req, res, p.ID)
}

func (h *handlers) deleteItem(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[idBody](req)
	if err != nil {
		return nil, err
	}
	it, p, err := h.meetingItem(req, body.ID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(req, it.CreatedBy, "item", it.ID); err != nil {
		return nil, err
	}
	if err := h.store.DeleteItem(req.Ctx, it.ID); err != nil {
		return nil, lookupErr(err, "item", it.ID)
	}
	if err := res.Broadcast(ResponseProtocolItemDeleted, ItemDeleted{IDs: []string{it.ID}, ProtocolID: p.ID}, true); err != nil {
		return nil, err
	}
	return nil, h.refreshReadiness(req, res, p.ID)
}

// deleteItems removes several items of one protocol, all created by the requester.
func (h *handlers) deleteItems(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[idsBody](req)
	if err != nil {
		return nil, err
	}

	var protocolID string
	for _, id := range body.IDs {
		it, p, err := h.meetingItem(req, id)
		if err != nil {
			return nil, err
		}
		if err := requireOwner(req, it.CreatedBy, "item", it.ID); err != nil {
			return nil, err
		}
		if protocolID == "" {
			protocolID = p.ID
		} else if p.ID != protocolID {
			return nil, fault.Validation("items must belong to the same protocol")
		}
	}

	if err := h.store.DeleteItems(req.Ctx, body.IDs); err != nil {
		return nil, lookupErr(err, "items of protocol", protocolID)
	}
	if err := res.Broadcast(ResponseProtocolItemDeleted, ItemDeleted{IDs: body.IDs, ProtocolID: protocolID}, true); err != nil {
		return nil, err
	}
	return nil, h.refreshReadiness(req, res, protocolID)
}

func (h *handlers) createAction(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[createActionBody](req)
	if err != nil {
		return nil, err
	}
	it, p, err := h.meetingItem(req, body.ItemID)
	if err != nil {
		return nil, err
	}
	if err := ongoing(p); err != nil {
		return nil, err
	}
	if p.CurrentPhase < len(p.Phases) && p.Phases[p.CurrentPhase].Type == store.PhaseVoteOnContentList {
		allowance := protocol.VoteAllowance(len(p.Items))
		if protocol.ActionsBy(p, req.UserID) >= allowance {
			return nil, fault.Authorization("vote allowance of %d reached", allowance)
		}
	}

	action, err := h.store.CreateAction(req.Ctx, store.Action{
		ItemID:     it.ID,
		ProtocolID: p.ID,
		Kind:       body.Kind,
		CreatedBy:  req.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create action: %w", err)
	}
	if err := res.Broadcast(ResponseItemAction, action, true); err != nil {
		return nil, err
	}
	return nil, h.refreshReadiness(req, res, p.ID)
}

func (h *handlers) deleteAction(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[idBody](req)
	if err != nil {
		return nil, err
	}
	action, err := h.store.GetAction(req.Ctx, body.ID)
	if err != nil {
		return nil, lookupErr(err, "action", body.ID)
	}
	if _, err := h.meetingProtocol(req, action.ProtocolID); err != nil {
		if fault.Is(err, fault.KindNotFound) {
			return nil, fault.NotFound("action '%s' not found", body.ID)
		}
		return nil, err
	}
	if err := requireOwner(req, action.CreatedBy, "action", action.ID); err != nil {
		return nil, err
	}
	if err := h.store.DeleteAction(req.Ctx, action.ID); err != nil {
		return nil, lookupErr(err, "action", action.ID)
	}
	deleted := ActionDeleted{ID: action.ID, ItemID: action.ItemID, ProtocolID: action.ProtocolID}
	if err := res.Broadcast(ResponseItemActionDeleted, deleted, true); err != nil {
		return nil, err
	}
	return nil, h.refreshReadiness(req, res, action.ProtocolID)
}
