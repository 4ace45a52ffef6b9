package endpoints

import (
	"fmt"

	"github.com/a-essam23/go-huddle/pkg/pipeline"
	"github.com/a-essam23/go-huddle/pkg/store"
)

type Deleted struct {
	ID        string `json:"id"`
	MeetingID string `json:"meetingId,omitempty"`
}

func (h *handlers) meetingNote(req pipeline.Request, id string) (*store.Note, error) {
	note, err := h.store.GetNote(req.Ctx, id)
	if err != nil {
		return nil, lookupErr(err, "note", id)
	}
	if err := inMeeting(req, note.MeetingID, "note", id); err != nil {
		return nil, err
	}
	return note, nil
}

func (h *handlers) meetingTopic(req pipeline.Request, id string) (*store.Topic, error) {
	topic, err := h.store.GetTopic(req.Ctx, id)
	if err != nil {
		return nil, lookupErr(err, "topic", id)
	}
	if err := inMeeting(req, topic.MeetingID, "topic", id); err != nil {
		return nil, err
	}
	return topic, nil
}

func (h *handlers) getNotes(req pipeline.Request, _ pipeline.Responder) (any, error) {
	notes, err := h.store.ListNotes(req.Ctx, req.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	if notes == nil {
		notes = []store.Note{}
	}
	return notes, nil
}

func (h *handlers) createNote(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[createNoteBody](req)
	if err != nil {
		return nil, err
	}
	if body.TopicID != nil {
		if _, err := h.meetingTopic(req, *body.TopicID); err != nil {
			return nil, err
		}
	}
	note, err := h.store.CreateNote(req.Ctx, store.Note{
		MeetingID: req.ChannelID,
		TopicID:   body.TopicID,
		Content:   body.Content,
		CreatedBy: req.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}
	return nil, res.Broadcast(ResponseNote, note, true)
}

func (h *handlers) updateNote(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[updateNoteBody](req)
	if err != nil {
		return nil, err
	}
	if _, err := h.meetingNote(req, body.ID); err != nil {
		return nil, err
	}
	note, err := h.store.UpdateNote(req.Ctx, body.ID, store.NotePatch{Content: &body.Content})
	if err != nil {
		return nil, lookupErr(err, "note", body.ID)
	}
	return nil, res.Broadcast(ResponseNote, note, true)
}

func (h *handlers) deleteNote(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[idBody](req)
	if err != nil {
		return nil, err
	}
	note, err := h.meetingNote(req, body.ID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(req, note.CreatedBy, "note", note.ID); err != nil {
		return nil, err
	}
	if err := h.store.DeleteNote(req.Ctx, note.ID); err != nil {
		return nil, lookupErr(err, "note", note.ID)
	}
	return nil, res.Broadcast(ResponseNoteDeleted, Deleted{ID: note.ID, MeetingID: note.MeetingID}, true)
}

func (h *handlers) getTopics(req pipeline.Request, _ pipeline.Responder) (any, error) {
	topics, err := h.store.ListTopics(req.Ctx, req.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	if topics == nil {
		topics = []store.Topic{}
	}
	return topics, nil
}

func (h *handlers) createTopic(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[createTopicBody](req)
	if err != nil {
		return nil, err
	}
	topic, err := h.store.CreateTopic(req.Ctx, store.Topic{
		MeetingID: req.ChannelID,
		Title:     body.Title,
		CreatedBy: req.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create topic: %w", err)
	}
	return nil, res.Broadcast(ResponseTopic, topic, true)
}

func (h *handlers) updateTopic(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[updateTopicBody](req)
	if err != nil {
		return nil, err
	}
	if _, err := h.meetingTopic(req, body.ID); err != nil {
		return nil, err
	}
	topic, err := h.store.UpdateTopic(req.Ctx, body.ID, store.TopicPatch{Title: body.Title, Done: body.Done})
	if err != nil {
		return nil, lookupErr(err, "topic", body.ID)
	}
	return nil, res.Broadcast(ResponseTopic, topic, true)
}

// deleteTopic detaches the topic's notes; their new state is rebroadcast.
func (h *handlers) deleteTopic(req pipeline.Request, res pipeline.Responder) (any, error) {
	body, err := pipeline.Body[idBody](req)
	if err != nil {
		return nil, err
	}
	topic, err := h.meetingTopic(req, body.ID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(req, topic.CreatedBy, "topic", topic.ID); err != nil {
		return nil, err
	}

	notes, err := h.store.ListNotes(req.Ctx, topic.MeetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	if err := h.store.DeleteTopic(req.Ctx, topic.ID); err != nil {
		return nil, lookupErr(err, "topic", topic.ID)
	}
	if err := res.Broadcast(ResponseTopicDeleted, Deleted{ID: topic.ID, MeetingID: topic.MeetingID}, true); err != nil {
		return nil, err
	}
	for _, n := range notes {
		if n.TopicID == nil || *n.TopicID != topic.ID {
			continue
		}
		n.TopicID = nil
		if err := res.Broadcast(ResponseNote, n, false); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
