package endpoints

import (
	"strings"

	"github.com/a-essam23/go-huddle/pkg/fault"
	"github.com/a-essam23/go-huddle/pkg/store"
)

const maxContentLength = 10_000

func checkContent(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fault.Validation("'%s' must not be empty", field)
	}
	if len(v) > maxContentLength {
		return fault.Validation("'%s' exceeds %d characters", field, maxContentLength)
	}
	return nil
}

type empty struct{}

func (empty) Validate() error { return nil }

type idBody struct {
	ID string `json:"id"`
}

func (b idBody) Validate() error {
	if b.ID == "" {
		return fault.Validation("'id' must not be empty")
	}
	return nil
}

type idsBody struct {
	IDs []string `json:"ids"`
}

func (b idsBody) Validate() error {
	if len(b.IDs) == 0 {
		return fault.Validation("'ids' must not be empty")
	}
	seen := make(map[string]struct{}, len(b.IDs))
	for _, id := range b.IDs {
		if id == "" {
			return fault.Validation("'ids' must not contain empty ids")
		}
		if _, dup := seen[id]; dup {
			return fault.Validation("'ids' lists '%s' more than once", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

type authenticateBody struct {
	Token string `json:"token"`
}

func (b authenticateBody) Validate() error {
	if b.Token == "" {
		return fault.Validation("'token' must not be empty")
	}
	return nil
}

type joinMeetingBody struct {
	MeetingID string `json:"meetingId"`
}

func (b joinMeetingBody) Validate() error {
	if b.MeetingID == "" {
		return fault.Validation("'meetingId' must not be empty")
	}
	return nil
}

type setCurrentProtocolBody struct {
	ProtocolID *string `json:"protocolId"`
}

func (setCurrentProtocolBody) Validate() error { return nil }

type createNoteBody struct {
	Content string  `json:"content"`
	TopicID *string `json:"topicId"`
}

func (b createNoteBody) Validate() error {
	return checkContent("content", b.Content)
}

type updateNoteBody struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (b updateNoteBody) Validate() error {
	if b.ID == "" {
		return fault.Validation("'id' must not be empty")
	}
	return checkContent("content", b.Content)
}

type createMeetingBody struct {
	Title string `json:"title"`
}

func (b createMeetingBody) Validate() error {
	return checkContent("title", b.Title)
}

type createTopicBody struct {
	Title string `json:"title"`
}

func (b createTopicBody) Validate() error {
	return checkContent("title", b.Title)
}

type updateTopicBody struct {
	ID    string  `json:"id"`
	Title *string `json:"title"`
	Done  *bool   `json:"done"`
}

func (b updateTopicBody) Validate() error {
	if b.ID == "" {
		return fault.Validation("'id' must not be empty")
	}
	if b.Title == nil && b.Done == nil {
		return fault.Validation("nothing to update")
	}
	if b.Title != nil {
		return checkContent("title", *b.Title)
	}
	return nil
}

var knownPhaseTypes = map[store.PhaseType]struct{}{
	"":                              {},
	store.PhaseSingleResponse:       {},
	store.PhaseMinimumItemCount:     {},
	store.PhaseVoteOnContentList:    {},
	store.PhaseContributionFromEach: {},
	store.PhaseFreeform:             {},
}

type createProtocolBody struct {
	Name   string        `json:"name"`
	Phases []store.Phase `json:"phases"`
}

func (b createProtocolBody) Validate() error {
	if len(b.Phases) == 0 {
		return fault.Validation("a protocol needs at least one phase")
	}
	for i, ph := range b.Phases {
		if _, ok := knownPhaseTypes[ph.Type]; !ok {
			return fault.Validation("phase %d has unknown type '%s'", i, ph.Type)
		}
	}
	return nil
}

type createItemBody struct {
	ProtocolID string  `json:"protocolId"`
	Content    string  `json:"content"`
	ParentID   *string `json:"parentId"`
}

func (b createItemBody) Validate() error {
	if b.ProtocolID == "" {
		return fault.Validation("'protocolId' must not be empty")
	}
	return checkContent("content", b.Content)
}

type updateItemBody struct {
	ID          string  `json:"id"`
	Content     *string `json:"content"`
	ParentID    *string `json:"parentId"`
	ClearParent bool    `json:"clearParent"`
}

func (b updateItemBody) Validate() error {
	if b.ID == "" {
		return fault.Validation("'id' must not be empty")
	}
	if b.Content == nil && b.ParentID == nil && !b.ClearParent {
		return fault.Validation("nothing to update")
	}
	if b.ParentID != nil && *b.ParentID == b.ID {
		return fault.Validation("an item cannot be its own parent")
	}
	if b.Content != nil {
		return checkContent("content", *b.Content)
	}
	return nil
}

type createActionBody struct {
	ItemID string `json:"itemId"`
	Kind   string `json:"kind"`
}

func (b createActionBody) Validate() error {
	if b.ItemID == "" {
		return fault.Validation("'itemId' must not be empty")
	}
	if b.Kind == "" {
		return fault.Validation("'kind' must not be empty")
	}
	return nil
}
