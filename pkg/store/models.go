package store

import (
	"encoding/json"
	"time"
)

type Person struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type Meeting struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	CurrentProtocolID *string   `json:"currentProtocolId"`
	Idle              bool      `json:"idle"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// MeetingPatch is a partial update. ClearCurrentProtocol wins over CurrentProtocolID.
type MeetingPatch struct {
	Title                *string
	CurrentProtocolID    *string
	ClearCurrentProtocol bool
}

// PhaseType names the completion policy of a protocol phase.
type PhaseType string

const (
	PhaseSingleResponse       PhaseType = "SingleResponse"
	PhaseMinimumItemCount     PhaseType = "MinimumItemCount"
	PhaseVoteOnContentList    PhaseType = "VoteOnContentList"
	PhaseContributionFromEach PhaseType = "OneContributionPerPerson"
	PhaseFreeform             PhaseType = "Freeform"
)

type Phase struct {
	Type PhaseType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Protocol is a multi-phase decision session. GetProtocol and UpdateProtocol
// return it hydrated with its items and their actions.
type Protocol struct {
	ID                string    `json:"id"`
	MeetingID         string    `json:"meetingId"`
	Name              string    `json:"name"`
	CreatedBy         string    `json:"createdBy"`
	Phases            []Phase   `json:"phases"`
	CurrentPhase      int       `json:"currentPhase"`
	ReadyForNextPhase bool      `json:"readyForNextPhase"`
	Completed         bool      `json:"completed"`
	PhaseChangedAt    time.Time `json:"phaseChangedAt"`
	CreatedAt         time.Time `json:"createdAt"`
	Items             []Item    `json:"items"`
}

// IsFinalPhase reports whether the protocol sits on its last phase.
func (p *Protocol) IsFinalPhase() bool {
	return p.CurrentPhase == len(p.Phases)-1
}

// ItemsInPhase returns the items created during the given phase.
func (p *Protocol) ItemsInPhase(phase int) []Item {
	items := make([]Item, 0, len(p.Items))
	for _, it := range p.Items {
		if it.Phase == phase {
			items = append(items, it)
		}
	}
	return items
}

// AllActions flattens the actions of every item.
func (p *Protocol) AllActions() []Action {
	var actions []Action
	for _, it := range p.Items {
		actions = append(actions, it.Actions...)
	}
	return actions
}

type ProtocolPatch struct {
	Name              *string
	CurrentPhase      *int
	ReadyForNextPhase *bool
	Completed         *bool
	PhaseChangedAt    *time.Time
}

type Item struct {
	ID         string    `json:"id"`
	ProtocolID string    `json:"protocolId"`
	ParentID   *string   `json:"parentId"`
	Phase      int       `json:"phase"`
	Content    string    `json:"content"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
	Actions    []Action  `json:"actions"`
}

type ItemPatch struct {
	Content     *string
	ParentID    *string
	ClearParent bool
}

// Action is a participant's contribution on an item, e.g. a vote.
type Action struct {
	ID         string    `json:"id"`
	ItemID     string    `json:"itemId"`
	ProtocolID string    `json:"protocolId"`
	Kind       string    `json:"kind"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Note struct {
	ID        string    `json:"id"`
	MeetingID string    `json:"meetingId"`
	TopicID   *string   `json:"topicId"`
	Content   string    `json:"content"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type NotePatch struct {
	Content *string
}

type Topic struct {
	ID        string    `json:"id"`
	MeetingID string    `json:"meetingId"`
	Title     string    `json:"title"`
	Done      bool      `json:"done"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

type TopicPatch struct {
	Title *string
	Done  *bool
}
