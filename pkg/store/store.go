// Package store is the persistence boundary. The real-time core treats it as
// the system of record and never caches what it returns across requests.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

type PersonStore interface {
	GetPerson(ctx context.Context, id string) (*Person, error)
	UpsertPerson(ctx context.Context, p Person) (*Person, error)
}

type MeetingStore interface {
	CreateMeeting(ctx context.Context, m Meeting) (*Meeting, error)
	GetMeeting(ctx context.Context, id string) (*Meeting, error)
	UpdateMeeting(ctx context.Context, id string, patch MeetingPatch) (*Meeting, error)
	SetMeetingIdle(ctx context.Context, id string, idle bool) error
}

type ProtocolStore interface {
	CreateProtocol(ctx context.Context, p Protocol) (*Protocol, error)
	GetProtocol(ctx context.Context, id string) (*Protocol, error)
	UpdateProtocol(ctx context.Context, id string, patch ProtocolPatch) (*Protocol, error)
	// DeleteProtocol cascades to the protocol's items and actions.
	DeleteProtocol(ctx context.Context, id string) error

	CreateItem(ctx context.Context, it Item) (*Item, error)
	GetItem(ctx context.Context, id string) (*Item, error)
	ListItemsByPhase(ctx context.Context, protocolID string, phase int) ([]Item, error)
	ListItemsByProtocol(ctx context.Context, protocolID string) ([]Item, error)
	UpdateItem(ctx context.Context, id string, patch ItemPatch) (*Item, error)
	// DeleteItem cascades to the item's actions and ungroups its children.
	DeleteItem(ctx context.Context, id string) error
	DeleteItems(ctx context.Context, ids []string) error

	CreateAction(ctx context.Context, a Action) (*Action, error)
	GetAction(ctx context.Context, id string) (*Action, error)
	ListActionsByItem(ctx context.Context, itemID string) ([]Action, error)
	DeleteAction(ctx context.Context, id string) error
	DeleteActions(ctx context.Context, ids []string) error
}

type NoteStore interface {
	CreateNote(ctx context.Context, n Note) (*Note, error)
	GetNote(ctx context.Context, id string) (*Note, error)
	ListNotes(ctx context.Context, meetingID string) ([]Note, error)
	UpdateNote(ctx context.Context, id string, patch NotePatch) (*Note, error)
	DeleteNote(ctx context.Context, id string) error
}

type TopicStore interface {
	CreateTopic(ctx context.Context, t Topic) (*Topic, error)
	GetTopic(ctx context.Context, id string) (*Topic, error)
	ListTopics(ctx context.Context, meetingID string) ([]Topic, error)
	UpdateTopic(ctx context.Context, id string, patch TopicPatch) (*Topic, error)
	DeleteTopic(ctx context.Context, id string) error
}

type Store interface {
	PersonStore
	MeetingStore
	ProtocolStore
	NoteStore
	TopicStore
	Close()
}
