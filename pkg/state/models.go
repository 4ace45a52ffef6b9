package state

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Transport is the sending half of a live client session.
type Transport interface {
	ID() uuid.UUID
	Send(message []byte) error
	Close(err error)
}

// representation of a single transport-layer connection.
// UserID is empty for guests and ChannelID is empty until a meeting is joined.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport Transport
	UserID    string
	ChannelID string
	CreatedAt time.Time
}

func (c Connection) Authenticated() bool {
	return c.UserID != ""
}

// canonical representation of a meeting channel. Members are indexed by
// connection id; the connections themselves live in the registry.
type Channel struct {
	ID      string
	Members map[uuid.UUID]struct{}
}

// Member is one connection present in a channel, with its identity.
type Member struct {
	ConnID    uuid.UUID
	UserID    string
	Transport Transport
}

func (m Member) Authenticated() bool {
	return m.UserID != ""
}

type Change int

const (
	ChangeIncrease Change = iota + 1
	ChangeDecrease
)

func (c Change) String() string {
	switch c {
	case ChangeIncrease:
		return "Increase"
	case ChangeDecrease:
		return "Decrease"
	default:
		return "Unknown"
	}
}

// MembershipEvent reports a change to one channel's member set.
type MembershipEvent struct {
	ChannelID     string
	Change        Change
	ConnID        uuid.UUID
	UserID        string
	Members       []Member
	PreviousCount int
}

// Activated reports a 0 -> 1 transition.
func (e MembershipEvent) Activated() bool {
	return e.PreviousCount == 0 && len(e.Members) > 0
}

// Emptied reports a transition to zero members.
func (e MembershipEvent) Emptied() bool {
	return e.PreviousCount > 0 && len(e.Members) == 0
}

type MembershipListener func(MembershipEvent)

// PresentUsers returns the distinct authenticated user ids among members, sorted.
// Guests never count towards quorum.
func PresentUsers(members []Member) []string {
	seen := make(map[string]struct{}, len(members))
	users := make([]string, 0, len(members))
	for _, m := range members {
		if !m.Authenticated() {
			continue
		}
		if _, dup := seen[m.UserID]; dup {
			continue
		}
		seen[m.UserID] = struct{}{}
		users = append(users, m.UserID)
	}
	sort.Strings(users)
	return users
}
