package state

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrUnknownConnection means the registry has no such connection, which is a logic error.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrNoActiveChannel is the normal state of a connection that has not joined a meeting.
	ErrNoActiveChannel   = errors.New("no active channel")
	ErrAlreadyRegistered = errors.New("connection is already registered")
	ErrIdentityLocked    = errors.New("identity cannot change while in a channel")
)

type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(t Transport, ipAddr string) (Connection, error)
	// removes the connection, leaving its channel first if it has one.
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (Connection, bool)
	AllConnections() []Connection

	// --- Identity ---
	AssociateUser(connID uuid.UUID, userID string) error
	FindOldestUserConnection(userID string) (Connection, bool)
	GetUserConnectionCount(userID string) int

	// --- Channel Membership ---
	// atomically leaves the current channel and joins channelID; "" only leaves.
	SetChannel(connID uuid.UUID, channelID string) error
	ChannelOf(connID uuid.UUID) (string, error)
	MembersOf(channelID string) []Member
	Channels() map[string]int

	// Subscribe registers a listener for every membership change. Listeners run
	// in mutation order on the mutating goroutine and must hand slow work off.
	Subscribe(listener MembershipListener)
}
