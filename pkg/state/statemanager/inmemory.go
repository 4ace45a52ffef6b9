package statemanager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/go-huddle/pkg/state"
	"github.com/google/uuid"
)

// InMemoryManager keeps the connection registry and channel membership in
// process memory. A single mutex guards all maps so that a channel switch is
// observed atomically by MembersOf.
type InMemoryManager struct {
	conns    map[uuid.UUID]*state.Connection
	users    map[string]map[uuid.UUID]struct{}
	channels map[string]*state.Channel
	mu       sync.RWMutex

	listeners  []state.MembershipListener
	listenerMu sync.RWMutex

	// serializes listener delivery so events reach subscribers in mutation order.
	emitMu sync.Mutex

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:    make(map[uuid.UUID]*state.Connection),
		users:    make(map[string]map[uuid.UUID]struct{}),
		channels: make(map[string]*state.Channel),
		logger:   logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(t state.Transport, ipAddr string) (state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := t.ID()
	if _, exists := m.conns[connID]; exists {
		return state.Connection{}, state.ErrAlreadyRegistered
	}
	newConn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: t,
		CreatedAt: time.Now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return *newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	conn, ok := m.conns[connID]
	if !ok {
		// connection is already deregistered
		m.mu.Unlock()
		return nil
	}
	var events []state.MembershipEvent
	if conn.ChannelID != "" {
		events = append(events, m.removeFromChannelLocked(conn))
	}
	if conn.UserID != "" {
		m.detachUserLocked(conn)
	}
	delete(m.conns, connID)
	m.mu.Unlock()

	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	m.emit(events)
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	if !ok {
		return state.Connection{}, false
	}
	return *conn, true
}

func (m *InMemoryManager) AllConnections() []state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, *c)
	}
	return conns
}

// --- Identity ---

// AssociateUser binds userID to the connection. Identity is a quorum input, so
// it may only change while the connection is outside any channel.
func (m *InMemoryManager) AssociateUser(connID uuid.UUID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return state.ErrUnknownConnection
	}
	if conn.ChannelID != "" && conn.UserID != userID {
		return state.ErrIdentityLocked
	}
	if conn.UserID != "" {
		m.detachUserLocked(conn)
	}
	conn.UserID = userID
	if userID != "" {
		userConns, exists := m.users[userID]
		if !exists {
			userConns = make(map[uuid.UUID]struct{})
			m.users[userID] = userConns
		}
		userConns[connID] = struct{}{}
	}
	m.logger.Debug("Associated connection with user", slog.String("connID", connID.String()), slog.String("userID", userID))
	return nil
}

func (m *InMemoryManager) detachUserLocked(conn *state.Connection) {
	userConns := m.users[conn.UserID]
	delete(userConns, conn.ID)
	if len(userConns) == 0 {
		delete(m.users, conn.UserID)
	}
}

func (m *InMemoryManager) GetUserConnectionCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}

func (m *InMemoryManager) FindOldestUserConnection(userID string) (state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *state.Connection
	for connID := range m.users[userID] {
		conn := m.conns[connID]
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	if oldest == nil {
		return state.Connection{}, false
	}
	return *oldest, true
}

// --- Channel Membership ---

func (m *InMemoryManager) SetChannel(connID uuid.UUID, channelID string) error {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	conn, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return state.ErrUnknownConnection
	}
	if conn.ChannelID == channelID {
		m.mu.Unlock()
		return nil
	}

	events := make([]state.MembershipEvent, 0, 2)
	if conn.ChannelID != "" {
		events = append(events, m.removeFromChannelLocked(conn))
	}
	if channelID != "" {
		events = append(events, m.addToChannelLocked(conn, channelID))
	}
	m.mu.Unlock()

	m.emit(events)
	return nil
}

func (m *InMemoryManager) addToChannelLocked(conn *state.Connection, channelID string) state.MembershipEvent {
	channel, exists := m.channels[channelID]
	if !exists {
		channel = &state.Channel{
			ID:      channelID,
			Members: make(map[uuid.UUID]struct{}),
		}
		m.channels[channelID] = channel
		m.logger.Debug("Created channel", slog.String("channelID", channelID))
	}
	previous := len(channel.Members)
	channel.Members[conn.ID] = struct{}{}
	conn.ChannelID = channelID

	m.logger.Debug("Connection joined channel", slog.String("connID", conn.ID.String()), slog.String("channelID", channelID))
	return state.MembershipEvent{
		ChannelID:     channelID,
		Change:        state.ChangeIncrease,
		ConnID:        conn.ID,
		UserID:        conn.UserID,
		Members:       m.membersLocked(channelID),
		PreviousCount: previous,
	}
}

func (m *InMemoryManager) removeFromChannelLocked(conn *state.Connection) state.MembershipEvent {
	channelID := conn.ChannelID
	conn.ChannelID = ""

	previous := 0
	if channel, ok := m.channels[channelID]; ok {
		previous = len(channel.Members)
		delete(channel.Members, conn.ID)
		// For memory hygiene, remove the channel once it is empty.
		if len(channel.Members) == 0 {
			delete(m.channels, channelID)
			m.logger.Debug("Removed empty channel", slog.String("channelID", channelID))
		}
	}

	m.logger.Debug("Connection left channel", slog.String("connID", conn.ID.String()), slog.String("channelID", channelID))
	return state.MembershipEvent{
		ChannelID:     channelID,
		Change:        state.ChangeDecrease,
		ConnID:        conn.ID,
		UserID:        conn.UserID,
		Members:       m.membersLocked(channelID),
		PreviousCount: previous,
	}
}

func (m *InMemoryManager) ChannelOf(connID uuid.UUID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[connID]
	if !ok {
		return "", state.ErrUnknownConnection
	}
	if conn.ChannelID == "" {
		return "", state.ErrNoActiveChannel
	}
	return conn.ChannelID, nil
}

func (m *InMemoryManager) MembersOf(channelID string) []state.Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.membersLocked(channelID)
}

func (m *InMemoryManager) membersLocked(channelID string) []state.Member {
	channel, ok := m.channels[channelID]
	if !ok {
		return []state.Member{}
	}
	members := make([]state.Member, 0, len(channel.Members))
	for connID := range channel.Members {
		conn := m.conns[connID]
		members = append(members, state.Member{
			ConnID:    connID,
			UserID:    conn.UserID,
			Transport: conn.Transport,
		})
	}
	return members
}

func (m *InMemoryManager) Channels() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int, len(m.channels))
	for id, channel := range m.channels {
		counts[id] = len(channel.Members)
	}
	return counts
}

// --- Events ---

func (m *InMemoryManager) Subscribe(listener state.MembershipListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// emit runs outside m.mu so listeners may read from the manager. Callers hold
// emitMu, so a blocking listener stalls every membership change; listeners
// queue their work instead and must not change membership themselves.
func (m *InMemoryManager) emit(events []state.MembershipEvent) {
	if len(events) == 0 {
		return
	}
	m.listenerMu.RLock()
	listeners := make([]state.MembershipListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenerMu.RUnlock()

	for _, ev := range events {
		m.logger.Debug("Membership changed",
			slog.String("channelID", ev.ChannelID),
			slog.String("change", ev.Change.String()),
			slog.Int("members", len(ev.Members)),
		)
		for _, listener := range listeners {
			listener(ev)
		}
	}
}
