package presence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/a-essam23/go-huddle/internal/presence"
	"github.com/a-essam23/go-huddle/internal/protocol"
	"github.com/a-essam23/go-huddle/pkg/logging"
	"github.com/a-essam23/go-huddle/pkg/state"
	"github.com/a-essam23/go-huddle/pkg/state/statemanager"
	"github.com/a-essam23/go-huddle/pkg/store"
	"github.com/a-essam23/go-huddle/pkg/store/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type published struct {
	channelID    string
	responseType string
	data         any
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(channelID, responseType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{channelID, responseType, data})
	return nil
}

func (p *recordingPublisher) ofType(responseType string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.msgs {
		if m.responseType == responseType {
			out = append(out, m)
		}
	}
	return out
}

type nopTransport struct{ id uuid.UUID }

func (t nopTransport) ID() uuid.UUID { return t.id }

func (t nopTransport) Send(_ []byte) error { return nil }

func (t nopTransport) Close(_ error) {}

type env struct {
	sm        *statemanager.InMemoryManager
	store     *memstore.Store
	publisher *recordingPublisher
	reactor   *presence.Reactor
}

// slowActivation delays writes that mark a meeting active.
type slowActivation struct {
	*memstore.Store
	delay time.Duration

	mu    sync.Mutex
	calls []bool
}

func (s *slowActivation) SetMeetingIdle(ctx context.Context, id string, idle bool) error {
	if !idle {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.calls = append(s.calls, idle)
	s.mu.Unlock()
	return s.Store.SetMeetingIdle(ctx, id, idle)
}

// gatedMeetings holds every meeting lookup until release is closed.
type gatedMeetings struct {
	*memstore.Store
	release chan struct{}
}

func (g *gatedMeetings) GetMeeting(ctx context.Context, id string) (*store.Meeting, error) {
	<-g.release
	return g.Store.GetMeeting(ctx, id)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memstore.New()
	return newEnvWithMeetings(t, st, st)
}

func newEnvWithMeetings(t *testing.T, st *memstore.Store, meetings store.MeetingStore) *env {
	t.Helper()
	e := &env{
		sm:        statemanager.NewInMemoryManager(logging.Discard()),
		store:     st,
		publisher: &recordingPublisher{},
	}
	engine := protocol.New(logging.Discard(), e.store, e.sm)
	e.reactor = presence.NewReactor(context.Background(), logging.Discard(), meetings, engine, e.publisher)
	e.reactor.Attach(e.sm)
	t.Cleanup(e.reactor.Wait)
	return e
}

func (e *env) join(t *testing.T, userID, meetingID string) state.Connection {
	t.Helper()
	conn, err := e.sm.RegisterConnection(nopTransport{id: uuid.New()}, "127.0.0.1")
	require.NoError(t, err)
	if userID != "" {
		require.NoError(t, e.sm.AssociateUser(conn.ID, userID))
	}
	require.NoError(t, e.sm.SetChannel(conn.ID, meetingID))
	e.reactor.Wait()
	return conn
}

func TestReactorPublishesParticipants(t *testing.T) {
	e := newEnv(t)
	m, err := e.store.CreateMeeting(context.Background(), store.Meeting{Title: "weekly"})
	require.NoError(t, err)

	e.join(t, "alice", m.ID)
	e.join(t, "", m.ID)

	msgs := e.publisher.ofType(presence.ResponseParticipants)
	require.Len(t, msgs, 2)
	last := msgs[1].data.(presence.Participants)
	require.Equal(t, m.ID, last.MeetingID)
	require.Equal(t, []string{"alice"}, last.Users)
	require.Len(t, last.Connections, 2)
	require.Equal(t, 1, last.GuestCount)
	require.Equal(t, "Increase", last.Change)
}

func TestReactorTracksIdleFlag(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m, err := e.store.CreateMeeting(ctx, store.Meeting{Title: "weekly"})
	require.NoError(t, err)
	require.True(t, m.Idle)

	conn := e.join(t, "alice", m.ID)
	e.reactor.Wait()
	got, err := e.store.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	require.False(t, got.Idle)

	require.NoError(t, e.sm.DeregisterConnection(conn.ID))
	e.reactor.Wait()
	got, err = e.store.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, got.Idle)

	// Nobody is left to receive a participant list for the empty channel.
	require.Len(t, e.publisher.ofType(presence.ResponseParticipants), 1)
}

func TestReactorRefreshesProtocolReadiness(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m, err := e.store.CreateMeeting(ctx, store.Meeting{Title: "retro"})
	require.NoError(t, err)
	p, err := e.store.CreateProtocol(ctx, store.Protocol{
		MeetingID: m.ID,
		Phases:    []store.Phase{{Type: store.PhaseSingleResponse}, {Type: store.PhaseFreeform}},
	})
	require.NoError(t, err)
	_, err = e.store.CreateItem(ctx, store.Item{ProtocolID: p.ID, CreatedBy: "alice"})
	require.NoError(t, err)
	_, err = e.store.UpdateMeeting(ctx, m.ID, store.MeetingPatch{CurrentProtocolID: &p.ID})
	require.NoError(t, err)

	e.join(t, "alice", m.ID)
	updates := e.publisher.ofType(presence.ResponseProtocol)
	require.Len(t, updates, 1)
	require.True(t, updates[0].data.(*store.Protocol).ReadyForNextPhase)

	// A guest changes nothing about quorum, so no protocol broadcast.
	e.join(t, "", m.ID)
	require.Len(t, e.publisher.ofType(presence.ResponseProtocol), 1)

	e.join(t, "bob", m.ID)
	updates = e.publisher.ofType(presence.ResponseProtocol)
	require.Len(t, updates, 2)
	require.False(t, updates[1].data.(*store.Protocol).ReadyForNextPhase)

	stored, err := e.store.GetProtocol(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, stored.ReadyForNextPhase)
}

func TestReactorRefreshesReadinessWhenChannelEmpties(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m, err := e.store.CreateMeeting(ctx, store.Meeting{Title: "vote"})
	require.NoError(t, err)
	p, err := e.store.CreateProtocol(ctx, store.Protocol{
		MeetingID: m.ID,
		Phases:    []store.Phase{{Type: store.PhaseVoteOnContentList}, {Type: store.PhaseFreeform}},
	})
	require.NoError(t, err)
	var first *store.Item
	for i := 0; i < 3; i++ {
		it, err := e.store.CreateItem(ctx, store.Item{ProtocolID: p.ID, Content: "idea", CreatedBy: "alice"})
		require.NoError(t, err)
		if first == nil {
			first = it
		}
	}
	_, err = e.store.CreateAction(ctx, store.Action{ItemID: first.ID, ProtocolID: p.ID, Kind: "vote", CreatedBy: "alice"})
	require.NoError(t, err)
	_, err = e.store.UpdateMeeting(ctx, m.ID, store.MeetingPatch{CurrentProtocolID: &p.ID})
	require.NoError(t, err)

	// ceil(3/3) = 1 vote for the single present participant.
	conn := e.join(t, "alice", m.ID)
	stored, err := e.store.GetProtocol(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, stored.ReadyForNextPhase)
	broadcasts := len(e.publisher.ofType(presence.ResponseProtocol))

	require.NoError(t, e.sm.DeregisterConnection(conn.ID))
	e.reactor.Wait()

	stored, err = e.store.GetProtocol(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, stored.ReadyForNextPhase)
	require.Len(t, e.publisher.ofType(presence.ResponseProtocol), broadcasts)
}

func TestReactorIdleFlagFollowsLastChange(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	meetings := &slowActivation{Store: st, delay: 100 * time.Millisecond}
	e := newEnvWithMeetings(t, st, meetings)
	m, err := st.CreateMeeting(ctx, store.Meeting{Title: "drive-by"})
	require.NoError(t, err)

	conn, err := e.sm.RegisterConnection(nopTransport{id: uuid.New()}, "127.0.0.1")
	require.NoError(t, err)
	require.NoError(t, e.sm.SetChannel(conn.ID, m.ID))
	require.NoError(t, e.sm.SetChannel(conn.ID, ""))
	e.reactor.Wait()

	require.Empty(t, e.sm.MembersOf(m.ID))
	got, err := st.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, got.Idle)

	meetings.mu.Lock()
	defer meetings.mu.Unlock()
	require.True(t, meetings.calls[len(meetings.calls)-1])
}

func TestSlowStoreDoesNotStallMembership(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	meetings := &gatedMeetings{Store: st, release: make(chan struct{})}
	e := newEnvWithMeetings(t, st, meetings)
	var once sync.Once
	release := func() { once.Do(func() { close(meetings.release) }) }
	t.Cleanup(release)
	m1, err := st.CreateMeeting(ctx, store.Meeting{Title: "one"})
	require.NoError(t, err)
	m2, err := st.CreateMeeting(ctx, store.Meeting{Title: "two"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, meetingID := range []string{m1.ID, m2.ID, m1.ID} {
			conn, err := e.sm.RegisterConnection(nopTransport{id: uuid.New()}, "127.0.0.1")
			if err != nil {
				return
			}
			_ = e.sm.SetChannel(conn.ID, meetingID)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("membership changes blocked on the reactor's store lookups")
	}
	require.Len(t, e.sm.MembersOf(m1.ID), 2)
	require.Len(t, e.sm.MembersOf(m2.ID), 1)

	release()
	e.reactor.Wait()
	require.Len(t, e.publisher.ofType(presence.ResponseParticipants), 3)
}

func TestReactorSkipsCompletedProtocol(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m, err := e.store.CreateMeeting(ctx, store.Meeting{Title: "done"})
	require.NoError(t, err)
	p, err := e.store.CreateProtocol(ctx, store.Protocol{
		MeetingID: m.ID,
		Phases:    []store.Phase{{Type: store.PhaseFreeform}},
		Completed: true,
	})
	require.NoError(t, err)
	_, err = e.store.UpdateMeeting(ctx, m.ID, store.MeetingPatch{CurrentProtocolID: &p.ID})
	require.NoError(t, err)

	e.join(t, "alice", m.ID)
	require.Empty(t, e.publisher.ofType(presence.ResponseProtocol))
}

func TestSnapshot(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	snap := presence.Snapshot("m1", []state.Member{{ConnID: a, UserID: "zed"}, {ConnID: b, UserID: "amy"}})
	require.Equal(t, []string{"amy", "zed"}, snap.Users)
	require.Zero(t, snap.GuestCount)
	require.Len(t, snap.Connections, 2)
	require.Equal(t, a, snap.Connections[0].ConnID)
}
