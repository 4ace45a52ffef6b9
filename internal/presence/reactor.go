// Package presence reacts to channel membership changes: it republishes the
// participant list, keeps protocol readiness in step with who is present and
// tracks whether a meeting is idle.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/go-huddle/pkg/fault"
	"github.com/a-essam23/go-huddle/pkg/state"
	"github.com/a-essam23/go-huddle/pkg/store"
	"github.com/google/uuid"
)

const (
	ResponseParticipants = "Participants"
	ResponseProtocol     = "Protocol"
)

const storeTimeout = 5 * time.Second

// Publisher delivers a server-initiated message to every member of a channel.
type Publisher interface {
	Publish(channelID, responseType string, data any) error
}

// Refresher recomputes a protocol's cached readiness.
type Refresher interface {
	Refresh(ctx context.Context, protocolID, channelID string) (*store.Protocol, bool, error)
}

type Participant struct {
	ConnID uuid.UUID `json:"connId"`
	UserID string    `json:"userId,omitempty"`
}

type Participants struct {
	MeetingID   string        `json:"meetingId"`
	Users       []string      `json:"users"`
	Connections []Participant `json:"connections"`
	GuestCount  int           `json:"guestCount"`
	Change      string        `json:"change,omitempty"`
}

// Snapshot describes members as sent to clients.
func Snapshot(meetingID string, members []state.Member) Participants {
	out := Participants{
		MeetingID:   meetingID,
		Users:       state.PresentUsers(members),
		Connections: make([]Participant, 0, len(members)),
	}
	for _, m := range members {
		out.Connections = append(out.Connections, Participant{ConnID: m.ConnID, UserID: m.UserID})
		if !m.Authenticated() {
			out.GuestCount++
		}
	}
	return out
}

// Reactor handles membership events off the state manager's emit path.
// Events of one channel are processed in order by a single worker; idle-flag
// writes are coalesced per meeting so the last requested value is the one
// that sticks.
type Reactor struct {
	ctx       context.Context
	logger    *slog.Logger
	meetings  store.MeetingStore
	protocols Refresher
	publisher Publisher

	mu      sync.Mutex
	queues  map[string][]state.MembershipEvent // key present while a worker runs
	idle    map[string]*idleWrite
	pending sync.WaitGroup
}

type idleWrite struct {
	idle  bool
	dirty bool
}

func NewReactor(ctx context.Context, logger *slog.Logger, meetings store.MeetingStore, protocols Refresher, publisher Publisher) *Reactor {
	return &Reactor{
		ctx:       ctx,
		logger:    logger.With(slog.String("component", "presence_reactor")),
		meetings:  meetings,
		protocols: protocols,
		publisher: publisher,
		queues:    make(map[string][]state.MembershipEvent),
		idle:      make(map[string]*idleWrite),
	}
}

// Attach subscribes the reactor to every membership change of sm.
func (r *Reactor) Attach(sm state.Manager) {
	sm.Subscribe(r.Handle)
}

// Handle queues one membership event and returns without blocking on I/O.
func (r *Reactor) Handle(ev state.MembershipEvent) {
	switch {
	case ev.Activated():
		r.markIdle(ev.ChannelID, false)
	case ev.Emptied():
		r.markIdle(ev.ChannelID, true)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending.Add(1)
	queue, running := r.queues[ev.ChannelID]
	r.queues[ev.ChannelID] = append(queue, ev)
	if !running {
		go r.drain(ev.ChannelID)
	}
}

func (r *Reactor) drain(channelID string) {
	for {
		r.mu.Lock()
		queue := r.queues[channelID]
		if len(queue) == 0 {
			delete(r.queues, channelID)
			r.mu.Unlock()
			return
		}
		ev := queue[0]
		r.queues[channelID] = queue[1:]
		r.mu.Unlock()

		r.process(ev)
		r.pending.Done()
	}
}

func (r *Reactor) process(ev state.MembershipEvent) {
	logger := r.logger.With(slog.String("channelID", ev.ChannelID), slog.String("change", ev.Change.String()))
	logger.Debug("Membership changed", slog.Int("members", len(ev.Members)), slog.Int("previous", ev.PreviousCount))

	// An empty channel has nobody to tell, but readiness still follows presence.
	publish := len(ev.Members) > 0
	if publish {
		snapshot := Snapshot(ev.ChannelID, ev.Members)
		snapshot.Change = ev.Change.String()
		if err := r.publisher.Publish(ev.ChannelID, ResponseParticipants, snapshot); err != nil {
			logger.Warn("Failed to publish participants", slog.Any("error", err))
		}
	}

	r.refreshProtocol(logger, ev.ChannelID, publish)
}

func (r *Reactor) refreshProtocol(logger *slog.Logger, meetingID string, publish bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), storeTimeout)
	defer cancel()

	meeting, err := r.meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn("Failed to load meeting", slog.Any("error", err))
		}
		return
	}
	if meeting.CurrentProtocolID == nil {
		return
	}

	p, changed, err := r.protocols.Refresh(ctx, *meeting.CurrentProtocolID, meetingID)
	if err != nil {
		if fault.Is(err, fault.KindNotFound) {
			logger.Debug("Current protocol no longer exists", slog.String("protocolID", *meeting.CurrentProtocolID))
			return
		}
		logger.Warn("Failed to refresh protocol readiness", slog.Any("error", err))
		return
	}
	if !changed || !publish {
		return
	}
	if err := r.publisher.Publish(meetingID, ResponseProtocol, p); err != nil {
		logger.Warn("Failed to publish protocol", slog.Any("error", err))
	}
}

// markIdle records the wanted idle flag and makes sure a background writer
// for the meeting will persist it. Failures are logged and never reach clients.
func (r *Reactor) markIdle(meetingID string, idle bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, running := r.idle[meetingID]
	if !running {
		w = &idleWrite{}
		r.idle[meetingID] = w
		r.pending.Add(1)
		go r.writeIdle(meetingID)
	}
	w.idle = idle
	w.dirty = true
}

func (r *Reactor) writeIdle(meetingID string) {
	defer r.pending.Done()
	for {
		r.mu.Lock()
		w := r.idle[meetingID]
		if !w.dirty {
			delete(r.idle, meetingID)
			r.mu.Unlock()
			return
		}
		idle := w.idle
		w.dirty = false
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), storeTimeout)
		err := r.meetings.SetMeetingIdle(ctx, meetingID, idle)
		cancel()
		if err != nil {
			r.logger.Warn("Failed to update meeting idle flag",
				slog.String("meetingID", meetingID),
				slog.Bool("idle", idle),
				slog.Any("error", err),
			)
		}
	}
}

// Wait blocks until queued events and idle-flag writes have been processed.
func (r *Reactor) Wait() {
	r.pending.Wait()
}
