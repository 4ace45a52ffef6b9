// Package protocol implements the phase state machine of multi-phase decision
// protocols: readiness evaluation and debounced advancement.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/a-essam23/go-huddle/pkg/fault"
	"github.com/a-essam23/go-huddle/pkg/state"
	"github.com/a-essam23/go-huddle/pkg/store"
)

const DefaultDebounce = time.Second

// ParticipantSource reports who is in a channel at call time.
type ParticipantSource interface {
	MembersOf(channelID string) []state.Member
}

type Engine struct {
	logger       *slog.Logger
	protocols    store.ProtocolStore
	participants ParticipantSource

	debounce  time.Duration
	now       func() time.Time
	serialize bool
	locks     *keyedMutex
}

type Option func(*Engine)

// WithClock replaces time.Now for debounce decisions and phase timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithDebounce(d time.Duration) Option {
	return func(e *Engine) { e.debounce = d }
}

// WithSerializedAdvances holds a per-protocol lock across the read-compare-write
// of every transition. Without it the debounce is best-effort: two moves that
// both read the protocol before either writes will both win.
func WithSerializedAdvances(enabled bool) Option {
	return func(e *Engine) { e.serialize = enabled }
}

func New(logger *slog.Logger, protocols store.ProtocolStore, participants ParticipantSource, opts ...Option) *Engine {
	e := &Engine{
		logger:       logger.With(slog.String("component", "phase_engine")),
		protocols:    protocols,
		participants: participants,
		debounce:     DefaultDebounce,
		now:          time.Now,
		serialize:    true,
		locks:        newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lock(protocolID string) func() {
	if !e.serialize {
		return func() {}
	}
	return e.locks.Lock(protocolID)
}

// Present returns the authenticated users counted towards quorum in channelID.
func (e *Engine) Present(channelID string) []string {
	if channelID == "" {
		return nil
	}
	return state.PresentUsers(e.participants.MembersOf(channelID))
}

func (e *Engine) load(ctx context.Context, protocolID string) (*store.Protocol, error) {
	p, err := e.protocols.GetProtocol(ctx, protocolID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.NotFound("protocol '%s' not found", protocolID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load protocol '%s': %w", protocolID, err)
	}
	return p, nil
}

func (e *Engine) debounced(p *store.Protocol, now time.Time) bool {
	return now.Sub(p.PhaseChangedAt) < e.debounce
}

// Advance moves the protocol one phase forward, or completes it when it sits on
// its final phase. moved is false when the move lost to the debounce guard; in
// that case nothing was written and the caller must not broadcast.
func (e *Engine) Advance(ctx context.Context, protocolID, channelID string) (p *store.Protocol, moved bool, err error) {
	unlock := e.lock(protocolID)
	defer unlock()

	p, err = e.load(ctx, protocolID)
	if err != nil {
		return nil, false, err
	}
	now := e.now()

	if p.IsFinalPhase() {
		done := true
		ready := IsPhaseComplete(p, e.Present(channelID))
		updated, err := e.protocols.UpdateProtocol(ctx, p.ID, store.ProtocolPatch{
			Completed:         &done,
			ReadyForNextPhase: &ready,
			PhaseChangedAt:    &now,
		})
		if err != nil {
			return nil, false, fmt.Errorf("failed to complete protocol '%s': %w", p.ID, err)
		}
		e.logger.Info("Protocol completed", slog.String("protocolID", p.ID), slog.Int("phase", p.CurrentPhase))
		return updated, true, nil
	}

	if e.debounced(p, now) {
		e.logger.Debug("Ignoring advance inside debounce window", slog.String("protocolID", p.ID), slog.Time("phaseChangedAt", p.PhaseChangedAt))
		return p, false, nil
	}
	return e.move(ctx, p, p.CurrentPhase+1, channelID, now)
}

// Retreat moves the protocol one phase back. Phase 0 and completed protocols
// are rejected with an invariant fault.
func (e *Engine) Retreat(ctx context.Context, protocolID, channelID string) (p *store.Protocol, moved bool, err error) {
	unlock := e.lock(protocolID)
	defer unlock()

	p, err = e.load(ctx, protocolID)
	if err != nil {
		return nil, false, err
	}
	if p.Completed {
		return nil, false, fault.Invariant("protocol '%s' is already completed", p.ID)
	}
	if p.CurrentPhase <= 0 {
		return nil, false, fault.Invariant("protocol '%s' is already at first phase", p.ID)
	}

	now := e.now()
	if e.debounced(p, now) {
		e.logger.Debug("Ignoring retreat inside debounce window", slog.String("protocolID", p.ID), slog.Time("phaseChangedAt", p.PhaseChangedAt))
		return p, false, nil
	}
	return e.move(ctx, p, p.CurrentPhase-1, channelID, now)
}

// move persists the new phase index, its timestamp and the readiness of the
// phase being entered in one write.
func (e *Engine) move(ctx context.Context, p *store.Protocol, to int, channelID string, now time.Time) (*store.Protocol, bool, error) {
	next := *p
	next.CurrentPhase = to
	ready := IsPhaseComplete(&next, e.Present(channelID))

	updated, err := e.protocols.UpdateProtocol(ctx, p.ID, store.ProtocolPatch{
		CurrentPhase:      &to,
		ReadyForNextPhase: &ready,
		PhaseChangedAt:    &now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to move protocol '%s' to phase %d: %w", p.ID, to, err)
	}
	e.logger.Info("Protocol phase changed",
		slog.String("protocolID", p.ID),
		slog.Int("from", p.CurrentPhase),
		slog.Int("to", to),
		slog.Bool("ready", ready),
	)
	return updated, true, nil
}

// Refresh recomputes readiness against the current participants and persists
// it when it differs from the stored value. changed reports whether a write
// happened and the protocol should be rebroadcast. Completed protocols are
// left untouched.
func (e *Engine) Refresh(ctx context.Context, protocolID, channelID string) (p *store.Protocol, changed bool, err error) {
	unlock := e.lock(protocolID)
	defer unlock()

	p, err = e.load(ctx, protocolID)
	if err != nil {
		return nil, false, err
	}
	if p.Completed {
		return p, false, nil
	}
	ready := IsPhaseComplete(p, e.Present(channelID))
	if ready == p.ReadyForNextPhase {
		return p, false, nil
	}

	updated, err := e.protocols.UpdateProtocol(ctx, p.ID, store.ProtocolPatch{ReadyForNextPhase: &ready})
	if err != nil {
		return nil, false, fmt.Errorf("failed to store readiness of protocol '%s': %w", p.ID, err)
	}
	e.logger.Debug("Protocol readiness changed", slog.String("protocolID", p.ID), slog.Bool("ready", ready))
	return updated, true, nil
}
