// Package memstore is an in-process store.Store used for development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/a-essam23/go-huddle/pkg/store"
	"github.com/google/uuid"
)

type record[T any] struct {
	val T
	seq uint64
}

type Store struct {
	mu  sync.RWMutex
	seq uint64

	people    map[string]*record[store.Person]
	meetings  map[string]*record[store.Meeting]
	protocols map[string]*record[store.Protocol]
	items     map[string]*record[store.Item]
	actions   map[string]*record[store.Action]
	notes     map[string]*record[store.Note]
	topics    map[string]*record[store.Topic]
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		people:    make(map[string]*record[store.Person]),
		meetings:  make(map[string]*record[store.Meeting]),
		protocols: make(map[string]*record[store.Protocol]),
		items:     make(map[string]*record[store.Item]),
		actions:   make(map[string]*record[store.Action]),
		notes:     make(map[string]*record[store.Note]),
		topics:    make(map[string]*record[store.Topic]),
	}
}

func (s *Store) Close() {}

func (s *Store) nextSeq() uint64 {
	s.seq++
	return s.seq
}

func ensureID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// sorted returns the values of recs accepted by keep, in insertion order.
func sorted[T any](recs map[string]*record[T], keep func(T) bool) []T {
	matched := make([]*record[T], 0, len(recs))
	for _, r := range recs {
		if keep(r.val) {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	out := make([]T, len(matched))
	for i, r := range matched {
		out[i] = r.val
	}
	return out
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// --- People ---

func (s *Store) GetPerson(_ context.Context, id string) (*store.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.people[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p := r.val
	return &p, nil
}

func (s *Store) UpsertPerson(_ context.Context, p store.Person) (*store.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = ensureID(p.ID)
	if r, ok := s.people[p.ID]; ok {
		r.val = p
	} else {
		s.people[p.ID] = &record[store.Person]{val: p, seq: s.nextSeq()}
	}
	return &p, nil
}

// --- Meetings ---

func (s *Store) CreateMeeting(_ context.Context, m store.Meeting) (*store.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	m.ID = ensureID(m.ID)
	m.CreatedAt, m.UpdatedAt = now, now
	m.Idle = true
	s.meetings[m.ID] = &record[store.Meeting]{val: m, seq: s.nextSeq()}
	return s.meetingCopy(m.ID), nil
}

func (s *Store) meetingCopy(id string) *store.Meeting {
	m := s.meetings[id].val
	m.CurrentProtocolID = copyString(m.CurrentProtocolID)
	return &m
}

func (s *Store) GetMeeting(_ context.Context, id string) (*store.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.meetings[id]; !ok {
		return nil, store.ErrNotFound
	}
	return s.meetingCopy(id), nil
}

func (s *Store) UpdateMeeting(_ context.Context, id string, patch store.MeetingPatch) (*store.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.meetings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Title != nil {
		r.val.Title = *patch.Title
	}
	switch {
	case patch.ClearCurrentProtocol:
		r.val.CurrentProtocolID = nil
	case patch.CurrentProtocolID != nil:
		r.val.CurrentProtocolID = copyString(patch.CurrentProtocolID)
	}
	r.val.UpdatedAt = time.Now()
	return s.meetingCopy(id), nil
}

func (s *Store) SetMeetingIdle(_ context.Context, id string, idle bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.meetings[id]
	if !ok {
		return store.ErrNotFound
	}
	r.val.Idle = idle
	r.val.UpdatedAt = time.Now()
	return nil
}

// --- Protocols ---

func (s *Store) CreateProtocol(_ context.Context, p store.Protocol) (*store.Protocol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	p.ID = ensureID(p.ID)
	p.CreatedAt = now
	if p.PhaseChangedAt.IsZero() {
		p.PhaseChangedAt = now
	}
	p.Phases = append([]store.Phase(nil), p.Phases...)
	p.Items = nil
	s.protocols[p.ID] = &record[store.Protocol]{val: p, seq: s.nextSeq()}
	return s.hydrate(p.ID), nil
}

// hydrate returns a deep copy of the protocol with its items and actions.
func (s *Store) hydrate(id string) *store.Protocol {
	p := s.protocols[id].val
	p.Phases = append([]store.Phase(nil), p.Phases...)
	p.Items = s.itemsLocked(func(it store.Item) bool { return it.ProtocolID == id })
	return &p
}

func (s *Store) itemsLocked(keep func(store.Item) bool) []store.Item {
	items := sorted(s.items, keep)
	for i := range items {
		items[i].ParentID = copyString(items[i].ParentID)
		itemID := items[i].ID
		items[i].Actions = sorted(s.actions, func(a store.Action) bool { return a.ItemID == itemID })
	}
	return items
}

func (s *Store) GetProtocol(_ context.Context, id string) (*store.Protocol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.protocols[id]; !ok {
		return nil, store.ErrNotFound
	}
	return s.hydrate(id), nil
}

func (s *Store) UpdateProtocol(_ context.Context, id string, patch store.ProtocolPatch) (*store.Protocol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.protocols[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Name != nil {
		r.val.Name = *patch.Name
	}
	if patch.CurrentPhase != nil {
		r.val.CurrentPhase = *patch.CurrentPhase
	}
	if patch.ReadyForNextPhase != nil {
		r.val.ReadyForNextPhase = *patch.ReadyForNextPhase
	}
	if patch.Completed != nil {
		r.val.Completed = *patch.Completed
	}
	if patch.PhaseChangedAt != nil {
		r.val.PhaseChangedAt = *patch.PhaseChangedAt
	}
	return s.hydrate(id), nil
}

func (s *Store) DeleteProtocol(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.protocols[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.protocols, id)
	for itemID, r := range s.items {
		if r.val.ProtocolID == id {
			delete(s.items, itemID)
		}
	}
	for actionID, r := range s.actions {
		if r.val.ProtocolID == id {
			delete(s.actions, actionID)
		}
	}
	return nil
}

// --- Items ---

func (s *Store) CreateItem(_ context.Context, it store.Item) (*store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.protocols[it.ProtocolID]; !ok {
		return nil, store.ErrNotFound
	}
	it.ID = ensureID(it.ID)
	it.CreatedAt = time.Now()
	it.ParentID = copyString(it.ParentID)
	it.Actions = nil
	s.items[it.ID] = &record[store.Item]{val: it, seq: s.nextSeq()}
	return s.itemCopy(it.ID), nil
}

func (s *Store) itemCopy(id string) *store.Item {
	items := s.itemsLocked(func(it store.Item) bool { return it.ID == id })
	return &items[0]
}

func (s *Store) GetItem(_ context.Context, id string) (*store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.items[id]; !ok {
		return nil, store.ErrNotFound
	}
	return s.itemCopy(id), nil
}

func (s *Store) ListItemsByPhase(_ context.Context, protocolID string, phase int) ([]store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemsLocked(func(it store.Item) bool {
		return it.ProtocolID == protocolID && it.Phase == phase
	}), nil
}

func (s *Store) ListItemsByProtocol(_ context.Context, protocolID string) ([]store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemsLocked(func(it store.Item) bool { return it.ProtocolID == protocolID }), nil
}

func (s *Store) UpdateItem(_ context.Context, id string, patch store.ItemPatch) (*store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Content != nil {
		r.val.Content = *patch.Content
	}
	switch {
	case patch.ClearParent:
		r.val.ParentID = nil
	case patch.ParentID != nil:
		r.val.ParentID = copyString(patch.ParentID)
	}
	return s.itemCopy(id), nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	return s.DeleteItems(ctx, []string{id})
}

func (s *Store) DeleteItems(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.items[id]; !ok {
			return store.ErrNotFound
		}
	}
	for _, id := range ids {
		delete(s.items, id)
		for actionID, r := range s.actions {
			if r.val.ItemID == id {
				delete(s.actions, actionID)
			}
		}
		for _, r := range s.items {
			if r.val.ParentID != nil && *r.val.ParentID == id {
				r.val.ParentID = nil
			}
		}
	}
	return nil
}

// --- Actions ---

func (s *Store) CreateAction(_ context.Context, a store.Action) (*store.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[a.ItemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	a.ID = ensureID(a.ID)
	a.ProtocolID = item.val.ProtocolID
	a.CreatedAt = time.Now()
	s.actions[a.ID] = &record[store.Action]{val: a, seq: s.nextSeq()}
	return &a, nil
}

func (s *Store) GetAction(_ context.Context, id string) (*store.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.actions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	a := r.val
	return &a, nil
}

func (s *Store) ListActionsByItem(_ context.Context, itemID string) ([]store.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.actions, func(a store.Action) bool { return a.ItemID == itemID }), nil
}

func (s *Store) DeleteAction(ctx context.Context, id string) error {
	return s.DeleteActions(ctx, []string{id})
}

func (s *Store) DeleteActions(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.actions[id]; !ok {
			return store.ErrNotFound
		}
	}
	for _, id := range ids {
		delete(s.actions, id)
	}
	return nil
}

// --- Notes ---

func (s *Store) CreateNote(_ context.Context, n store.Note) (*store.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n.ID = ensureID(n.ID)
	n.CreatedAt, n.UpdatedAt = now, now
	n.TopicID = copyString(n.TopicID)
	s.notes[n.ID] = &record[store.Note]{val: n, seq: s.nextSeq()}
	return &n, nil
}

func (s *Store) GetNote(_ context.Context, id string) (*store.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.notes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	n := r.val
	n.TopicID = copyString(n.TopicID)
	return &n, nil
}

func (s *Store) ListNotes(_ context.Context, meetingID string) ([]store.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.notes, func(n store.Note) bool { return n.MeetingID == meetingID }), nil
}

func (s *Store) UpdateNote(_ context.Context, id string, patch store.NotePatch) (*store.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.notes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Content != nil {
		r.val.Content = *patch.Content
	}
	r.val.UpdatedAt = time.Now()
	n := r.val
	n.TopicID = copyString(n.TopicID)
	return &n, nil
}

func (s *Store) DeleteNote(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.notes, id)
	return nil
}

// --- Topics ---

func (s *Store) CreateTopic(_ context.Context, t store.Topic) (*store.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = ensureID(t.ID)
	t.CreatedAt = time.Now()
	s.topics[t.ID] = &record[store.Topic]{val: t, seq: s.nextSeq()}
	return &t, nil
}

func (s *Store) GetTopic(_ context.Context, id string) (*store.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.topics[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	t := r.val
	return &t, nil
}

func (s *Store) ListTopics(_ context.Context, meetingID string) ([]store.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.topics, func(t store.Topic) bool { return t.MeetingID == meetingID }), nil
}

func (s *Store) UpdateTopic(_ context.Context, id string, patch store.TopicPatch) (*store.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.topics[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Title != nil {
		r.val.Title = *patch.Title
	}
	if patch.Done != nil {
		r.val.Done = *patch.Done
	}
	t := r.val
	return &t, nil
}

// DeleteTopic detaches the topic's notes rather than deleting them.
func (s *Store) DeleteTopic(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.topics, id)
	for _, r := range s.notes {
		if r.val.TopicID != nil && *r.val.TopicID == id {
			r.val.TopicID = nil
		}
	}
	return nil
}
