// Package pgstore implements store.Store on PostgreSQL through a pgx pool.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/a-essam23/go-huddle/pkg/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

type Config struct {
	DatabaseURL string
	MaxConns    int32
}

type Store struct{ DB *pgxpool.Pool }

var _ store.Store = (*Store)(nil)

// Open connects, pings and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database url is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{DB: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := s.DB.Exec(ctx, schema)
	return err
}

func (s *Store) Close() { s.DB.Close() }

func ensureID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// --- People ---

func (s *Store) GetPerson(ctx context.Context, id string) (*store.Person, error) {
	var p store.Person
	err := s.DB.QueryRow(ctx, `SELECT id,name,email FROM people WHERE id=$1`, id).Scan(&p.ID, &p.Name, &p.Email)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) UpsertPerson(ctx context.Context, p store.Person) (*store.Person, error) {
	p.ID = ensureID(p.ID)
	_, err := s.DB.Exec(ctx, `
INSERT INTO people(id,name,email) VALUES($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, email=EXCLUDED.email
`, p.ID, p.Name, p.Email)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Meetings ---

const meetingColumns = `id,title,current_protocol_id,idle,created_at,updated_at`

func scanMeeting(row pgx.Row) (*store.Meeting, error) {
	var m store.Meeting
	if err := row.Scan(&m.ID, &m.Title, &m.CurrentProtocolID, &m.Idle, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) CreateMeeting(ctx context.Context, m store.Meeting) (*store.Meeting, error) {
	return scanMeeting(s.DB.QueryRow(ctx, `
INSERT INTO meetings(id,title,current_protocol_id) VALUES($1,$2,$3)
RETURNING `+meetingColumns, ensureID(m.ID), m.Title, m.CurrentProtocolID))
}

func (s *Store) GetMeeting(ctx context.Context, id string) (*store.Meeting, error) {
	return scanMeeting(s.DB.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id=$1`, id))
}

func (s *Store) UpdateMeeting(ctx context.Context, id string, patch store.MeetingPatch) (*store.Meeting, error) {
	return scanMeeting(s.DB.QueryRow(ctx, `
UPDATE meetings SET
	title=COALESCE($2,title),
	current_protocol_id=CASE WHEN $4 THEN NULL ELSE COALESCE($3,current_protocol_id) END,
	updated_at=NOW()
WHERE id=$1
RETURNING `+meetingColumns, id, patch.Title, patch.CurrentProtocolID, patch.ClearCurrentProtocol))
}

func (s *Store) SetMeetingIdle(ctx context.Context, id string, idle bool) error {
	tag, err := s.DB.Exec(ctx, `UPDATE meetings SET idle=$2, updated_at=NOW() WHERE id=$1`, id, idle)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- Protocols ---

func (s *Store) CreateProtocol(ctx context.Context, p store.Protocol) (*store.Protocol, error) {
	phases, err := json.Marshal(p.Phases)
	if err != nil {
		return nil, fmt.Errorf("encoding phases: %w", err)
	}
	id := ensureID(p.ID)
	_, err = s.DB.Exec(ctx, `
INSERT INTO protocols(id,meeting_id,name,created_by,phases,current_phase,ready_for_next_phase,completed)
VALUES($1,$2,$3,$4,$5::jsonb,$6,$7,$8)
`, id, p.MeetingID, p.Name, p.CreatedBy, string(phases), p.CurrentPhase, p.ReadyForNextPhase, p.Completed)
	if err != nil {
		return nil, err
	}
	return s.GetProtocol(ctx, id)
}

func (s *Store) GetProtocol(ctx context.Context, id string) (*store.Protocol, error) {
	var p store.Protocol
	var phases []byte
	err := s.DB.QueryRow(ctx, `
SELECT id,meeting_id,name,created_by,phases,current_phase,ready_for_next_phase,completed,phase_changed_at,created_at
FROM protocols WHERE id=$1
`, id).Scan(&p.ID, &p.MeetingID, &p.Name, &p.CreatedBy, &phases, &p.CurrentPhase, &p.ReadyForNextPhase, &p.Completed, &p.PhaseChangedAt, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(phases, &p.Phases); err != nil {
		return nil, fmt.Errorf("decoding phases: %w", err)
	}
	if p.Items, err = s.ListItemsByProtocol(ctx, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateProtocol(ctx context.Context, id string, patch store.ProtocolPatch) (*store.Protocol, error) {
	tag, err := s.DB.Exec(ctx, `
UPDATE protocols SET
	name=COALESCE($2,name),
	current_phase=COALESCE($3,current_phase),
	ready_for_next_phase=COALESCE($4,ready_for_next_phase),
	completed=COALESCE($5,completed),
	phase_changed_at=COALESCE($6,phase_changed_at)
WHERE id=$1
`, id, patch.Name, patch.CurrentPhase, patch.ReadyForNextPhase, patch.Completed, patch.PhaseChangedAt)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProtocol(ctx, id)
}

func (s *Store) DeleteProtocol(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM protocols WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- Items ---

const itemColumns = `id,protocol_id,parent_id,phase,content,created_by,created_at`

func scanItem(row pgx.Row) (store.Item, error) {
	var it store.Item
	err := row.Scan(&it.ID, &it.ProtocolID, &it.ParentID, &it.Phase, &it.Content, &it.CreatedBy, &it.CreatedAt)
	return it, err
}

// attachActions loads the actions of items in one query.
func (s *Store) attachActions(ctx context.Context, items []store.Item) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, len(items))
	index := make(map[string]int, len(items))
	for i, it := range items {
		ids[i] = it.ID
		index[it.ID] = i
		items[i].Actions = []store.Action{}
	}
	rows, err := s.DB.Query(ctx, `SELECT `+actionColumns+` FROM item_actions WHERE item_id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return err
		}
		i := index[a.ItemID]
		items[i].Actions = append(items[i].Actions, a)
	}
	return rows.Err()
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]store.Item, error) {
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	items := []store.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachActions(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateItem(ctx context.Context, it store.Item) (*store.Item, error) {
	created, err := scanItem(s.DB.QueryRow(ctx, `
INSERT INTO protocol_items(id,protocol_id,parent_id,phase,content,created_by)
VALUES($1,$2,$3,$4,$5,$6)
RETURNING `+itemColumns, ensureID(it.ID), it.ProtocolID, it.ParentID, it.Phase, it.Content, it.CreatedBy))
	if err != nil {
		return nil, err
	}
	created.Actions = []store.Action{}
	return &created, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*store.Item, error) {
	items, err := s.queryItems(ctx, `SELECT `+itemColumns+` FROM protocol_items WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, store.ErrNotFound
	}
	return &items[0], nil
}

func (s *Store) ListItemsByPhase(ctx context.Context, protocolID string, phase int) ([]store.Item, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM protocol_items WHERE protocol_id=$1 AND phase=$2 ORDER BY created_at, id`, protocolID, phase)
}

func (s *Store) ListItemsByProtocol(ctx context.Context, protocolID string) ([]store.Item, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM protocol_items WHERE protocol_id=$1 ORDER BY created_at, id`, protocolID)
}

func (s *Store) UpdateItem(ctx context.Context, id string, patch store.ItemPatch) (*store.Item, error) {
	tag, err := s.DB.Exec(ctx, `
UPDATE protocol_items SET
	content=COALESCE($2,content),
	parent_id=CASE WHEN $4 THEN NULL ELSE COALESCE($3,parent_id) END
WHERE id=$1
`, id, patch.Content, patch.ParentID, patch.ClearParent)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetItem(ctx, id)
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	return s.DeleteItems(ctx, []string{id})
}

func (s *Store) DeleteItems(ctx context.Context, ids []string) error {
	return s.deleteAll(ctx, `DELETE FROM protocol_items WHERE id = ANY($1)`, ids)
}

// deleteAll removes every id or none of them.
func (s *Store) deleteAll(ctx context.Context, query string, ids []string) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, query, ids)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return store.ErrNotFound
	}
	return tx.Commit(ctx)
}

// --- Actions ---

const actionColumns = `id,item_id,protocol_id,kind,created_by,created_at`

func scanAction(row pgx.Row) (store.Action, error) {
	var a store.Action
	err := row.Scan(&a.ID, &a.ItemID, &a.ProtocolID, &a.Kind, &a.CreatedBy, &a.CreatedAt)
	return a, err
}

func (s *Store) CreateAction(ctx context.Context, a store.Action) (*store.Action, error) {
	created, err := scanAction(s.DB.QueryRow(ctx, `
INSERT INTO item_actions(id,item_id,protocol_id,kind,created_by)
SELECT $1, i.id, i.protocol_id, $3, $4 FROM protocol_items i WHERE i.id=$2
RETURNING `+actionColumns, ensureID(a.ID), a.ItemID, a.Kind, a.CreatedBy))
	if err != nil {
		return nil, notFound(err)
	}
	return &created, nil
}

func (s *Store) GetAction(ctx context.Context, id string) (*store.Action, error) {
	a, err := scanAction(s.DB.QueryRow(ctx, `SELECT `+actionColumns+` FROM item_actions WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *Store) ListActionsByItem(ctx context.Context, itemID string) ([]store.Action, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+actionColumns+` FROM item_actions WHERE item_id=$1 ORDER BY created_at, id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	actions := []store.Action{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (s *Store) DeleteAction(ctx context.Context, id string) error {
	return s.DeleteActions(ctx, []string{id})
}

func (s *Store) DeleteActions(ctx context.Context, ids []string) error {
	return s.deleteAll(ctx, `DELETE FROM item_actions WHERE id = ANY($1)`, ids)
}

// --- Notes ---

const noteColumns = `id,meeting_id,topic_id,content,created_by,created_at,updated_at`

func scanNote(row pgx.Row) (*store.Note, error) {
	var n store.Note
	if err := row.Scan(&n.ID, &n.MeetingID, &n.TopicID, &n.Content, &n.CreatedBy, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

func (s *Store) CreateNote(ctx context.Context, n store.Note) (*store.Note, error) {
	return scanNote(s.DB.QueryRow(ctx, `
INSERT INTO notes(id,meeting_id,topic_id,content,created_by) VALUES($1,$2,$3,$4,$5)
RETURNING `+noteColumns, ensureID(n.ID), n.MeetingID, n.TopicID, n.Content, n.CreatedBy))
}

func (s *Store) GetNote(ctx context.Context, id string) (*store.Note, error) {
	return scanNote(s.DB.QueryRow(ctx, `SELECT `+noteColumns+` FROM notes WHERE id=$1`, id))
}

func (s *Store) ListNotes(ctx context.Context, meetingID string) ([]store.Note, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+noteColumns+` FROM notes WHERE meeting_id=$1 ORDER BY created_at, id`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	notes := []store.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

func (s *Store) UpdateNote(ctx context.Context, id string, patch store.NotePatch) (*store.Note, error) {
	return scanNote(s.DB.QueryRow(ctx, `
UPDATE notes SET content=COALESCE($2,content), updated_at=NOW() WHERE id=$1
RETURNING `+noteColumns, id, patch.Content))
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	return s.deleteAll(ctx, `DELETE FROM notes WHERE id = ANY($1)`, []string{id})
}

// --- Topics ---

const topicColumns = `id,meeting_id,title,done,created_by,created_at`

func scanTopic(row pgx.Row) (*store.Topic, error) {
	var t store.Topic
	if err := row.Scan(&t.ID, &t.MeetingID, &t.Title, &t.Done, &t.CreatedBy, &t.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *Store) CreateTopic(ctx context.Context, t store.Topic) (*store.Topic, error) {
	return scanTopic(s.DB.QueryRow(ctx, `
INSERT INTO topics(id,meeting_id,title,done,created_by) VALUES($1,$2,$3,$4,$5)
RETURNING `+topicColumns, ensureID(t.ID), t.MeetingID, t.Title, t.Done, t.CreatedBy))
}

func (s *Store) GetTopic(ctx context.Context, id string) (*store.Topic, error) {
	return scanTopic(s.DB.QueryRow(ctx, `SELECT `+topicColumns+` FROM topics WHERE id=$1`, id))
}

func (s *Store) ListTopics(ctx context.Context, meetingID string) ([]store.Topic, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+topicColumns+` FROM topics WHERE meeting_id=$1 ORDER BY created_at, id`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	topics := []store.Topic{}
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	return topics, rows.Err()
}

func (s *Store) UpdateTopic(ctx context.Context, id string, patch store.TopicPatch) (*store.Topic, error) {
	return scanTopic(s.DB.QueryRow(ctx, `
UPDATE topics SET title=COALESCE($2,title), done=COALESCE($3,done) WHERE id=$1
RETURNING `+topicColumns, id, patch.Title, patch.Done))
}

func (s *Store) DeleteTopic(ctx context.Context, id string) error {
	return s.deleteAll(ctx, `DELETE FROM topics WHERE id = ANY($1)`, []string{id})
}
