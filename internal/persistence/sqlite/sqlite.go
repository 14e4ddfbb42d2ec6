// Package sqlite implements the sqlite persistence backend (spec.md
// §4.10/§6) for single-node deployments that want transactional storage
// without a separate database process. Grounded on
// teradata-labs-loom/pkg/observability/storage/sqlite.go (database/sql
// with an embedded CREATE TABLE IF NOT EXISTS schema) and
// vanducng-goclaw/internal/store/pg/sessions.go (the query shapes a
// single store type exposes over a pool); the driver is registered
// purely in Go via modernc.org/sqlite so the module needs no cgo.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dethon/agentrt/internal/contracts"
)

const schema = `
CREATE TABLE IF NOT EXISTS thread_states (
	key TEXT PRIMARY KEY,
	conversation_id INTEGER NOT NULL,
	thread_id INTEGER NOT NULL,
	agent_id TEXT NOT NULL,
	title TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS schedules (
	id TEXT PRIMARY KEY,
	key TEXT NOT NULL,
	cron_expr TEXT NOT NULL,
	next_run TIMESTAMP NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(next_run);

CREATE TABLE IF NOT EXISTS correlations (
	key TEXT PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	stored_at TIMESTAMP NOT NULL
);
`

// Open opens (creating if absent) a sqlite database at path and applies the
// schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock contention

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// ThreadStateStore implements contracts.ThreadStateStore over sqlite.
type ThreadStateStore struct{ db *sql.DB }

func NewThreadStateStore(db *sql.DB) *ThreadStateStore { return &ThreadStateStore{db: db} }

func (s *ThreadStateStore) Get(ctx context.Context, key string) (contracts.ThreadState, error) {
	var st contracts.ThreadState
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, thread_id, agent_id, title, created_at, updated_at
		 FROM thread_states WHERE key = ?`, key,
	).Scan(&st.ConversationID, &st.ThreadID, &st.AgentID, &st.Title, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return contracts.ThreadState{}, contracts.ErrThreadStateNotFound
	}
	if err != nil {
		return contracts.ThreadState{}, err
	}
	return st, nil
}

func (s *ThreadStateStore) Put(ctx context.Context, key string, state contracts.ThreadState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thread_states (key, conversation_id, thread_id, agent_id, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   conversation_id = excluded.conversation_id,
		   thread_id = excluded.thread_id,
		   agent_id = excluded.agent_id,
		   title = excluded.title,
		   updated_at = excluded.updated_at`,
		key, state.ConversationID, state.ThreadID, state.AgentID, state.Title, state.CreatedAt, state.UpdatedAt,
	)
	return err
}

func (s *ThreadStateStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM thread_states WHERE key = ?`, key)
	return err
}

func (s *ThreadStateStore) Fork(ctx context.Context, key string, atMessageID string, newKey string) error {
	state, err := s.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("fork source %q: %w", key, err)
	}
	if state.Title != "" {
		state.Title += " (forked)"
	}
	state.CreatedAt = time.Now().UTC()
	state.UpdatedAt = state.CreatedAt
	return s.Put(ctx, newKey, state)
}

// ScheduleStore implements contracts.ScheduleStore over sqlite.
type ScheduleStore struct{ db *sql.DB }

func NewScheduleStore(db *sql.DB) *ScheduleStore { return &ScheduleStore{db: db} }

func (s *ScheduleStore) Create(ctx context.Context, sched contracts.Schedule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, key, cron_expr, next_run, payload) VALUES (?, ?, ?, ?, ?)`,
		sched.ID, sched.Key, sched.CronExpr, sched.NextRun, sched.Payload,
	)
	return err
}

func (s *ScheduleStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return err
}

func (s *ScheduleStore) Get(ctx context.Context, id string) (contracts.Schedule, error) {
	var sched contracts.Schedule
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key, cron_expr, next_run, payload FROM schedules WHERE id = ?`, id,
	).Scan(&sched.ID, &sched.Key, &sched.CronExpr, &sched.NextRun, &sched.Payload)
	if err == sql.ErrNoRows {
		return contracts.Schedule{}, contracts.ErrScheduleNotFound
	}
	return sched, err
}

func (s *ScheduleStore) GetDue(ctx context.Context, asOf time.Time) ([]contracts.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, cron_expr, next_run, payload FROM schedules WHERE next_run <= ?`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []contracts.Schedule
	for rows.Next() {
		var sched contracts.Schedule
		if err := rows.Scan(&sched.ID, &sched.Key, &sched.CronExpr, &sched.NextRun, &sched.Payload); err != nil {
			return nil, err
		}
		due = append(due, sched)
	}
	return due, rows.Err()
}

func (s *ScheduleStore) MarkRun(ctx context.Context, id string, next time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE schedules SET next_run = ? WHERE id = ?`, next, id)
	return err
}

// CorrelationStore implements contracts.CorrelationStore over sqlite.
type CorrelationStore struct{ db *sql.DB }

func NewCorrelationStore(db *sql.DB) *CorrelationStore { return &CorrelationStore{db: db} }

func (s *CorrelationStore) Put(ctx context.Context, key string, correlationID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO correlations (key, correlation_id, stored_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET correlation_id = excluded.correlation_id, stored_at = excluded.stored_at`,
		key, correlationID, time.Now().UTC(),
	)
	return err
}

func (s *CorrelationStore) Get(ctx context.Context, key string) (string, bool, error) {
	var correlationID string
	var storedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT correlation_id, stored_at FROM correlations WHERE key = ?`, key,
	).Scan(&correlationID, &storedAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if time.Since(storedAt) > contracts.CorrelationTTL {
		return "", false, nil
	}
	return correlationID, true, nil
}
