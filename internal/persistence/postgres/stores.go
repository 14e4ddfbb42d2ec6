package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dethon/agentrt/internal/contracts"
)

// ThreadStateStore implements contracts.ThreadStateStore over a pgx pool.
type ThreadStateStore struct{ pool *pgxpool.Pool }

func NewThreadStateStore(pool *pgxpool.Pool) *ThreadStateStore { return &ThreadStateStore{pool: pool} }

func (s *ThreadStateStore) Get(ctx context.Context, key string) (contracts.ThreadState, error) {
	var st contracts.ThreadState
	err := s.pool.QueryRow(ctx,
		`SELECT conversation_id, thread_id, agent_id, title, created_at, updated_at
		 FROM thread_states WHERE key = $1`, key,
	).Scan(&st.ConversationID, &st.ThreadID, &st.AgentID, &st.Title, &st.CreatedAt, &st.UpdatedAt)
	if err == pgx.ErrNoRows {
		return contracts.ThreadState{}, contracts.ErrThreadStateNotFound
	}
	return st, err
}

func (s *ThreadStateStore) Put(ctx context.Context, key string, state contracts.ThreadState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO thread_states (key, conversation_id, thread_id, agent_id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (key) DO UPDATE SET
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
	_, err := s.pool.Exec(ctx, `DELETE FROM thread_states WHERE key = $1`, key)
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
	now := time.Now().UTC()
	state.CreatedAt, state.UpdatedAt = now, now
	return s.Put(ctx, newKey, state)
}

// ScheduleStore implements contracts.ScheduleStore over a pgx pool.
type ScheduleStore struct{ pool *pgxpool.Pool }

func NewScheduleStore(pool *pgxpool.Pool) *ScheduleStore { return &ScheduleStore{pool: pool} }

func (s *ScheduleStore) Create(ctx context.Context, sched contracts.Schedule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO schedules (id, key, cron_expr, next_run, payload) VALUES ($1, $2, $3, $4, $5)`,
		sched.ID, sched.Key, sched.CronExpr, sched.NextRun, sched.Payload,
	)
	return err
}

func (s *ScheduleStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	return err
}

func (s *ScheduleStore) Get(ctx context.Context, id string) (contracts.Schedule, error) {
	var sched contracts.Schedule
	err := s.pool.QueryRow(ctx,
		`SELECT id, key, cron_expr, next_run, payload FROM schedules WHERE id = $1`, id,
	).Scan(&sched.ID, &sched.Key, &sched.CronExpr, &sched.NextRun, &sched.Payload)
	if err == pgx.ErrNoRows {
		return contracts.Schedule{}, contracts.ErrScheduleNotFound
	}
	return sched, err
}

func (s *ScheduleStore) GetDue(ctx context.Context, asOf time.Time) ([]contracts.Schedule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, key, cron_expr, next_run, payload FROM schedules WHERE next_run <= $1`, asOf)
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
	_, err := s.pool.Exec(ctx, `UPDATE schedules SET next_run = $1 WHERE id = $2`, next, id)
	return err
}

// CorrelationStore implements contracts.CorrelationStore over a pgx pool.
type CorrelationStore struct{ pool *pgxpool.Pool }

func NewCorrelationStore(pool *pgxpool.Pool) *CorrelationStore { return &CorrelationStore{pool: pool} }

func (s *CorrelationStore) Put(ctx context.Context, key string, correlationID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO correlations (key, correlation_id, stored_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET correlation_id = excluded.correlation_id, stored_at = excluded.stored_at`,
		key, correlationID, time.Now().UTC(),
	)
	return err
}

func (s *CorrelationStore) Get(ctx context.Context, key string) (string, bool, error) {
	var correlationID string
	var storedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT correlation_id, stored_at FROM correlations WHERE key = $1`, key,
	).Scan(&correlationID, &storedAt)
	if err == pgx.ErrNoRows {
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
