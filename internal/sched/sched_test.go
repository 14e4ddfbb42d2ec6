package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dethon/agentrt/internal/contracts"
)

type fakeScheduleStore struct {
	mu        sync.Mutex
	schedules map[string]contracts.Schedule
}

func newFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{schedules: map[string]contracts.Schedule{}}
}

func (f *fakeScheduleStore) Create(ctx context.Context, s contracts.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules[s.ID] = s
	return nil
}

func (f *fakeScheduleStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.schedules, id)
	return nil
}

func (f *fakeScheduleStore) Get(ctx context.Context, id string) (contracts.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return contracts.Schedule{}, contracts.ErrScheduleNotFound
	}
	return s, nil
}

func (f *fakeScheduleStore) GetDue(ctx context.Context, asOf time.Time) ([]contracts.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []contracts.Schedule
	for _, s := range f.schedules {
		if !s.NextRun.After(asOf) {
			due = append(due, s)
		}
	}
	return due, nil
}

func (f *fakeScheduleStore) MarkRun(ctx context.Context, id string, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return contracts.ErrScheduleNotFound
	}
	s.NextRun = next
	f.schedules[id] = s
	return nil
}

func TestValidateCronExprAcceptsStandardExpressions(t *testing.T) {
	assert.NoError(t, ValidateCronExpr("*/5 * * * *"))
	assert.NoError(t, ValidateCronExpr("0 9 * * 1-5"))
}

func TestValidateCronExprRejectsGarbage(t *testing.T) {
	assert.Error(t, ValidateCronExpr("not a cron expression"))
}

func TestNextRunAdvancesPastAfter(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := NextRun("0 * * * *", after)
	require.NoError(t, err)
	assert.True(t, next.After(after))
	assert.Equal(t, 1, next.Hour())
}

func TestNextRunRejectsInvalidExpression(t *testing.T) {
	_, err := NextRun("garbage", time.Now())
	assert.Error(t, err)
}

func TestPollOnceDispatchesDueSchedulesAndAdvancesNextRun(t *testing.T) {
	store := newFakeScheduleStore()
	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.Create(context.Background(), contracts.Schedule{
		ID: "sched-1", Key: "conv-1", CronExpr: "*/5 * * * *", NextRun: past,
	}))

	var dispatched []string
	var mu sync.Mutex
	dispatcher := func(ctx context.Context, s contracts.Schedule) error {
		mu.Lock()
		defer mu.Unlock()
		dispatched = append(dispatched, s.ID)
		return nil
	}

	s := New(store, dispatcher, time.Hour, zerolog.Nop())
	s.pollOnce(context.Background())

	mu.Lock()
	assert.Equal(t, []string{"sched-1"}, dispatched)
	mu.Unlock()

	updated, err := store.Get(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.True(t, updated.NextRun.After(past))
}

func TestPollOnceSkipsMarkRunWhenDispatchFails(t *testing.T) {
	store := newFakeScheduleStore()
	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.Create(context.Background(), contracts.Schedule{
		ID: "sched-2", Key: "conv-2", CronExpr: "*/5 * * * *", NextRun: past,
	}))

	dispatcher := func(ctx context.Context, s contracts.Schedule) error {
		return assert.AnError
	}

	s := New(store, dispatcher, time.Hour, zerolog.Nop())
	s.pollOnce(context.Background())

	updated, err := store.Get(context.Background(), "sched-2")
	require.NoError(t, err)
	assert.Equal(t, past.Unix(), updated.NextRun.Unix())
}

func TestPollOnceIgnoresNotYetDueSchedules(t *testing.T) {
	store := newFakeScheduleStore()
	future := time.Now().Add(time.Hour)
	require.NoError(t, store.Create(context.Background(), contracts.Schedule{
		ID: "sched-3", Key: "conv-3", CronExpr: "0 0 * * *", NextRun: future,
	}))

	called := false
	dispatcher := func(ctx context.Context, s contracts.Schedule) error {
		called = true
		return nil
	}

	s := New(store, dispatcher, time.Hour, zerolog.Nop())
	s.pollOnce(context.Background())

	assert.False(t, called)
}
