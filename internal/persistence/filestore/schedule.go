package filestore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dethon/agentrt/internal/contracts"
)

// ScheduleStore implements contracts.ScheduleStore over a jsonStore rooted
// at <base>/schedules/<id>.json.
type ScheduleStore struct {
	store *jsonStore
}

// NewScheduleStore creates a ScheduleStore rooted at basePath.
func NewScheduleStore(basePath string) *ScheduleStore {
	return &ScheduleStore{store: newJSONStore(basePath)}
}

func (s *ScheduleStore) Create(ctx context.Context, sched contracts.Schedule) error {
	return s.store.put(ctx, []string{"schedules", sched.ID}, sched)
}

func (s *ScheduleStore) Delete(ctx context.Context, id string) error {
	return s.store.delete(ctx, []string{"schedules", id})
}

func (s *ScheduleStore) Get(ctx context.Context, id string) (contracts.Schedule, error) {
	var sched contracts.Schedule
	err := s.store.get(ctx, []string{"schedules", id}, &sched)
	if err == ErrNotFound {
		return contracts.Schedule{}, contracts.ErrScheduleNotFound
	}
	if err != nil {
		return contracts.Schedule{}, err
	}
	return sched, nil
}

// GetDue scans every stored schedule and returns those whose NextRun is at
// or before asOf. A file-per-schedule layout has no index to query, so
// this is a full scan; acceptable at filestore's deployment scale (spec.md
// §4.10 targets single-node, low-volume installs).
func (s *ScheduleStore) GetDue(ctx context.Context, asOf time.Time) ([]contracts.Schedule, error) {
	var due []contracts.Schedule
	err := s.store.scan(ctx, []string{"schedules"}, func(key string, data json.RawMessage) error {
		var sched contracts.Schedule
		if err := json.Unmarshal(data, &sched); err != nil {
			return nil
		}
		if !sched.NextRun.After(asOf) {
			due = append(due, sched)
		}
		return nil
	})
	return due, err
}

func (s *ScheduleStore) MarkRun(ctx context.Context, id string, next time.Time) error {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sched.NextRun = next
	return s.store.put(ctx, []string{"schedules", id}, sched)
}
