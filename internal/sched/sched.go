// Package sched implements the scheduler wake cycle referenced in
// spec.md §6 (scheduleStore.getDue) and §4.2 (supportsScheduledNotifications):
// a periodic poll of due schedules that re-injects a prompt into the
// conversation each schedule names, for transports able to receive
// server-initiated notifications. Grounded on
// teradata-labs-loom/pkg/scheduler/scheduler.go's cron.ParseStandard-driven
// next-run computation and haasonsaas-nexus/internal/tasks/scheduler.go's
// poll-loop shape; cron expression validation at schedule-creation time is
// grounded on the pack's adhocore/gronx dependency (Qefaraki-picoclaw,
// vanducng-goclaw go.mod), generalized from per-repo ad hoc validation into
// one shared helper.
package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dethon/agentrt/internal/contracts"
)

// DefaultPollInterval is how often the scheduler checks for due schedules.
const DefaultPollInterval = 10 * time.Second

// ValidateCronExpr reports whether expr is a valid cron expression,
// checked before a schedule is ever handed to Scheduler.
func ValidateCronExpr(expr string) error {
	if !gronx.IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}

// NextRun computes the next time expr fires strictly after after.
func NextRun(expr string, after time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(after), nil
}

// Dispatcher delivers a due schedule's wake-up into the conversation it
// names, returning an error only for failures the scheduler should log and
// retry on the next poll (MarkRun is skipped in that case).
type Dispatcher func(ctx context.Context, sched contracts.Schedule) error

// Scheduler polls a ScheduleStore for due entries and hands each to a
// Dispatcher, then advances its NextRun.
type Scheduler struct {
	store        contracts.ScheduleStore
	dispatch     Dispatcher
	pollInterval time.Duration
	logger       zerolog.Logger
}

// New creates a Scheduler. pollInterval defaults to DefaultPollInterval
// when zero.
func New(store contracts.ScheduleStore, dispatch Dispatcher, pollInterval time.Duration, logger zerolog.Logger) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Scheduler{
		store:        store,
		dispatch:     dispatch,
		pollInterval: pollInterval,
		logger:       logger.With().Str("component", "sched").Logger(),
	}
}

// Run blocks polling for due schedules until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	now := time.Now()
	due, err := s.store.GetDue(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to query due schedules")
		return
	}

	for _, sched := range due {
		if err := s.dispatch(ctx, sched); err != nil {
			s.logger.Error().Err(err).Str("scheduleId", sched.ID).Msg("dispatch failed, will retry next poll")
			continue
		}

		next, err := NextRun(sched.CronExpr, now)
		if err != nil {
			s.logger.Error().Err(err).Str("scheduleId", sched.ID).Msg("failed to compute next run, schedule will not re-fire")
			continue
		}
		if err := s.store.MarkRun(ctx, sched.ID, next); err != nil {
			s.logger.Error().Err(err).Str("scheduleId", sched.ID).Msg("failed to persist next run")
		}
	}
}
