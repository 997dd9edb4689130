// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/mirrorkeep/cleanup-engine/internal/logging"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

const defaultTickInterval = time.Minute

// ScheduleStore is the persistence surface the scheduler needs; satisfied
// by *mirror.Store.
type ScheduleStore interface {
	DueSchedules(ctx context.Context, now time.Time) ([]models.Schedule, error)
	RecordCompletion(ctx context.Context, sched models.Schedule) error
}

// Factory builds the RunFunc for a scheduled (owner, kind) firing. The
// caller supplies one that closes over the concrete
// librarysync/historysync/cascade implementations; this package never
// imports them directly.
type Factory func(sched models.Schedule) (serverID string, run RunFunc, err error)

// Scheduler ticks once a minute, scans for due schedules, and starts a
// job for each through the Registry, respecting its mutual-exclusion
// rules: a schedule whose job kind conflicts with an already-active job
// is skipped this tick and retried next tick.
type Scheduler struct {
	registry *Registry
	store    ScheduleStore
	factory  Factory
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a Scheduler. tickInterval <= 0 defaults to 1 minute.
func NewScheduler(registry *Registry, store ScheduleStore, factory Factory, tickInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	return &Scheduler{registry: registry, store: store, factory: factory, interval: tickInterval}
}

// Start begins the ticker loop in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	return nil
}

// Stop cancels the ticker loop and waits for it to exit.
func (s *Scheduler) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("scheduler: list due schedules")
		return
	}

	for _, sched := range due {
		serverID, run, err := s.factory(sched)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("owner", sched.Owner).Str("kind", string(sched.Kind)).Msg("scheduler: build job")
			continue
		}

		job, err := s.registry.Start(ctx, sched.Owner, serverID, sched.Kind, models.TriggerScheduled, s.wrapWithCompletion(sched, run))
		if err != nil {
			// a conflicting job is already active; try again next tick.
			logging.Ctx(ctx).Warn().Str("owner", sched.Owner).Str("kind", string(sched.Kind)).Msg("scheduler: skipped, conflicting job active")
			continue
		}
		logging.Ctx(ctx).Info().Str("job_id", job.ID).Str("owner", sched.Owner).Str("kind", string(sched.Kind)).Msg("scheduler: started job")
	}
}

// wrapWithCompletion runs the job body then persists the schedule's next
// firing time, regardless of outcome.
func (s *Scheduler) wrapWithCompletion(sched models.Schedule, run RunFunc) RunFunc {
	return func(ctx context.Context, job *Job) error {
		runErr := run(ctx, job)

		now := time.Now().UTC()
		status := models.JobStatusCompleted
		var errMsg *string
		switch {
		case errors.Is(runErr, context.Canceled):
			status = models.JobStatusCancelled
		case runErr != nil:
			status = models.JobStatusFailed
			msg := runErr.Error()
			errMsg = &msg
		}
		sched.RecordCompletion(now, status, errMsg)
		if err := s.store.RecordCompletion(context.Background(), sched); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("owner", sched.Owner).Msg("scheduler: persist completion")
		}
		return runErr
	}
}
