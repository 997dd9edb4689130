// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"fmt"
)

// StartStopManager interface matches the job orchestrator scheduler's
// Start/Stop lifecycle.
//
// Satisfied by *jobs.Scheduler: a single background ticker that scans
// configured schedules and enqueues LibrarySync/HistorySync/cascade_delete
// jobs when a schedule's next_run_at has elapsed.
type StartStopManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SchedulerService wraps the scheduler tick as a supervised service.
//
// It adapts the Start/Stop lifecycle pattern to suture's Serve pattern:
//  1. Calls Start(ctx) to begin the ticker
//  2. Waits for context cancellation
//  3. Calls Stop() for graceful shutdown
type SchedulerService struct {
	manager StartStopManager
	name    string
}

// NewSchedulerService creates a new scheduler service wrapper.
//
// Example usage:
//
//	scheduler := jobs.NewScheduler(registry, store, factory, tickInterval)
//	svc := services.NewSchedulerService(scheduler)
//	tree.AddMessagingService(svc)
func NewSchedulerService(manager StartStopManager) *SchedulerService {
	return &SchedulerService{
		manager: manager,
		name:    "job-scheduler",
	}
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("scheduler stop failed: %w", err)
	}

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *SchedulerService) String() string {
	return s.name
}
