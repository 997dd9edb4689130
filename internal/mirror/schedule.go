// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// UpsertSchedule creates or updates the (owner, kind) schedule row.
func (s *Store) UpsertSchedule(ctx context.Context, sched models.Schedule) (models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	if sched.NextRunAt.IsZero() {
		sched.NextRunAt = now.Add(sched.Interval)
	}
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = now
	}
	sched.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, owner, kind, interval_seconds, last_run_at, next_run_at, last_status, last_error, run_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner, kind) DO UPDATE SET
			interval_seconds = EXCLUDED.interval_seconds,
			next_run_at = EXCLUDED.next_run_at,
			updated_at = EXCLUDED.updated_at
	`, sched.ID, sched.Owner, string(sched.Kind), int64(sched.Interval/time.Second),
		sched.LastRunAt, sched.NextRunAt, statusPtr(sched.LastStatus), sched.LastError, sched.RunCount,
		sched.CreatedAt, sched.UpdatedAt)
	if err != nil {
		return models.Schedule{}, fmt.Errorf("mirror: upsert schedule: %w", err)
	}
	return sched, nil
}

// DueSchedules returns every schedule whose next_run_at has elapsed as of
// now, ordered by next_run_at so the most overdue run first.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, kind, interval_seconds, last_run_at, next_run_at, last_status, last_error, run_count, created_at, updated_at
		FROM schedules
		WHERE next_run_at <= ?
		ORDER BY next_run_at ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("mirror: query due schedules: %w", err)
	}
	defer rows.Close()

	var out []models.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// RecordCompletion persists a schedule's updated bookkeeping after a
// triggered job reaches a terminal state.
func (s *Store) RecordCompletion(ctx context.Context, sched models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET
			last_run_at = ?, next_run_at = ?, last_status = ?, last_error = ?, run_count = ?, updated_at = ?
		WHERE id = ?
	`, sched.LastRunAt, sched.NextRunAt, statusPtr(sched.LastStatus), sched.LastError, sched.RunCount, time.Now().UTC(), sched.ID)
	if err != nil {
		return fmt.Errorf("mirror: record schedule completion: %w", err)
	}
	return nil
}

// ListSchedules returns every schedule configured for owner.
func (s *Store) ListSchedules(ctx context.Context, owner string) ([]models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, kind, interval_seconds, last_run_at, next_run_at, last_status, last_error, run_count, created_at, updated_at
		FROM schedules WHERE owner = ? ORDER BY kind
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("mirror: list schedules: %w", err)
	}
	defer rows.Close()

	var out []models.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func scanSchedule(rows *sql.Rows) (models.Schedule, error) {
	var (
		sched        models.Schedule
		kind         string
		intervalSecs int64
		lastStatus   *string
	)
	if err := rows.Scan(&sched.ID, &sched.Owner, &kind, &intervalSecs, &sched.LastRunAt, &sched.NextRunAt,
		&lastStatus, &sched.LastError, &sched.RunCount, &sched.CreatedAt, &sched.UpdatedAt); err != nil {
		return models.Schedule{}, fmt.Errorf("mirror: scan schedule: %w", err)
	}
	sched.Kind = models.SyncKind(kind)
	sched.Interval = time.Duration(intervalSecs) * time.Second
	if lastStatus != nil {
		status := models.JobStatus(*lastStatus)
		sched.LastStatus = &status
	}
	return sched, nil
}

func statusPtr(status *models.JobStatus) *string {
	if status == nil {
		return nil
	}
	s := string(*status)
	return &s
}
