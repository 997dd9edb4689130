// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// InsertSyncEvent records the outcome of one LibrarySync or HistorySync
// invocation, successful or not.
func (s *Store) InsertSyncEvent(ctx context.Context, event models.SyncEvent) (models.SyncEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_events (
			id, owner, server_id, kind, trigger, items_created, items_updated, items_failed,
			started_at, finished_at, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.Owner, event.ServerID, string(event.Kind), string(event.Trigger),
		event.ItemsCreated, event.ItemsUpdated, event.ItemsFailed,
		event.StartedAt, event.FinishedAt, string(event.Status), event.Error)
	if err != nil {
		return models.SyncEvent{}, fmt.Errorf("mirror: insert sync event: %w", err)
	}
	return event, nil
}

// RecentSyncEvents returns the most recent sync invocations for owner,
// newest first, capped at limit.
func (s *Store) RecentSyncEvents(ctx context.Context, owner string, limit int) ([]models.SyncEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, server_id, kind, trigger, items_created, items_updated, items_failed,
			started_at, finished_at, status, error_message
		FROM sync_events WHERE owner = ? ORDER BY started_at DESC LIMIT ?
	`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("mirror: list sync events: %w", err)
	}
	defer rows.Close()

	var out []models.SyncEvent
	for rows.Next() {
		var (
			event models.SyncEvent
			kind  string
			trig  string
			stat  string
		)
		if err := rows.Scan(&event.ID, &event.Owner, &event.ServerID, &kind, &trig,
			&event.ItemsCreated, &event.ItemsUpdated, &event.ItemsFailed,
			&event.StartedAt, &event.FinishedAt, &stat, &event.Error); err != nil {
			return nil, fmt.Errorf("mirror: scan sync event: %w", err)
		}
		event.Kind = models.SyncKind(kind)
		event.Trigger = models.SyncTrigger(trig)
		event.Status = models.JobStatus(stat)
		out = append(out, event)
	}
	return out, rows.Err()
}

// lastFullSyncStamp returns the current time for UpdateLastFullSync, kept
// as a seam so tests can freeze it.
func lastFullSyncStamp() time.Time { return time.Now().UTC() }

// UpdateLastFullSync stamps a server's last_full_sync_at after a full
// LibrarySync completes, the watermark DetermineMode reads to decide full
// vs incremental mode on the next run.
func (s *Store) UpdateLastFullSync(ctx context.Context, owner, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE servers SET last_full_sync_at = ?, updated_at = ? WHERE owner = ? AND id = ?
	`, lastFullSyncStamp(), lastFullSyncStamp(), owner, serverID)
	if err != nil {
		return fmt.Errorf("mirror: update last full sync: %w", err)
	}
	return nil
}
