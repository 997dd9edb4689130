// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// InsertWebhookEvent records one webhook intake attempt, whatever its
// outcome — accepted, debounced, or rejected for signature or size.
func (s *Store) InsertWebhookEvent(ctx context.Context, event models.WebhookEvent) (models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	actions, _ := json.Marshal(event.ActionsTriggered)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, owner, service, payload_hash, processing_status, actions_triggered, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.Owner, string(event.Service), event.PayloadHash, string(event.ProcessingStatus), string(actions), event.ReceivedAt)
	if err != nil {
		return models.WebhookEvent{}, fmt.Errorf("mirror: insert webhook event: %w", err)
	}
	return event, nil
}

// RecentWebhookEvents returns the most recent webhook intake rows for
// owner, newest first, capped at limit.
func (s *Store) RecentWebhookEvents(ctx context.Context, owner string, limit int) ([]models.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, service, payload_hash, processing_status, actions_triggered, received_at
		FROM webhook_events WHERE owner = ? ORDER BY received_at DESC LIMIT ?
	`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("mirror: list webhook events: %w", err)
	}
	defer rows.Close()

	var out []models.WebhookEvent
	for rows.Next() {
		var (
			event       models.WebhookEvent
			service     string
			status      string
			actionsJSON string
		)
		if err := rows.Scan(&event.ID, &event.Owner, &service, &event.PayloadHash, &status, &actionsJSON, &event.ReceivedAt); err != nil {
			return nil, fmt.Errorf("mirror: scan webhook event: %w", err)
		}
		event.Service = models.IntegrationService(service)
		event.ProcessingStatus = models.WebhookEventProcessingStatus(status)
		if actionsJSON != "" {
			_ = json.Unmarshal([]byte(actionsJSON), &event.ActionsTriggered)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}
