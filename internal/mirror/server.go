// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorkeep/cleanup-engine/internal/apierr"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// UpsertServer creates or updates a Server row, keyed by (owner, machine_id).
func (s *Store) UpsertServer(ctx context.Context, server models.Server) (models.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if server.ID == "" {
		server.ID = uuid.NewString()
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = now
	}
	server.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (id, owner, name, machine_id, platform, version, status,
			preferred_connection_url, connection_latency_ms, connection_tested_at,
			auth_token_ciphertext, webhook_secret_ciphertext, last_full_sync_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner, machine_id) DO UPDATE SET
			name = EXCLUDED.name,
			platform = EXCLUDED.platform,
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			preferred_connection_url = EXCLUDED.preferred_connection_url,
			connection_latency_ms = EXCLUDED.connection_latency_ms,
			connection_tested_at = EXCLUDED.connection_tested_at,
			last_full_sync_at = EXCLUDED.last_full_sync_at,
			updated_at = EXCLUDED.updated_at
	`, server.ID, server.Owner, server.Name, server.MachineID, server.Platform, server.Version, string(server.Status),
		server.PreferredConnectionURL, server.ConnectionLatencyMs, server.ConnectionTestedAt,
		server.AuthTokenCiphertext, server.WebhookSecretCiphertext, server.LastFullSyncAt, server.CreatedAt, server.UpdatedAt)
	if err != nil {
		return models.Server{}, fmt.Errorf("mirror: upsert server: %w", err)
	}
	return server, nil
}

// GetServer returns one server by (owner, id).
func (s *Store) GetServer(ctx context.Context, owner, id string) (*models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, name, machine_id, platform, version, status,
			preferred_connection_url, connection_latency_ms, connection_tested_at,
			auth_token_ciphertext, webhook_secret_ciphertext, last_full_sync_at, created_at, updated_at
		FROM servers WHERE owner = ? AND id = ?
	`, owner, id)
	server, err := scanServer(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFoundError(fmt.Sprintf("server %s not found", id))
		}
		return nil, err
	}
	return server, nil
}

// ListServers returns every server configured for owner.
func (s *Store) ListServers(ctx context.Context, owner string) ([]models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, name, machine_id, platform, version, status,
			preferred_connection_url, connection_latency_ms, connection_tested_at,
			auth_token_ciphertext, webhook_secret_ciphertext, last_full_sync_at, created_at, updated_at
		FROM servers WHERE owner = ? ORDER BY name
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("mirror: list servers: %w", err)
	}
	defer rows.Close()

	var out []models.Server
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *server)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanServer(row rowScanner) (*models.Server, error) {
	var server models.Server
	var status string
	if err := row.Scan(&server.ID, &server.Owner, &server.Name, &server.MachineID, &server.Platform, &server.Version, &status,
		&server.PreferredConnectionURL, &server.ConnectionLatencyMs, &server.ConnectionTestedAt,
		&server.AuthTokenCiphertext, &server.WebhookSecretCiphertext, &server.LastFullSyncAt, &server.CreatedAt, &server.UpdatedAt); err != nil {
		return nil, fmt.Errorf("mirror: scan server: %w", err)
	}
	server.Status = models.ServerStatus(status)
	return &server, nil
}

// UpsertIntegration creates or updates an Integration row, keyed by
// (owner, service, name).
func (s *Store) UpsertIntegration(ctx context.Context, in models.Integration) (models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integrations (id, owner, server_id, service, name, base_url, api_key_ciphertext,
			status, last_sync_at, consecutive_failures, first_failure_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner, service, name) DO UPDATE SET
			base_url = EXCLUDED.base_url,
			status = EXCLUDED.status,
			last_sync_at = EXCLUDED.last_sync_at,
			consecutive_failures = EXCLUDED.consecutive_failures,
			first_failure_at = EXCLUDED.first_failure_at,
			updated_at = EXCLUDED.updated_at
	`, in.ID, in.Owner, in.ServerID, string(in.Service), in.Name, in.BaseURL, in.APIKeyCiphertext,
		string(in.Status), in.LastSyncAt, in.ConsecutiveFailures, in.FirstFailureAt, in.CreatedAt, in.UpdatedAt)
	if err != nil {
		return models.Integration{}, fmt.Errorf("mirror: upsert integration: %w", err)
	}
	return in, nil
}

// ListIntegrations returns every companion service configured for
// (owner, serverID).
func (s *Store) ListIntegrations(ctx context.Context, owner, serverID string) ([]models.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, server_id, service, name, base_url, api_key_ciphertext,
			status, last_sync_at, consecutive_failures, first_failure_at, created_at, updated_at
		FROM integrations WHERE owner = ? AND server_id = ? ORDER BY service
	`, owner, serverID)
	if err != nil {
		return nil, fmt.Errorf("mirror: list integrations: %w", err)
	}
	defer rows.Close()

	var out []models.Integration
	for rows.Next() {
		var (
			in      models.Integration
			service string
			status  string
		)
		if err := rows.Scan(&in.ID, &in.Owner, &in.ServerID, &service, &in.Name, &in.BaseURL, &in.APIKeyCiphertext,
			&status, &in.LastSyncAt, &in.ConsecutiveFailures, &in.FirstFailureAt, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, fmt.Errorf("mirror: scan integration: %w", err)
		}
		in.Service = models.IntegrationService(service)
		in.Status = models.IntegrationStatus(status)
		out = append(out, in)
	}
	return out, rows.Err()
}
