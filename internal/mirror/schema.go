// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package mirror

import (
	"context"
	"fmt"
	"strings"
)

// CreateTables creates the media_items and deletion_events tables if they
// don't exist. Called once during database initialization.
func (s *Store) CreateTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS media_items (
			id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			owner TEXT NOT NULL,

			external_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			year INTEGER,
			runtime_seconds INTEGER,

			tmdb_id TEXT,
			tvdb_id TEXT,
			imdb_id TEXT,
			tdl_series_id TEXT,
			mdl_movie_id TEXT,

			library_section TEXT NOT NULL,

			grandparent_title TEXT,
			parent_title TEXT,
			season_number INTEGER,
			episode_number INTEGER,

			video_resolution TEXT,
			video_codec TEXT,
			audio_codec TEXT,
			container TEXT,
			bitrate_kbps INTEGER,

			file_path TEXT,
			file_size_bytes BIGINT NOT NULL DEFAULT 0,
			accessible BOOLEAN NOT NULL DEFAULT true,

			total_play_count INTEGER NOT NULL DEFAULT 0,
			complete_play_count INTEGER,
			partial_play_count INTEGER,
			avg_percent_complete DOUBLE,
			last_watched_at TIMESTAMPTZ,
			total_watch_time_seconds BIGINT NOT NULL DEFAULT 0,
			rating DOUBLE,
			genres JSON,
			collections JSON,

			added_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			history_synced_at TIMESTAMPTZ,

			UNIQUE (server_id, external_id)
		);

		CREATE INDEX IF NOT EXISTS idx_media_items_owner ON media_items(owner);
		CREATE INDEX IF NOT EXISTS idx_media_items_server ON media_items(server_id);
		CREATE INDEX IF NOT EXISTS idx_media_items_kind ON media_items(kind);
		CREATE INDEX IF NOT EXISTS idx_media_items_accessible ON media_items(accessible);
		CREATE INDEX IF NOT EXISTS idx_media_items_last_watched ON media_items(last_watched_at);
		CREATE INDEX IF NOT EXISTS idx_media_items_grandparent ON media_items(grandparent_title);
		CREATE INDEX IF NOT EXISTS idx_media_items_library_section ON media_items(library_section);

		CREATE TABLE IF NOT EXISTS deletion_events (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,

			media_item_id TEXT NOT NULL,
			title TEXT NOT NULL,
			kind TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			file_path TEXT,

			rule_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			score DOUBLE NOT NULL,

			deleted_from_ms BOOLEAN NOT NULL DEFAULT false,
			deleted_from_ms_at TIMESTAMPTZ,
			deleted_from_tdl BOOLEAN NOT NULL DEFAULT false,
			deleted_from_tdl_at TIMESTAMPTZ,
			deleted_from_mdl BOOLEAN NOT NULL DEFAULT false,
			deleted_from_mdl_at TIMESTAMPTZ,
			deleted_from_rqp BOOLEAN NOT NULL DEFAULT false,
			deleted_from_rqp_at TIMESTAMPTZ,

			dry_run BOOLEAN NOT NULL DEFAULT false,
			status TEXT NOT NULL,
			actor TEXT NOT NULL,

			deleted_at TIMESTAMPTZ NOT NULL,
			error_message TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_deletion_events_owner ON deletion_events(owner);
		CREATE INDEX IF NOT EXISTS idx_deletion_events_deleted_at ON deletion_events(deleted_at DESC);
		CREATE INDEX IF NOT EXISTS idx_deletion_events_rule ON deletion_events(rule_id);

		CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			kind TEXT NOT NULL,
			interval_seconds BIGINT NOT NULL,

			last_run_at TIMESTAMPTZ,
			next_run_at TIMESTAMPTZ NOT NULL,
			last_status TEXT,
			last_error TEXT,
			run_count BIGINT NOT NULL DEFAULT 0,

			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,

			UNIQUE (owner, kind)
		);

		CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(next_run_at);

		CREATE TABLE IF NOT EXISTS webhook_events (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			service TEXT NOT NULL,

			payload_hash TEXT NOT NULL,
			processing_status TEXT NOT NULL,
			actions_triggered JSON,

			received_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_webhook_events_owner ON webhook_events(owner);
		CREATE INDEX IF NOT EXISTS idx_webhook_events_received_at ON webhook_events(received_at DESC);

		CREATE TABLE IF NOT EXISTS servers (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			machine_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			version TEXT NOT NULL,
			status TEXT NOT NULL,

			preferred_connection_url TEXT,
			connection_latency_ms INTEGER,
			connection_tested_at TIMESTAMPTZ,

			auth_token_ciphertext TEXT NOT NULL,
			webhook_secret_ciphertext TEXT NOT NULL,

			last_full_sync_at TIMESTAMPTZ,

			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,

			UNIQUE (owner, machine_id)
		);

		CREATE INDEX IF NOT EXISTS idx_servers_owner ON servers(owner);

		CREATE TABLE IF NOT EXISTS integrations (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			server_id TEXT NOT NULL,
			service TEXT NOT NULL,
			name TEXT NOT NULL,

			base_url TEXT NOT NULL,
			api_key_ciphertext TEXT NOT NULL,

			status TEXT NOT NULL,
			last_sync_at TIMESTAMPTZ,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			first_failure_at TIMESTAMPTZ,

			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,

			UNIQUE (owner, service, name)
		);

		CREATE INDEX IF NOT EXISTS idx_integrations_owner ON integrations(owner);
		CREATE INDEX IF NOT EXISTS idx_integrations_server ON integrations(server_id);

		CREATE TABLE IF NOT EXISTS deletion_rules (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,

			enabled BOOLEAN NOT NULL DEFAULT true,
			dry_run_mode BOOLEAN NOT NULL DEFAULT false,

			grace_period_days INTEGER NOT NULL,
			inactivity_threshold_days INTEGER NOT NULL,
			min_rating DOUBLE,

			excluded_kinds JSON,
			excluded_libraries JSON,
			excluded_genres JSON,
			excluded_collections JSON,

			created_by TEXT NOT NULL,
			last_run_at TIMESTAMPTZ,

			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_deletion_rules_owner ON deletion_rules(owner);

		CREATE TABLE IF NOT EXISTS sync_events (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			server_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			trigger TEXT NOT NULL,

			items_created INTEGER NOT NULL DEFAULT 0,
			items_updated INTEGER NOT NULL DEFAULT 0,
			items_failed INTEGER NOT NULL DEFAULT 0,

			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			status TEXT NOT NULL,
			error_message TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sync_events_owner ON sync_events(owner);
		CREATE INDEX IF NOT EXISTS idx_sync_events_started_at ON sync_events(started_at DESC);
	`

	for _, stmt := range strings.Split(query, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mirror: execute schema statement: %w", err)
		}
	}
	return nil
}
