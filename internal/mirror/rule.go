// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mirrorkeep/cleanup-engine/internal/apierr"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// UpsertRule creates or updates a deletion rule. Rule authoring itself is
// an administrator-facing concern the core does not expose over HTTP; this
// exists so the owning surface (and tests/fixtures) has somewhere durable
// to put the rules LibrarySync, Scoring and CascadeExecutor evaluate.
func (s *Store) UpsertRule(ctx context.Context, rule models.DeletionRule) (models.DeletionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	kinds, _ := json.Marshal(rule.ExcludedKinds)
	libraries, _ := json.Marshal(rule.ExcludedLibraries)
	genres, _ := json.Marshal(rule.ExcludedGenres)
	collections, _ := json.Marshal(rule.ExcludedCollections)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deletion_rules (
			id, owner, name, enabled, dry_run_mode, grace_period_days, inactivity_threshold_days,
			min_rating, excluded_kinds, excluded_libraries, excluded_genres, excluded_collections,
			created_by, last_run_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			enabled = EXCLUDED.enabled,
			dry_run_mode = EXCLUDED.dry_run_mode,
			grace_period_days = EXCLUDED.grace_period_days,
			inactivity_threshold_days = EXCLUDED.inactivity_threshold_days,
			min_rating = EXCLUDED.min_rating,
			excluded_kinds = EXCLUDED.excluded_kinds,
			excluded_libraries = EXCLUDED.excluded_libraries,
			excluded_genres = EXCLUDED.excluded_genres,
			excluded_collections = EXCLUDED.excluded_collections,
			updated_at = EXCLUDED.updated_at
	`, rule.ID, rule.Owner, rule.Name, rule.Enabled, rule.DryRunMode, rule.GracePeriodDays, rule.InactivityThresholdDays,
		rule.MinRating, string(kinds), string(libraries), string(genres), string(collections),
		rule.CreatedBy, rule.LastRunAt, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return models.DeletionRule{}, fmt.Errorf("mirror: upsert rule: %w", err)
	}
	return rule, nil
}

// GetRule looks up a single rule by (owner, id). It returns
// apierr.NotFoundError when no such rule exists, the expected outcome when
// an operator-supplied rule_id is stale or belongs to a different owner.
func (s *Store) GetRule(ctx context.Context, owner, id string) (*models.DeletionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, name, enabled, dry_run_mode, grace_period_days, inactivity_threshold_days,
			min_rating, excluded_kinds, excluded_libraries, excluded_genres, excluded_collections,
			created_by, last_run_at, created_at, updated_at
		FROM deletion_rules WHERE owner = ? AND id = ?
	`, owner, id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFoundError(fmt.Sprintf("rule %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("mirror: get rule: %w", err)
	}
	return rule, nil
}

// ListRules returns every rule configured for owner.
func (s *Store) ListRules(ctx context.Context, owner string) ([]models.DeletionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, name, enabled, dry_run_mode, grace_period_days, inactivity_threshold_days,
			min_rating, excluded_kinds, excluded_libraries, excluded_genres, excluded_collections,
			created_by, last_run_at, created_at, updated_at
		FROM deletion_rules WHERE owner = ? ORDER BY name
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("mirror: list rules: %w", err)
	}
	defer rows.Close()

	var out []models.DeletionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

// MarkRuleRun stamps last_run_at after a job evaluates rule.
func (s *Store) MarkRuleRun(ctx context.Context, owner, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE deletion_rules SET last_run_at = ?, updated_at = ? WHERE owner = ? AND id = ?
	`, at, time.Now().UTC(), owner, id)
	if err != nil {
		return fmt.Errorf("mirror: mark rule run: %w", err)
	}
	return nil
}

func scanRule(row rowScanner) (*models.DeletionRule, error) {
	var (
		rule        models.DeletionRule
		kinds       sql.NullString
		libraries   sql.NullString
		genres      sql.NullString
		collections sql.NullString
	)
	if err := row.Scan(&rule.ID, &rule.Owner, &rule.Name, &rule.Enabled, &rule.DryRunMode,
		&rule.GracePeriodDays, &rule.InactivityThresholdDays, &rule.MinRating,
		&kinds, &libraries, &genres, &collections,
		&rule.CreatedBy, &rule.LastRunAt, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return nil, err
	}
	if kinds.Valid && kinds.String != "" {
		_ = json.Unmarshal([]byte(kinds.String), &rule.ExcludedKinds)
	}
	if libraries.Valid && libraries.String != "" {
		_ = json.Unmarshal([]byte(libraries.String), &rule.ExcludedLibraries)
	}
	if genres.Valid && genres.String != "" {
		_ = json.Unmarshal([]byte(genres.String), &rule.ExcludedGenres)
	}
	if collections.Valid && collections.String != "" {
		_ = json.Unmarshal([]byte(collections.String), &rule.ExcludedCollections)
	}
	return &rule, nil
}
