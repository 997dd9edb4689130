// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/mirrorkeep/cleanup-engine/internal/apierr"
	"github.com/mirrorkeep/cleanup-engine/internal/metrics"
	"github.com/mirrorkeep/cleanup-engine/internal/mirror"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// defaultMaxCandidates is the safety-bound cap on a single candidate set
// (spec §4.5).
const defaultMaxCandidates = 10000

// defaultSafetyPercent is the fraction of the catalog a rule may target
// before requiring an explicit force flag.
const defaultSafetyPercent = 0.25

// Result is the outcome of evaluating a rule: a ranked candidate list
// plus the safety-bound flags the API surfaces to the admin.
type Result struct {
	Candidates     []models.Candidate
	Capped         bool
	RequiresForce  bool
	CatalogSize    int64
	CandidateCount int
}

// Engine evaluates DeletionRules against the mirror.
type Engine struct {
	store          *mirror.Store
	maxCandidates  int
	safetyPercent  float64
}

// NewEngine builds an Engine with the given safety bounds; zero values
// fall back to the spec defaults.
func NewEngine(store *mirror.Store, maxCandidates int, safetyPercent float64) *Engine {
	if maxCandidates <= 0 {
		maxCandidates = defaultMaxCandidates
	}
	if safetyPercent <= 0 {
		safetyPercent = defaultSafetyPercent
	}
	return &Engine{store: store, maxCandidates: maxCandidates, safetyPercent: safetyPercent}
}

// Evaluate runs a rule's predicate against the mirror and returns a
// ranked, capped candidate list. force bypasses the
// safety_percent_of_total rejection (the caller must have obtained
// explicit administrator confirmation).
func (e *Engine) Evaluate(ctx context.Context, rule models.DeletionRule, now time.Time, force bool) (*Result, error) {
	filter := mirror.CandidateFilter{
		Owner:                   rule.Owner,
		GracePeriodDays:         rule.GracePeriodDays,
		InactivityThresholdDays: rule.InactivityThresholdDays,
		MinRating:               rule.MinRating,
		ExcludedKinds:           rule.ExcludedKinds,
		ExcludedLibraries:       rule.ExcludedLibraries,
		ExcludedGenres:          rule.ExcludedGenres,
		ExcludedCollections:     rule.ExcludedCollections,
		Now:                     now,
		Limit:                   e.maxCandidates + 1, // +1 to detect the cap boundary
	}

	items, err := e.store.QueryCandidates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}

	catalogSize, err := e.store.CatalogSize(ctx, rule.Owner)
	if err != nil {
		return nil, fmt.Errorf("catalog size: %w", err)
	}

	capped := false
	if len(items) > e.maxCandidates {
		items = items[:e.maxCandidates]
		capped = true
	}

	requiresForce := false
	if catalogSize > 0 && float64(len(items))/float64(catalogSize) > e.safetyPercent {
		requiresForce = true
	}
	if requiresForce && !force {
		metrics.CascadeSafetyRejections.WithLabelValues(rule.Owner, rule.Name).Inc()
		return &Result{
			RequiresForce:  true,
			CatalogSize:    catalogSize,
			CandidateCount: len(items),
		}, apierr.SafetyError(fmt.Sprintf("rule %q would delete %d/%d items (%.0f%% of catalog); requires force=true", rule.Name, len(items), catalogSize, 100*float64(len(items))/float64(catalogSize)))
	}

	candidates := make([]models.Candidate, 0, len(items))
	for _, item := range items {
		candidates = append(candidates, toCandidate(item, rule, now))
	}

	metrics.CandidatesScored.WithLabelValues(rule.Owner).Add(float64(len(candidates)))

	return &Result{
		Candidates:     candidates,
		Capped:         capped,
		RequiresForce:  false,
		CatalogSize:    catalogSize,
		CandidateCount: len(candidates),
	}, nil
}

func toCandidate(item models.MediaItem, rule models.DeletionRule, now time.Time) models.Candidate {
	daysSinceAdded := int(now.Sub(item.AddedAt).Hours() / 24)
	watchedAt := item.AddedAt
	if item.LastWatchedAt != nil {
		watchedAt = *item.LastWatchedAt
	}
	daysSinceWatched := int(now.Sub(watchedAt).Hours() / 24)

	return models.Candidate{
		MediaItem:      item,
		DaysSinceAdded: daysSinceAdded,
		DaysSinceWatch: daysSinceWatched,
		Score:          score(item, daysSinceAdded, daysSinceWatched),
		Reason:         fmt.Sprintf("inactive %d days, added %d days ago, rule %q", daysSinceWatched, daysSinceAdded, rule.Name),
	}
}

// score is a monotonic ranking aid: larger files and longer inactivity
// score higher, matching the storage-recovery ordering in §4.5 without
// overriding it (QueryCandidates already returns rows pre-ordered; score
// is informational, displayed to the admin).
func score(item models.MediaItem, daysSinceAdded, daysSinceWatched int) float64 {
	sizeGB := float64(item.FileSizeBytes) / (1 << 30)
	return sizeGB*10 + float64(daysSinceWatched)*0.1
}

// AggregateShow groups a ranked episode candidate set by show, used by
// the show-level selection mode: an admin picks a show and the candidate
// set expands to every underlying episode at execution time.
func (e *Engine) AggregateShows(ctx context.Context, rule models.DeletionRule, now time.Time) ([]mirror.TVShowAggregate, error) {
	filter := mirror.CandidateFilter{
		Owner:                   rule.Owner,
		GracePeriodDays:         rule.GracePeriodDays,
		InactivityThresholdDays: rule.InactivityThresholdDays,
		ExcludedLibraries:       rule.ExcludedLibraries,
		Now:                     now,
	}
	return e.store.TVAggregateView(ctx, filter)
}
