// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package historysync

import (
	"context"
	"time"

	"github.com/mirrorkeep/cleanup-engine/internal/integrations"
	"github.com/mirrorkeep/cleanup-engine/internal/metrics"
	"github.com/mirrorkeep/cleanup-engine/internal/mirror"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// Source reports which upstream supplied the engagement data for a run,
// surfaced alongside progress so the caller knows the data's fidelity.
type Source string

const (
	SourceAHS Source = "ahs"
	SourceMS  Source = "ms"
)

// Progress is the incremental status frame reported to the job
// orchestrator (spec §4.4).
type Progress struct {
	Current        int
	Total          int
	Source         Source
	Updated        int
	Created        int
	ItemsPerSecond float64
	ETASeconds     float64
}

const historyPageSize = 500

// Syncer refreshes engagement columns from either an AHS integration or,
// absent one, the media server's own view-count fields.
type Syncer struct {
	ahs   *integrations.AHSClient // nil when no active AHS integration
	ms    *integrations.MSClient
	store *mirror.Store
}

// NewSyncer builds a Syncer. ahs may be nil, in which case Run always
// takes the MS fallback path.
func NewSyncer(ahs *integrations.AHSClient, ms *integrations.MSClient, store *mirror.Store) *Syncer {
	return &Syncer{ahs: ahs, ms: ms, store: store}
}

// Run refreshes engagement data for a server's catalog. since is the
// lower bound of the window to pull from the source; a zero value means
// a lifetime pull, which replaces complete/partial counts outright rather
// than adding deltas to the existing watermark.
func (s *Syncer) Run(ctx context.Context, server models.Server, owner string, trigger models.SyncTrigger, since time.Time, onProgress func(Progress)) (models.SyncEvent, error) {
	start := time.Now()
	event := models.SyncEvent{
		Owner:     owner,
		ServerID:  server.ID,
		Kind:      models.KindHistorySync,
		Trigger:   trigger,
		StartedAt: start,
	}

	var err error
	var created, updated int
	source := SourceMS
	if s.ahs != nil {
		source = SourceAHS
		created, updated, err = s.runAHS(ctx, server, owner, since, onProgress)
	} else {
		created, updated, err = s.runMSFallback(ctx, server, owner, onProgress)
	}

	now := time.Now()
	event.FinishedAt = &now
	event.ItemsCreated = created
	event.ItemsUpdated = updated

	switch {
	case ctx.Err() != nil:
		event.Status = models.JobStatusCancelled
	case err != nil:
		msg := err.Error()
		event.Status = models.JobStatusFailed
		event.Error = &msg
	default:
		event.Status = models.JobStatusCompleted
	}

	metrics.RecordSyncOperation("history_sync", string(source), time.Since(start), created+updated, err)
	return event, err
}

func (s *Syncer) runAHS(ctx context.Context, server models.Server, owner string, since time.Time, onProgress func(Progress)) (created, updated int, err error) {
	lifetime := since.IsZero()

	window := newHistoryWindow()
	entryStart := 0
	for {
		if ctx.Err() != nil {
			return created, updated, nil
		}

		entries, total, err := s.ahs.HistorySince(ctx, since, entryStart, historyPageSize)
		if err != nil {
			return created, updated, err
		}
		if len(entries) == 0 {
			break
		}

		totals := integrations.AggregateByKey(entries)
		for key, t := range totals {
			wasCreated, mergeErr := s.mergeAHSTotals(ctx, server.ID, owner, key, t, lifetime)
			if mergeErr != nil {
				return created, updated, mergeErr
			}
			if wasCreated {
				created++
			} else {
				updated++
			}
			window.record()
			if onProgress != nil {
				rate, eta := window.snapshot(total - (created + updated))
				onProgress(Progress{
					Current:        created + updated,
					Total:          total,
					Source:         SourceAHS,
					Created:        created,
					Updated:        updated,
					ItemsPerSecond: rate,
					ETASeconds:     eta,
				})
			}
		}

		entryStart += len(entries)
		if len(entries) < historyPageSize {
			break
		}
	}
	return created, updated, nil
}

func (s *Syncer) mergeAHSTotals(ctx context.Context, serverID, owner, externalID string, t *integrations.AHSKeyTotals, lifetime bool) (created bool, err error) {
	existing, found, err := s.store.GetByExternalID(ctx, serverID, externalID)
	if err != nil {
		return false, err
	}

	patch := models.MediaItemPatch{}
	lastWatched := t.LastWatchedAt
	if found && existing.LastWatchedAt != nil && existing.LastWatchedAt.After(lastWatched) {
		lastWatched = *existing.LastWatchedAt
	}
	patch.LastWatchedAt = &lastWatched

	partial := t.TotalPlays - t.CompletedPlays
	if lifetime || !found {
		total := t.TotalPlays
		completed := t.CompletedPlays
		patch.TotalPlayCount = &total
		patch.CompletePlayCount = &completed
		patch.PartialPlayCount = &partial
	} else {
		total := existing.TotalPlayCount + t.TotalPlays
		completed := t.CompletedPlays
		if existing.CompletePlayCount != nil {
			completed += *existing.CompletePlayCount
		}
		partialTotal := partial
		if existing.PartialPlayCount != nil {
			partialTotal += *existing.PartialPlayCount
		}
		patch.TotalPlayCount = &total
		patch.CompletePlayCount = &completed
		patch.PartialPlayCount = &partialTotal
	}

	kind := models.KindEpisode
	if found {
		kind = existing.Kind
	}

	_, inserted, err := s.store.UpsertMediaItem(ctx, mirror.UpsertItem{
		ServerID:   serverID,
		Owner:      owner,
		ExternalID: externalID,
		Kind:       kind,
		Patch:      patch,
	})
	if err != nil {
		// Soft-resolve failure for an episode missing hierarchy is expected
		// when history references an item LibrarySync hasn't ingested yet;
		// treat it as a miss rather than a hard error.
		return false, nil //nolint:nilerr
	}
	return inserted, nil
}

func (s *Syncer) runMSFallback(ctx context.Context, server models.Server, owner string, onProgress func(Progress)) (created, updated int, err error) {
	sections, err := s.ms.ListLibraries(ctx)
	if err != nil {
		return 0, 0, err
	}

	window := newHistoryWindow()
	total := 0
	for i := 0; i < len(sections); i++ {
		if ctx.Err() != nil {
			return created, updated, nil
		}
		start := 0
		for {
			items, size, err := s.ms.ListSectionItems(ctx, sections[i].Key, nil, start, historyPageSize)
			if err != nil {
				return created, updated, err
			}
			if start == 0 {
				total += size
			}
			if len(items) == 0 {
				break
			}
			for _, item := range items {
				if item.ViewCount == 0 && item.LastViewedAt == 0 {
					continue
				}
				viewCount := item.ViewCount
				lastViewed := time.Unix(item.LastViewedAt, 0).UTC()
				patch := models.MediaItemPatch{
					TotalPlayCount: &viewCount,
					LastWatchedAt:  &lastViewed,
				}
				_, inserted, err := s.store.UpsertMediaItem(ctx, mirror.UpsertItem{
					ServerID:   server.ID,
					Owner:      owner,
					ExternalID: item.RatingKey,
					Kind:       mustKind(item.Type),
					Patch:      patch,
				})
				if err != nil {
					continue
				}
				if inserted {
					created++
				} else {
					updated++
				}
				window.record()
				if onProgress != nil {
					rate, eta := window.snapshot(total - (created + updated))
					onProgress(Progress{
						Current:        created + updated,
						Total:          total,
						Source:         SourceMS,
						Created:        created,
						Updated:        updated,
						ItemsPerSecond: rate,
						ETASeconds:     eta,
					})
				}
			}
			start += len(items)
			if len(items) < historyPageSize {
				break
			}
		}
	}
	return created, updated, nil
}

func mustKind(t string) models.MediaItemKind {
	switch t {
	case "movie":
		return models.KindMovie
	case "show":
		return models.KindShow
	case "season":
		return models.KindSeason
	default:
		return models.KindEpisode
	}
}
