// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package librarysync

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirrorkeep/cleanup-engine/internal/integrations"
	"github.com/mirrorkeep/cleanup-engine/internal/logging"
	"github.com/mirrorkeep/cleanup-engine/internal/metrics"
	"github.com/mirrorkeep/cleanup-engine/internal/mirror"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// forcedFullAfter is the staleness threshold past which an incremental
// request is escalated to a full sync regardless of what the caller asked
// for (spec §4.3).
const forcedFullAfter = 7 * 24 * time.Hour

// pageSize is the MS pagination page size used while walking a section.
const pageSize = 200

// Syncer walks an MS catalog into the mirror.
type Syncer struct {
	ms                 *integrations.MSClient
	store              *mirror.Store
	sectionConcurrency int
}

// NewSyncer builds a Syncer bound to one server's MS client and the
// shared mirror store.
func NewSyncer(ms *integrations.MSClient, store *mirror.Store, sectionConcurrency int) *Syncer {
	if sectionConcurrency <= 0 {
		sectionConcurrency = 4
	}
	return &Syncer{ms: ms, store: store, sectionConcurrency: sectionConcurrency}
}

// DetermineMode decides full vs incremental and, for incremental, the
// updated_since cutoff.
func DetermineMode(server models.Server, requestFull bool) (full bool, since *time.Time) {
	if requestFull || server.LastFullSyncAt == nil {
		return true, nil
	}
	if time.Since(*server.LastFullSyncAt) > forcedFullAfter {
		return true, nil
	}
	cutoff := server.LastFullSyncAt.Add(-time.Hour)
	return false, &cutoff
}

type accumulator struct {
	mu      sync.Mutex
	created int
	updated int
	failed  int
}

func (a *accumulator) add(created, updated, failed int) {
	a.mu.Lock()
	a.created += created
	a.updated += updated
	a.failed += failed
	a.mu.Unlock()
}

func (a *accumulator) snapshot() (created, updated, failed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.created, a.updated, a.failed
}

// Run walks every library section (full) or every item updated since a
// cutoff (incremental), upserting each into the mirror. onProgress is
// called after every processed item; it must not block.
func (s *Syncer) Run(ctx context.Context, server models.Server, owner string, trigger models.SyncTrigger, requestFull bool, onProgress func(Progress)) (models.SyncEvent, error) {
	start := time.Now()
	event := models.SyncEvent{
		Owner:     owner,
		ServerID:  server.ID,
		Kind:      models.KindLibrarySync,
		Trigger:   trigger,
		StartedAt: start,
	}

	full, since := DetermineMode(server, requestFull)

	sections, err := s.ms.ListLibraries(ctx)
	if err != nil {
		errMsg := err.Error()
		event.Status = models.JobStatusFailed
		event.Error = &errMsg
		now := time.Now()
		event.FinishedAt = &now
		metrics.RecordSyncOperation("library_sync", "ms", time.Since(start), 0, err)
		return event, err
	}

	total := 0
	for _, sec := range sections {
		_, size, err := s.ms.ListSectionItems(ctx, sec.Key, sectionSince(full, since), 0, 1)
		if err != nil {
			logging.Warn().Err(err).Str("section", sec.Key).Msg("librarysync: failed to pre-count section")
			continue
		}
		total += size
	}

	acc := &accumulator{}
	window := newThroughputWindow()
	cancelled := false
	var cancelMu sync.Mutex

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.sectionConcurrency)

	for _, sec := range sections {
		sec := sec
		group.Go(func() error {
			sectionCancelled, err := s.walkSection(gctx, sec.Key, sec.Title, owner, server.ID, sectionSince(full, since), acc, window, total, onProgress)
			if sectionCancelled {
				cancelMu.Lock()
				cancelled = true
				cancelMu.Unlock()
			}
			return err
		})
	}

	runErr := group.Wait()

	created, updated, failed := acc.snapshot()
	event.ItemsCreated = created
	event.ItemsUpdated = updated
	event.ItemsFailed = failed
	now := time.Now()
	event.FinishedAt = &now

	switch {
	case cancelled:
		event.Status = models.JobStatusCancelled
	case runErr != nil:
		errMsg := runErr.Error()
		event.Status = models.JobStatusFailed
		event.Error = &errMsg
	case failed > 0:
		event.Status = models.JobStatusPartial
	default:
		event.Status = models.JobStatusCompleted
	}

	metrics.RecordSyncOperation("library_sync", "ms", time.Since(start), created+updated, runErr)
	return event, runErr
}

func sectionSince(full bool, since *time.Time) *time.Time {
	if full {
		return nil
	}
	return since
}

// walkSection pages through one section, serially processing items and
// flushing accumulated upserts in chunks. Returns true as its first
// result if the walk stopped due to context cancellation.
func (s *Syncer) walkSection(ctx context.Context, sectionKey, sectionTitle, owner, serverID string, since *time.Time, acc *accumulator, window *throughputWindow, total int, onProgress func(Progress)) (bool, error) {
	var pending []mirror.UpsertItem

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		result, err := s.store.BatchUpsertMediaItems(ctx, pending)
		if err != nil {
			return err
		}
		acc.add(result.Created, result.Updated, result.Failed)
		for i := 0; i < result.Created; i++ {
			window.recordCreated()
		}
		for i := 0; i < result.Updated; i++ {
			window.recordUpdated()
		}
		for i := 0; i < result.Failed; i++ {
			window.recordFailed()
		}
		pending = pending[:0]
		return nil
	}

	start := 0
	for {
		if ctx.Err() != nil {
			if err := flush(); err != nil {
				return true, err
			}
			return true, nil
		}

		items, _, err := s.ms.ListSectionItems(ctx, sectionKey, since, start, pageSize)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				_ = flush()
				return true, nil
			}
			return false, err
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			patch, ok := buildPatch(item, sectionTitle)
			if !ok {
				acc.add(0, 0, 1)
				window.recordFailed()
				continue
			}
			kind := models.KindMovie
			if patch.Kind != nil {
				kind = *patch.Kind
			}
			pending = append(pending, mirror.UpsertItem{
				ServerID:   serverID,
				Owner:      owner,
				ExternalID: item.RatingKey,
				Kind:       kind,
				Patch:      patch,
			})

			if len(pending) >= 500 {
				if err := flush(); err != nil {
					return false, err
				}
			}

			if onProgress != nil {
				created, updated, failed := acc.snapshot()
				rate, eta, _, _, _ := window.snapshot(total - (created + updated + failed))
				onProgress(Progress{
					Current:        created + updated + failed,
					Total:          total,
					Section:        sectionTitle,
					Title:          item.Title,
					ItemsPerSecond: rate,
					ETASeconds:     eta,
					Created:        created,
					Updated:        updated,
					Failed:         failed,
				})
			}
		}

		start += len(items)
		if len(items) < pageSize {
			break
		}
	}

	if err := flush(); err != nil {
		return false, err
	}
	return false, nil
}
