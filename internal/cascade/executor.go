// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cascade

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirrorkeep/cleanup-engine/internal/apierr"
	"github.com/mirrorkeep/cleanup-engine/internal/integrations"
	"github.com/mirrorkeep/cleanup-engine/internal/metrics"
	"github.com/mirrorkeep/cleanup-engine/internal/mirror"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// candidateConcurrency is the fixed pipeline concurrency per owner (spec §5).
const candidateConcurrency = 3

// completionDelay is applied between candidate completions to bound the
// rate at which companion services are contacted.
const completionDelay = 100 * time.Millisecond

// candidateTimeout bounds the whole per-candidate step sequence.
const candidateTimeout = 30 * time.Second

// Candidate is one item selected for deletion by a confirmed cascade.
// ShowLevelOrigin marks an episode candidate that was selected because an
// administrator targeted its parent show, not the episode itself; it
// gates whether the episode's series is informed in TDL.
type Candidate struct {
	Item            models.MediaItem
	RuleID          string
	Score           float64
	Reason          string
	ShowLevelOrigin bool
}

// Progress is emitted after every candidate finishes processing.
type Progress struct {
	Current     int
	Total       int
	Deleted     int
	Failed      int
	CurrentItem string
	BytesFreed  int64
}

// Clients bundles the companion-service clients a cascade may contact.
// TDL, MDL and RQP are optional: a deployment without a given companion
// service simply never applies its step.
type Clients struct {
	MS  *integrations.MSClient
	TDL *integrations.TDLClient
	MDL *integrations.MDLClient
	RQP *integrations.RQPClient
}

// Executor runs a confirmed candidate set through the per-candidate
// deletion sequence.
type Executor struct {
	clients Clients
	store   *mirror.Store
}

// NewExecutor builds an Executor. clients.TDL/MDL/RQP may be nil when the
// owning server has no companion service of that kind configured.
func NewExecutor(clients Clients, store *mirror.Store) *Executor {
	return &Executor{clients: clients, store: store}
}

// RunResult summarizes a completed (or cancelled) cascade.
type RunResult struct {
	Events     []models.DeletionEvent
	Deleted    int
	Failed     int
	Cancelled  bool
	BytesFreed int64
}

// Run processes candidates in selection order (already sorted by
// scoring.Engine) with a fixed concurrency of 3 per owner, a 100ms pacing
// delay between candidate completions, and a cancellation check before
// each candidate starts. dryRun simulates every external call: no
// companion service or media server is contacted and the mirror row
// survives, but a DeletionEvent row is still produced per candidate.
func (e *Executor) Run(ctx context.Context, owner, actor string, candidates []Candidate, dryRun bool, onProgress func(Progress)) (RunResult, error) {
	total := len(candidates)
	timer := time.Now()

	var (
		mu      sync.Mutex
		events  = make([]models.DeletionEvent, total)
		done    int
		deleted int
		failed  int
		bytes   int64
		cancelled bool
	)

	work := make(chan int, total)
	for i := range candidates {
		work <- i
	}
	close(work)

	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(candidateConcurrency)

	for w := 0; w < candidateConcurrency; w++ {
		g.Go(func() error {
			for idx := range work {
				if ctx.Err() != nil {
					mu.Lock()
					cancelled = true
					mu.Unlock()
					continue
				}

				cand := candidates[idx]
				event := e.processOne(gctx, owner, actor, cand, dryRun)

				mu.Lock()
				events[idx] = event
				done++
				if event.Status == models.DeletionStatusFailed {
					failed++
				} else {
					deleted++
					bytes += event.SizeBytes
				}
				metrics.CascadeDeletionsTotal.WithLabelValues(owner, string(outcomeFor(event.Status))).Inc()
				snap := Progress{
					Current:     done,
					Total:       total,
					Deleted:     deleted,
					Failed:      failed,
					CurrentItem: cand.Item.Title,
					BytesFreed:  bytes,
				}
				mu.Unlock()

				if onProgress != nil {
					onProgress(snap)
				}
				time.Sleep(completionDelay)
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.CascadeRunDuration.WithLabelValues(owner).Observe(time.Since(timer).Seconds())

	return RunResult{
		Events:     events,
		Deleted:    deleted,
		Failed:     failed,
		Cancelled:  cancelled,
		BytesFreed: bytes,
	}, nil
}

func outcomeFor(status models.DeletionEventStatus) string {
	if status == models.DeletionStatusFailed {
		return "failed"
	}
	return "deleted"
}

// processOne runs the fixed, gated sequence for a single candidate:
// MS delete (mandatory) -> TDL delete (conditional) -> MDL delete
// (conditional) -> RQP cleanup (conditional) -> mirror HardDelete.
func (e *Executor) processOne(ctx context.Context, owner, actor string, cand Candidate, dryRun bool) models.DeletionEvent {
	ctx, cancel := context.WithTimeout(ctx, candidateTimeout)
	defer cancel()

	item := cand.Item
	now := time.Now().UTC()
	event := models.DeletionEvent{
		Owner:       owner,
		MediaItemID: item.ID,
		Title:       item.Title,
		Kind:        item.Kind,
		SizeBytes:   item.FileSizeBytes,
		FilePath:    item.FilePath,
		RuleID:      cand.RuleID,
		Reason:      cand.Reason,
		Score:       cand.Score,
		DryRun:      dryRun,
		Actor:       actor,
		DeletedAt:   now,
	}

	tdlApplicable := item.TDLSeriesID != nil &&
		(item.Kind == models.KindShow || item.Kind == models.KindSeason ||
			(item.Kind == models.KindEpisode && cand.ShowLevelOrigin))
	mdlApplicable := item.Kind == models.KindMovie && item.MDLMovieID != nil
	rqpApplicable := item.TMDBID != nil

	if dryRun {
		event.DeletedFromMS = true
		event.DeletedFromTDL = tdlApplicable
		event.DeletedFromMDL = mdlApplicable
		event.DeletedFromRQP = rqpApplicable
		event.Status = models.DeletionStatusCompleted
		return event
	}

	msErr := e.clients.MS.DeleteItem(ctx, item.ExternalID)
	if msErr != nil {
		msg := msErr.Error()
		event.ErrorMessage = &msg
		event.Status = models.DeletionStatusFailed
		return event
	}
	event.DeletedFromMS = true
	event.DeletedFromMSAt = &now

	anyCompanionFailed := false

	if tdlApplicable {
		if seriesID, convErr := strconv.Atoi(*item.TDLSeriesID); convErr == nil {
			if err := e.clients.TDL.DeleteSeries(ctx, seriesID, true); err == nil {
				t := time.Now().UTC()
				event.DeletedFromTDL = true
				event.DeletedFromTDLAt = &t
			} else {
				anyCompanionFailed = true
			}
		} else {
			anyCompanionFailed = true
		}
	}

	if mdlApplicable {
		if movieID, convErr := strconv.Atoi(*item.MDLMovieID); convErr == nil {
			if err := e.clients.MDL.DeleteMovie(ctx, movieID); err == nil {
				t := time.Now().UTC()
				event.DeletedFromMDL = true
				event.DeletedFromMDLAt = &t
			} else {
				anyCompanionFailed = true
			}
		} else {
			anyCompanionFailed = true
		}
	}

	if rqpApplicable && e.clients.RQP != nil {
		if ok := e.cleanupRequests(ctx, *item.TMDBID); ok {
			t := time.Now().UTC()
			event.DeletedFromRQP = true
			event.DeletedFromRQPAt = &t
		} else {
			anyCompanionFailed = true
		}
	}

	if anyCompanionFailed {
		event.Status = models.DeletionStatusPartial
	} else {
		event.Status = models.DeletionStatusCompleted
	}

	if _, err := e.store.HardDelete(ctx, event); err != nil {
		msg := err.Error()
		event.ErrorMessage = &msg
	}

	return event
}

// cleanupRequests removes every outstanding request portal entry pointing
// at mediaID. It returns false if the lookup or any removal fails, which
// marks the candidate partial rather than aborting the cascade.
func (e *Executor) cleanupRequests(ctx context.Context, tmdbID string) bool {
	mediaID, err := strconv.Atoi(tmdbID)
	if err != nil {
		return false
	}
	requests, err := e.clients.RQP.ListRequestsForMedia(ctx, mediaID)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.KindNotFound {
			return true
		}
		return false
	}
	ok := true
	for _, r := range requests {
		if err := e.clients.RQP.RemoveRequest(ctx, r.ID); err != nil {
			ok = false
		}
	}
	return ok
}
