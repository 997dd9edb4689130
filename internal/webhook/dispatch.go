// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package webhook

import (
	"context"
	"time"

	"github.com/mirrorkeep/cleanup-engine/internal/jobs"
	"github.com/mirrorkeep/cleanup-engine/internal/logging"
	"github.com/mirrorkeep/cleanup-engine/internal/mirror"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// MS event types this dispatcher reacts to.
const (
	msEventLibraryNew    = "library.new"
	msEventLibraryOnDeck = "library.on.deck"
	msEventScrobble      = "media.scrobble"
)

// downloader event types (TDL/MDL share the same notification shape).
const downloaderEventCompleted = "download.completed"

// Notification is the service-agnostic shape every webhook adapter
// normalizes its payload into before dispatch.
type Notification struct {
	Owner      string
	ServerID   string
	Service    models.IntegrationService
	EventType  string
	ExternalID string // MS rating key, when applicable
}

// JobFactory builds a RunFunc for an incremental sync triggered by a
// webhook, closing over the concrete librarysync/historysync
// implementations so this package stays decoupled from them.
type JobFactory func(owner, serverID string) (jobs.RunFunc, error)

// Dispatcher routes accepted notifications to their effect: a debounced
// incremental sync job, or an immediate mirror merge for scrobble events.
type Dispatcher struct {
	registry          *jobs.Registry
	store             *mirror.Store
	debounce          *Debouncer
	librarySyncFactory JobFactory
	historySyncFactory JobFactory
}

// NewDispatcher builds a Dispatcher. debounceWindow is the quiet period
// after the last event for a given (owner, kind) before a coalesced sync
// job starts.
func NewDispatcher(registry *jobs.Registry, store *mirror.Store, debounceWindow time.Duration, librarySyncFactory, historySyncFactory JobFactory) *Dispatcher {
	return &Dispatcher{
		registry:           registry,
		store:              store,
		debounce:           NewDebouncer(debounceWindow),
		librarySyncFactory: librarySyncFactory,
		historySyncFactory: historySyncFactory,
	}
}

// Handle routes one accepted notification. It returns the action label
// recorded on the WebhookEvent row ("debounced", "merged", "forwarded",
// or "ignored").
func (d *Dispatcher) Handle(ctx context.Context, n Notification) string {
	switch n.Service {
	case models.ServiceAHS:
		d.debounceSync(n.Owner, n.ServerID, models.KindHistorySync, d.historySyncFactory)
		return "debounced"

	case models.ServiceTDL, models.ServiceMDL:
		if n.EventType == downloaderEventCompleted {
			d.debounceSync(n.Owner, n.ServerID, models.KindLibrarySync, d.librarySyncFactory)
			return "debounced"
		}
		return "ignored"

	case models.ServiceRQP:
		// request-status changes are surfaced to the admin UI directly
		// from the RQP store; no cascade or sync action is triggered.
		return "forwarded"

	default:
		// MS notifications carry no IntegrationService tag of their own;
		// callers route them through HandleMS instead.
		return "ignored"
	}
}

// HandleMS routes an MS-originated notification, which needs the
// scrobble fast-path the companion-service events don't.
func (d *Dispatcher) HandleMS(ctx context.Context, n Notification) string {
	switch n.EventType {
	case msEventLibraryNew, msEventLibraryOnDeck:
		d.debounceSync(n.Owner, n.ServerID, models.KindLibrarySync, d.librarySyncFactory)
		return "debounced"

	case msEventScrobble:
		d.mergeScrobble(ctx, n)
		return "merged"

	default:
		return "ignored"
	}
}

func (d *Dispatcher) debounceSync(owner, serverID string, kind models.SyncKind, factory JobFactory) {
	d.debounce.Trigger(owner, kind, func() {
		ctx := context.Background()
		run, err := factory(owner, serverID)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("owner", owner).Str("kind", string(kind)).Msg("webhook: build debounced job")
			return
		}
		if _, err := d.registry.Start(ctx, owner, serverID, kind, models.TriggerWebhook, run); err != nil {
			// a conflicting job is already running; the next webhook burst
			// will re-debounce and retry.
			logging.Ctx(ctx).Warn().Str("owner", owner).Str("kind", string(kind)).Msg("webhook: debounced job skipped, conflicting job active")
		}
	})
}

// mergeScrobble applies a single engagement-counter bump directly to the
// mirror row, with no job and no companion-service call.
func (d *Dispatcher) mergeScrobble(ctx context.Context, n Notification) {
	if n.ExternalID == "" {
		return
	}
	item, found, err := d.store.GetByExternalID(ctx, n.ServerID, n.ExternalID)
	if err != nil || !found {
		return
	}

	now := time.Now().UTC()
	complete := 1
	if item.CompletePlayCount != nil {
		complete = *item.CompletePlayCount + 1
	}
	totalPlays := item.TotalPlayCount + 1

	_, _, err = d.store.UpsertMediaItem(ctx, mirror.UpsertItem{
		ServerID:   n.ServerID,
		Owner:      n.Owner,
		ExternalID: n.ExternalID,
		Kind:       item.Kind,
		Patch: models.MediaItemPatch{
			CompletePlayCount: &complete,
			TotalPlayCount:    &totalPlays,
			LastWatchedAt:     &now,
		},
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("owner", n.Owner).Str("external_id", n.ExternalID).Msg("webhook: scrobble merge failed")
	}
}
