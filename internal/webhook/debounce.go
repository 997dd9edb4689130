// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package webhook

import (
	"sync"
	"time"

	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// Debouncer coalesces a burst of events for the same (owner, kind) into a
// single fire after window has elapsed with no further events — the
// "5 events into 1 job" contract (spec §8).
type Debouncer struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	window  time.Duration
}

// NewDebouncer builds a Debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{timers: make(map[string]*time.Timer), window: window}
}

func debounceKey(owner string, kind models.SyncKind) string {
	return owner + "/" + string(kind)
}

// Trigger (re)starts the coalescing timer for (owner, kind); fire runs
// once the window elapses with no further Trigger call for that key.
func (d *Debouncer) Trigger(owner string, kind models.SyncKind, fire func()) {
	key := debounceKey(owner, kind)

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.timers[key]; ok {
		existing.Stop()
	}
	d.timers[key] = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		fire()
	})
}

// Cancel stops any pending timer for (owner, kind) without firing it.
func (d *Debouncer) Cancel(owner string, kind models.SyncKind) {
	key := debounceKey(owner, kind)
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.timers[key]; ok {
		existing.Stop()
		delete(d.timers, key)
	}
}
