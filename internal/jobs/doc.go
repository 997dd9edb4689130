// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobs is the at-most-one-active-per-(owner, kind) job registry
// and the 1-minute schedule ticker.
//
// A Job wraps one run of LibrarySync, HistorySync, or a cascade delete: it
// tracks live progress, supports cancellation, and fans its progress
// snapshots out to any number of SSE subscribers. The Registry enforces
// the concurrency rules in spec §5: library_sync and cascade_delete are
// mutually exclusive per owner (both touch the mirror's write path),
// while history_sync may run alongside either. Scheduler evaluates due
// Schedule rows once a minute and starts jobs through a caller-supplied
// factory, keeping this package free of any dependency on the concrete
// sync/cascade implementations it triggers.
package jobs
