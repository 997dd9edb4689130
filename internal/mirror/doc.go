// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mirror is the authoritative catalog + engagement + quality
// store and query plane for scoring. It owns the media_items and
// deletion_events tables and enforces the data model's two structural
// invariants: uniqueness of (server_id, external_id), and rejection of
// episode rows that arrive without a full hierarchy (grandparent title,
// season number, episode number).
//
// Writes are transactional per batch. BatchUpsertMediaItems chunks at
// 500 rows and retries a failed chunk once with backoff (1s, 4s) before
// surfacing it as a sync failure. HardDelete never cascades to child
// rows: hierarchy here is informational, and deletions are always driven
// by explicit candidate selection from internal/scoring.
package mirror
