// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scoring turns a DeletionRule and the current mirror into a
// ranked, owner-scoped candidate list. The predicate and ordering are
// evaluated in SQL by internal/mirror; this package layers the safety
// bounds (max_candidates cap, safety_percent_of_total force gate) and the
// show-level aggregation view on top, and attaches the scoring evidence
// (days since added, days since watched, a human-readable reason) an
// administrator reviews before confirming a cascade.
package scoring
