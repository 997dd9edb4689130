// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package historysync populates and refreshes the mirror's engagement
// columns (play counts, completion ratios, last-watched timestamps).
//
// When an owner has an active history-service integration, it is the
// source of truth; otherwise the sync falls back to the media server's
// own aggregate view counts, which carry less detail (no completion
// split). An external id that appears in history but not yet in the
// mirror is soft-resolved into a minimal, inaccessible placeholder row
// pending the next catalog sync.
package historysync
