// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package librarysync makes the mirror reflect a media server's catalog.
// A full sync enumerates every section and every item; an incremental
// sync filters by updated_since and is automatically escalated to full
// when more than 7 days have passed since the last full run.
//
// Up to four sections are walked in parallel; items within one section
// are processed serially, matching how media servers tolerate bursty
// polling. Progress is reported on a channel consumed by the job
// orchestrator, and the run can be cancelled at any HTTP boundary without
// leaving half-committed batches.
package librarysync
