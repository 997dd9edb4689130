// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cascade applies a confirmed deletion selection across the
// media server and its companion services, then the local mirror.
//
// Per candidate the sequence is fixed and gated: media-server delete is
// mandatory and, on failure, the candidate is finalized as failed with no
// further systems contacted. Downloader and request-portal steps are
// best-effort; their failure marks the candidate partial rather than
// failed, as long as the media-server delete succeeded. The mirror row is
// hard-deleted only after a successful media-server delete.
//
// Candidates are processed with a fixed concurrency of 3 per owner and a
// 100ms pacing delay between completions; a dry run simulates every
// external call and skips the mirror write entirely, producing
// progress frames and audit rows identical in shape to a real run.
package cascade
