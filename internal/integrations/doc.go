// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package integrations provides typed HTTP clients for the media server
// (MS) and its companion services: the analytics/history service (AHS),
// the TV and movie downloaders (TDL, MDL), and the request portal (RQP).
//
// Every client shares three concerns via transport.go: connection
// selection (MS only, probed and cached on the Server row), retry with
// exponential backoff, and per-host rate pacing via a semaphore. Circuit
// breaker protection wraps each client so a failing companion service
// degrades gracefully instead of blocking sync or cascade pipelines.
package integrations
