// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package services provides suture.Service adapters that let the cleanup
// engine's long-running components (the API HTTP server, the job
// scheduler tick, and the webhook event bus) be supervised by
// internal/supervisor's tree.
//
// Each wrapper adapts an existing Start/Stop or ListenAndServe/Shutdown
// lifecycle to suture's context-driven Serve(ctx) pattern, so the
// underlying component needs no suture awareness of its own.
package services
