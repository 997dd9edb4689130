// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package webhook is the owner-routed intake surface for MS, AHS, TDL and
// MDL push notifications.
//
// Intake validates the presented secret in constant time, caps payload
// size at 64KiB, and records every attempt — accepted, debounced, or
// rejected — as a WebhookEvent before any side effect runs. Accepted
// events are routed by (service, event type): library-change
// notifications coalesce into one incremental LibrarySync per
// (owner, kind) after a quiet window, a scrobble notification merges
// directly into the mirror with no job at all, and download-completed
// notifications from the downloaders trigger the same debounced
// LibrarySync path. The debounce and fan-out run over an embedded NATS
// JetStream bus (build tag "nats") with a synchronous in-process
// fallback for builds without it.
package webhook
