// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package models defines the shared domain types for the cleanup engine:
// MediaItem, Server, Integration, DeletionRule, DeletionEvent, Candidate,
// SyncEvent, WebhookEvent, and Schedule.
//
// These types are owned here rather than in the packages that operate on
// them (mirror, integrations, librarysync, historysync, scoring, cascade,
// jobs, webhook) because every one of those packages needs at least two of
// them - a change to MediaItem's hierarchy fields, for instance, touches
// librarysync's upsert path, scoring's candidate evaluation, and cascade's
// DeletionEvent snapshot all at once. Centralizing avoids import cycles
// between them.
//
// Every row carries an Owner field. The engine is multi-tenant: a server,
// its media items, its rules, and its jobs all belong to exactly one
// owning administrator, and every query in every downstream package must
// filter on it.
package models
