// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import "time"

// SyncKind enumerates the job kinds tracked by the orchestrator's
// per-(owner, kind) registry.
type SyncKind string

const (
	KindLibrarySync   SyncKind = "library_sync"
	KindHistorySync   SyncKind = "history_sync"
	KindCascadeDelete SyncKind = "cascade_delete"
)

// SyncTrigger identifies what caused a SyncEvent or job to start.
type SyncTrigger string

const (
	TriggerManual    SyncTrigger = "manual"
	TriggerScheduled SyncTrigger = "scheduled"
	TriggerWebhook   SyncTrigger = "webhook"
)

// JobStatus is the terminal or in-flight state of any job kind.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusPartial   JobStatus = "partial"
)

// SyncEvent is one row per sync invocation (LibrarySync or HistorySync).
type SyncEvent struct {
	ID       string      `json:"id" db:"id"`
	Owner    string      `json:"owner" db:"owner"`
	ServerID string      `json:"server_id" db:"server_id"`
	Kind     SyncKind    `json:"kind" db:"kind"`
	Trigger  SyncTrigger `json:"trigger" db:"trigger"`

	ItemsCreated int `json:"items_created" db:"items_created"`
	ItemsUpdated int `json:"items_updated" db:"items_updated"`
	ItemsFailed  int `json:"items_failed" db:"items_failed"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Status     JobStatus  `json:"status" db:"status"`
	Error      *string    `json:"error,omitempty" db:"error"`
}

// WebhookEventProcessingStatus is the outcome recorded for one intake.
type WebhookEventProcessingStatus string

const (
	WebhookProcessed        WebhookEventProcessingStatus = "processed"
	WebhookDebounced        WebhookEventProcessingStatus = "debounced"
	WebhookRejectedSignature WebhookEventProcessingStatus = "rejected_signature"
	WebhookRejectedSize      WebhookEventProcessingStatus = "rejected_size"
)

// WebhookEvent is one row per webhook intake request.
type WebhookEvent struct {
	ID      string              `json:"id" db:"id"`
	Owner   string              `json:"owner" db:"owner"`
	Service IntegrationService  `json:"service" db:"service"`

	PayloadHash      string                       `json:"payload_hash" db:"payload_hash"`
	ProcessingStatus WebhookEventProcessingStatus `json:"processing_status" db:"processing_status"`
	ActionsTriggered []string                     `json:"actions_triggered,omitempty" db:"actions_triggered"`

	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

// Schedule is a per-(owner, kind) recurring trigger evaluated by the
// scheduler tick.
type Schedule struct {
	ID       string   `json:"id" db:"id"`
	Owner    string   `json:"owner" db:"owner"`
	Kind     SyncKind `json:"kind" db:"kind"`
	Interval time.Duration `json:"interval" db:"interval_seconds"`

	LastRunAt   *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
	NextRunAt   time.Time  `json:"next_run_at" db:"next_run_at"`
	LastStatus  *JobStatus `json:"last_status,omitempty" db:"last_status"`
	LastError   *string    `json:"last_error,omitempty" db:"last_error"`
	RunCount    int64      `json:"run_count" db:"run_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DueAt reports whether the schedule should fire given the current time.
func (s *Schedule) DueAt(now time.Time) bool {
	return !now.Before(s.NextRunAt)
}

// RecordCompletion advances the schedule's bookkeeping after a triggered
// job reaches a terminal state.
func (s *Schedule) RecordCompletion(now time.Time, status JobStatus, errMsg *string) {
	s.LastRunAt = &now
	s.LastStatus = &status
	s.LastError = errMsg
	s.RunCount++
	s.NextRunAt = now.Add(s.Interval)
}
