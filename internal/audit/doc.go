// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit provides operational audit logging for administrative and
// safety-relevant actions on servers, integrations, rules, schedules, and
// cascade runs.
//
// # Overview
//
// The audit system provides:
//   - Structured event logging with typed event categories
//   - DuckDB persistence for durable audit trail storage
//   - Asynchronous buffered writes for minimal latency impact
//   - Automatic retention policy enforcement with configurable cleanup
//   - SIEM integration via Common Event Format (CEF) export
//   - Flexible querying with multi-dimensional filters
//
// This package is distinct from the DeletionEvent ledger in internal/mirror,
// which records cascade outcomes as first-class domain data (with a media
// snapshot, per-system deletion flags, and no retention cleanup) rather than
// as an audit trail entry.
//
// # Event Types
//
// Events are categorized into the following groups:
//
// Integration credential events:
//   - integration.created, integration.updated, integration.deleted
//   - integration.credential_rotated, integration.credential_decrypt_failed
//
// Server management events:
//   - server.registered, server.updated, server.removed
//
// Deletion rule events:
//   - rule.created, rule.updated, rule.deleted
//
// Schedule events:
//   - schedule.created, schedule.updated, schedule.deleted
//
// Cascade safety events:
//   - cascade.safety_overridden: an operator bypassed a tripped safety rule
//   - cascade.safety_rejected: a candidate set was rejected automatically
//
// Job and webhook events:
//   - job.cancelled
//   - webhook.signature_invalid
//   - admin.action: general administrative actions
//
// # Architecture
//
// The audit system uses a producer-consumer pattern:
//
//	Logger.Log() -> Event Buffer (chan) -> Async Writer -> Store
//	                     |                      |
//	                 Non-blocking           Background goroutine
//
// Events are buffered in a channel to avoid blocking the caller. A background
// goroutine drains the buffer and persists events to the store.
//
// # Usage Example
//
//	store := audit.NewDuckDBStore(db.Conn())
//	logger := audit.NewLogger(store, audit.DefaultConfig())
//	defer logger.Close()
//
//	logger.LogServerChange(ctx, actor, audit.SourceFromRequest(r),
//	    audit.EventTypeServerRegistered, serverID, "ms")
//
//	logger.LogCascadeSafetyRejected(ctx, owner, "max_candidates", 12000)
//
// Querying audit logs:
//
//	filter := audit.QueryFilter{
//	    Types:     []audit.EventType{audit.EventTypeCascadeSafetyRejected},
//	    StartTime: &startTime,
//	    EndTime:   &endTime,
//	    ActorID:   owner,
//	    Limit:     100,
//	    OrderDesc: true,
//	}
//	events, err := logger.Query(ctx, filter)
//
// # Configuration
//
//	cfg := audit.Config{
//	    Enabled:         true,
//	    LogLevel:        audit.SeverityInfo,
//	    RetentionDays:   90,
//	    CleanupInterval: 24 * time.Hour,
//	    BufferSize:      1000,
//	    LogToStdout:     false,
//	    IncludeDebug:    false,
//	}
//
// # SIEM Integration
//
//	exporter := audit.NewCEFExporter()
//	events, _ := logger.Query(ctx, filter)
//	cefData, _ := exporter.Export(events)
//
// # Retention Policy
//
//	logger.StartCleanupRoutine(ctx)
//	// Events older than RetentionDays are automatically deleted
//
// # Thread Safety
//
// All exported functions are safe for concurrent use:
//   - Logger uses a buffered channel for non-blocking writes
//   - Store implementations use appropriate synchronization
//   - Query operations use read locks for concurrent access
package audit
