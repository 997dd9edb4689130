// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package main is the entry point for the mirrorkeep cleanup-engine server.

The engine mirrors catalog state from a media server and its companion
download/request services into an embedded DuckDB database, scores media
items against administrator-defined deletion rules, and executes
confirmed cascade deletions back across those same services.

# Application Architecture

The server implements a layered architecture with Suture v4 process
supervision:

	RootSupervisor ("mirrorkeep")
	├── DataSupervisor ("data-layer")
	├── MessagingSupervisor ("messaging-layer")
	│   ├── Scheduler (scheduled library/history syncs)
	│   └── Webhook event bus (optional, -tags nats)
	└── APISupervisor ("api-layer")
	    └── HTTP Server (sync control, candidates, cascade, webhook intake)

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and config files
 2. Logging: zerolog with JSON/console output modes
 3. Mirror store: DuckDB schema for media items, servers, integrations,
    rules, and sync/deletion history
 4. Audit log: a second DuckDB-backed store for administrator actions
 5. Credential encryption, integration client factory, scoring engine
 6. Job orchestrator: in-memory registry backed by a BadgerDB progress
    store, plus the schedule ticker
 7. Webhook intake and dispatch
 8. HTTP server: chi router with middleware stack

# Configuration

Configuration is loaded via Koanf v2 with layered sources (highest
priority wins):

	Priority: Environment variables > Config file > Defaults

Core environment variables:

	# Server
	SERVER_HOST=0.0.0.0
	SERVER_PORT=8420
	SERVER_TIMEOUT=30s
	LOG_LEVEL=info               # trace, debug, info, warn, error
	LOG_FORMAT=json              # json or console

	# Database
	DATABASE_PATH=/data/mirrorkeep.duckdb
	DATABASE_MAX_MEMORY=2GB

	# Jobs
	JOBS_PROGRESS_STORE_PATH=/data/jobs
	JOBS_SCHEDULER_TICK_INTERVAL=1m
	JOBS_SYNC_SECTION_CONCURRENCY=4
	JOBS_CASCADE_CONCURRENCY=3

	# NATS (webhook event bus)
	NATS_ENABLED=true
	NATS_URL=nats://127.0.0.1:4222
	NATS_EMBEDDED_SERVER=true

	# Security
	SECURITY_CREDENTIAL_ENCRYPTION_KEY=<32+ chars>
	SECURITY_STREAMING_TOKEN_SECRET=<32+ chars>

See internal/config for the complete set of fields and defaults.

# Build Tags

	go build ./cmd/server          # synchronous webhook dispatch, no durable bus
	go build -tags nats ./cmd/server   # embedded NATS/JetStream event bus

Without the nats tag, accepted webhook events are still validated,
recorded, and routed to the dispatcher, just on the caller's own
goroutine rather than through a durable consumer.

# Signal Handling

The server handles graceful shutdown on SIGINT and SIGTERM:

 1. Cancels the root context
 2. Supervisor tree stops the HTTP server first (in-flight requests get
    a 10s grace period), then the scheduler and webhook event bus
 3. Reports any services that failed to stop within their timeout

# See Also

  - internal/config: Configuration management
  - internal/supervisor: Process supervision
  - internal/api: HTTP handlers and routing
  - internal/mirror: DuckDB-backed catalog mirror
  - internal/cascade: Deletion execution across media/download/request services
*/
package main
