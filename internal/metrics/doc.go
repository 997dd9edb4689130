// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package metrics provides Prometheus metrics collection and export for
observability.

# Overview

The package instruments:
  - DuckDB mirror-store query latency and errors
  - HTTP API request latency, throughput, and active SSE stream count
  - LibrarySync / HistorySync duration, records processed, errors
  - Outbound integration (MS/AHS/TDL/MDL/RQP) request latency and circuit
    breaker state
  - Scoring and CascadeExecutor candidate counts, run duration, and
    safety-rule rejections
  - JobOrchestrator job duration and scheduler tick/trigger counts
  - WebhookDispatcher intake, signature failures, debounce, and dispatch

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8420/metrics

# Usage

Record a DuckDB query:

	start := time.Now()
	err := store.Exec(ctx, query)
	metrics.RecordDBQuery("insert", "media_items", time.Since(start), err)

Record an integration call and circuit breaker state:

	metrics.RecordIntegrationRequest("ms", "list_sections", elapsed, err)
	metrics.RecordCircuitBreakerState("tdl", integrationID, state, tripped)

# Thread Safety

All recording functions are safe for concurrent use; they delegate
directly to prometheus/client_golang's thread-safe collectors.
*/
package metrics
