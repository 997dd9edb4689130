// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for production observability. This package
// instruments:
//   - DuckDB mirror-store query performance
//   - HTTP API endpoint latency and throughput
//   - LibrarySync / HistorySync operation outcomes
//   - JobOrchestrator run duration and concurrency
//   - CascadeExecutor candidate processing and circuit-breaker state
//   - WebhookDispatcher intake and debounce behavior

var (
	// Database Metrics

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mirror_db_query_duration_seconds",
			Help:    "Duration of DuckDB mirror-store queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_db_query_errors_total",
			Help: "Total number of DuckDB mirror-store query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	DBConnectionPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirror_db_connection_pool_size",
			Help: "Current number of database connections in use",
		},
	)

	MirrorItemsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_items_upserted_total",
			Help: "Total number of media item rows inserted or updated in the mirror",
		},
		[]string{"owner", "operation"}, // operation: insert, update
	)

	MirrorItemsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_items_deleted_total",
			Help: "Total number of media item rows hard-deleted from the mirror",
		},
		[]string{"owner"},
	)

	// API Endpoint Metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	APIActiveSSEStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_sse_streams",
			Help: "Current number of open job-progress SSE streams",
		},
	)

	// LibrarySync / HistorySync Metrics

	SyncOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_operation_duration_seconds",
			Help:    "Duration of a LibrarySync or HistorySync run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"sync_type"},
	)

	SyncRecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_processed_total",
			Help: "Total number of media items or history records processed by a sync",
		},
		[]string{"sync_type", "server_type"},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_errors_total",
			Help: "Total number of sync operation errors",
		},
		[]string{"sync_type", "server_type"},
	)

	// Integration Client Metrics (MS/AHS/TDL/MDL/RQP)

	IntegrationRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "integration_request_duration_seconds",
			Help:    "Duration of outbound requests to an integration host",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"integration_type", "operation"},
	)

	IntegrationRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_request_errors_total",
			Help: "Total number of failed outbound integration requests",
		},
		[]string{"integration_type", "operation", "error_type"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per integration (0=closed, 1=half-open, 2=open)",
		},
		[]string{"integration_type", "integration_id"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of times a circuit breaker tripped to open",
		},
		[]string{"integration_type", "integration_id"},
	)

	// Scoring / CascadeExecutor Metrics

	CandidatesScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candidates_scored_total",
			Help: "Total number of media items scored for deletion candidacy",
		},
		[]string{"owner"},
	)

	CandidatesSelected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candidates_selected_total",
			Help: "Total number of candidates selected for a cascade run",
		},
		[]string{"owner"},
	)

	CascadeRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_run_duration_seconds",
			Help:    "Duration of a full cascade run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"owner"},
	)

	CascadeDeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_deletions_total",
			Help: "Total number of candidate deletions completed by cascades",
		},
		[]string{"owner", "outcome"}, // outcome: deleted, failed, skipped
	)

	CascadeSafetyRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_safety_rejections_total",
			Help: "Total number of cascade runs rejected by a safety rule (max_candidates or safety_percent_of_total)",
		},
		[]string{"owner", "rule"},
	)

	// JobOrchestrator Metrics

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Duration of a job from start to terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"job_type", "outcome"},
	)

	JobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_active",
			Help: "Current number of running jobs",
		},
		[]string{"job_type"},
	)

	SchedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Total number of scheduler tick evaluations",
		},
	)

	SchedulesTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedules_triggered_total",
			Help: "Total number of schedules that triggered a job run",
		},
		[]string{"schedule_type"},
	)

	// WebhookDispatcher Metrics

	WebhookEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_received_total",
			Help: "Total number of webhook events accepted at intake",
		},
		[]string{"source"},
	)

	WebhookSignatureFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "Total number of webhook requests rejected for signature mismatch",
		},
		[]string{"source"},
	)

	WebhookDebounced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_debounced_total",
			Help: "Total number of webhook events absorbed into an in-flight debounce window",
		},
		[]string{"source"},
	)

	WebhookDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_dispatched_total",
			Help: "Total number of debounced refresh triggers actually dispatched",
		},
		[]string{"source"},
	)

	NATSPublishTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_publish_total",
			Help: "Total number of messages published to the event bus",
		},
	)

	NATSConsumeTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_consume_total",
			Help: "Total number of messages consumed from the event bus",
		},
	)
)

// RecordDBQuery records the duration and error status of a DuckDB query.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table, errorType(err)).Inc()
	}
}

// RecordAPIRequest records a completed HTTP API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight API request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordSyncOperation records the outcome of a LibrarySync or HistorySync run.
func RecordSyncOperation(syncType, serverType string, duration time.Duration, recordsProcessed int, err error) {
	SyncOperationDuration.WithLabelValues(syncType).Observe(duration.Seconds())
	SyncRecordsProcessed.WithLabelValues(syncType, serverType).Add(float64(recordsProcessed))
	if err != nil {
		SyncErrors.WithLabelValues(syncType, serverType).Inc()
	}
}

// RecordIntegrationRequest records the outcome of an outbound integration call.
func RecordIntegrationRequest(integrationType, operation string, duration time.Duration, err error) {
	IntegrationRequestDuration.WithLabelValues(integrationType, operation).Observe(duration.Seconds())
	if err != nil {
		IntegrationRequestErrors.WithLabelValues(integrationType, operation, errorType(err)).Inc()
	}
}

// circuitState mirrors gobreaker's state ordering (closed=0, half-open=1, open=2).
const (
	circuitClosed   = 0
	circuitHalfOpen = 1
	circuitOpen     = 2
)

// RecordCircuitBreakerState updates the gauge for an integration's circuit
// breaker and, on a transition into the open state, increments the trip
// counter.
func RecordCircuitBreakerState(integrationType, integrationID string, state int, tripped bool) {
	CircuitBreakerState.WithLabelValues(integrationType, integrationID).Set(float64(state))
	if tripped {
		CircuitBreakerTrips.WithLabelValues(integrationType, integrationID).Inc()
	}
}

// RecordJobCompletion records a job's terminal duration and outcome.
func RecordJobCompletion(jobType, outcome string, duration time.Duration) {
	JobDuration.WithLabelValues(jobType, outcome).Observe(duration.Seconds())
}

// errorType classifies an error for low-cardinality metric labels.
func errorType(err error) string {
	if err == nil {
		return "none"
	}
	return "error"
}
