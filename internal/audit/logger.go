// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/mirrorkeep/cleanup-engine/internal/logging"
)

// Config holds configuration for the audit logger.
type Config struct {
	// Enabled controls whether audit logging is active.
	Enabled bool `json:"enabled"`

	// LogLevel filters events by minimum severity.
	LogLevel Severity `json:"log_level"`

	// RetentionDays is how long to keep audit logs.
	RetentionDays int `json:"retention_days"`

	// CleanupInterval is how often to run retention cleanup.
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `json:"buffer_size"`

	// LogToStdout also writes events to stdout.
	LogToStdout bool `json:"log_to_stdout"`

	// IncludeDebug includes debug-level events.
	IncludeDebug bool `json:"include_debug"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		LogLevel:        SeverityInfo,
		RetentionDays:   90,
		CleanupInterval: 24 * time.Hour,
		BufferSize:      1000,
		LogToStdout:     false,
		IncludeDebug:    false,
	}
}

// Logger is the main audit logging service.
type Logger struct {
	config    *Config
	store     Store
	eventChan chan *Event
	mu        sync.RWMutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewLogger creates a new audit logger.
func NewLogger(store Store, config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	l := &Logger{
		config:    config,
		store:     store,
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
	}

	// Start async writer
	l.wg.Add(1)
	go l.asyncWriter()

	return l
}

// asyncWriter processes events from the buffer.
func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			// Drain remaining events
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

// writeEvent persists an event to the store.
func (l *Logger) writeEvent(event *Event) {
	l.mu.RLock()
	config := l.config
	l.mu.RUnlock()

	if config.LogToStdout {
		l.logToStdout(event)
	}

	if l.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.store.Save(ctx, event); err != nil {
			logging.Error().Err(err).Msg("Failed to save audit event")
		}
	}
}

// logToStdout writes an event to stdout in JSON format.
func (l *Logger) logToStdout(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal audit event")
		return
	}
	logging.Info().RawJSON("event", data).Msg("Audit event")
}

// Log records an audit event.
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	config := l.config
	l.mu.RUnlock()

	if !config.Enabled {
		return
	}

	// Filter by severity
	if !l.shouldLog(event.Severity, config) {
		return
	}

	// Generate ID if not set
	if event.ID == "" {
		event.ID = generateEventID()
	}

	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Send to async writer
	select {
	case l.eventChan <- event:
	default:
		logging.Warn().Str("event_id", event.ID).Msg("Audit event buffer full, dropping event")
	}
}

// shouldLog returns true if the event severity meets the minimum level.
func (l *Logger) shouldLog(severity Severity, config *Config) bool {
	if severity == SeverityDebug && !config.IncludeDebug {
		return false
	}

	severityOrder := map[Severity]int{
		SeverityDebug:    0,
		SeverityInfo:     1,
		SeverityWarning:  2,
		SeverityError:    3,
		SeverityCritical: 4,
	}

	return severityOrder[severity] >= severityOrder[config.LogLevel]
}

// Close shuts down the logger gracefully.
func (l *Logger) Close() error {
	close(l.stopChan)
	l.wg.Wait()
	return nil
}

// StartCleanupRoutine starts the retention cleanup routine.
func (l *Logger) StartCleanupRoutine(ctx context.Context) {
	l.mu.RLock()
	interval := l.config.CleanupInterval
	retention := l.config.RetentionDays
	l.mu.RUnlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -retention)
				count, err := l.store.Delete(ctx, cutoff)
				if err != nil {
					logging.Error().Err(err).Msg("Audit cleanup error")
				} else if count > 0 {
					logging.Info().Int64("count", count).Msg("Cleaned up old audit events")
				}
			}
		}
	}()
}

// Query retrieves events matching the filter.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	return l.store.Query(ctx, filter)
}

// Count returns the number of events matching the filter.
func (l *Logger) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	return l.store.Count(ctx, filter)
}

// SetEnabled enables or disables audit logging.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Enabled = enabled
}

// Enabled returns whether audit logging is enabled.
func (l *Logger) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Enabled
}

// generateEventID generates a unique event ID.
func generateEventID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b)
}

// Helper methods for common audit events

// LogIntegrationChange logs the creation, update, or deletion of an
// integration's stored credentials (spec §4.2).
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogIntegrationChange(ctx context.Context, actor Actor, source Source, eventType EventType, integrationID, integrationType string) {
	l.Log(&Event{
		Type:     eventType,
		Severity: SeverityWarning,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   "integration_change",
		Target: &Target{
			ID:   integrationID,
			Type: "integration",
		},
		Description: "Integration " + integrationType + " credentials changed",
		Metadata:    mustJSON(map[string]string{"integration_type": integrationType}),
		RequestID:   getRequestID(ctx),
	})
}

// LogCredentialDecryptFailure logs a failure to decrypt a stored credential,
// which blocks the owning component from proceeding (spec §9).
func (l *Logger) LogCredentialDecryptFailure(ctx context.Context, resourceID, resourceType string) {
	l.Log(&Event{
		Type:     EventTypeCredentialDecryptFail,
		Severity: SeverityCritical,
		Outcome:  OutcomeFailure,
		Actor: Actor{
			ID:   "system",
			Type: "system",
		},
		Action: "decrypt",
		Target: &Target{
			ID:   resourceID,
			Type: resourceType,
		},
		Description: "Failed to decrypt stored credential",
		RequestID:   getRequestID(ctx),
	})
}

// LogServerChange logs the registration, update, or removal of a media
// server (spec §4.1).
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogServerChange(ctx context.Context, actor Actor, source Source, eventType EventType, serverID, serverType string) {
	l.Log(&Event{
		Type:     eventType,
		Severity: SeverityWarning,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   "server_change",
		Target: &Target{
			ID:   serverID,
			Type: "server",
		},
		Description: "Server " + serverType + " configuration changed",
		Metadata:    mustJSON(map[string]string{"server_type": serverType}),
		RequestID:   getRequestID(ctx),
	})
}

// LogRuleChange logs the creation, update, or deletion of a deletion rule
// (spec §4.5).
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogRuleChange(ctx context.Context, actor Actor, source Source, eventType EventType, ruleID string) {
	l.Log(&Event{
		Type:     eventType,
		Severity: SeverityWarning,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   "rule_change",
		Target: &Target{
			ID:   ruleID,
			Type: "deletion_rule",
		},
		Description: "Deletion rule changed",
		RequestID:   getRequestID(ctx),
	})
}

// LogScheduleChange logs the creation, update, or deletion of a cascade
// schedule (spec §4.7).
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogScheduleChange(ctx context.Context, actor Actor, source Source, eventType EventType, scheduleID string) {
	l.Log(&Event{
		Type:     eventType,
		Severity: SeverityInfo,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   "schedule_change",
		Target: &Target{
			ID:   scheduleID,
			Type: "schedule",
		},
		Description: "Cascade schedule changed",
		RequestID:   getRequestID(ctx),
	})
}

// LogCascadeOverridden logs an operator bypassing a tripped safety rule to
// force a cascade run (spec §4.6).
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogCascadeOverridden(ctx context.Context, actor Actor, source Source, owner, rule string) {
	l.Log(&Event{
		Type:     EventTypeCascadeOverridden,
		Severity: SeverityCritical,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   "override_safety_rule",
		Target: &Target{
			ID:   owner,
			Type: "owner",
		},
		Description: "Safety rule overridden: " + rule,
		Metadata:    mustJSON(map[string]string{"rule": rule}),
		RequestID:   getRequestID(ctx),
	})
}

// LogCascadeSafetyRejected logs a cascade run rejected automatically by a
// safety rule (max_candidates or safety_percent_of_total).
func (l *Logger) LogCascadeSafetyRejected(ctx context.Context, owner, rule string, candidateCount int) {
	l.Log(&Event{
		Type:     EventTypeCascadeSafetyRejected,
		Severity: SeverityWarning,
		Outcome:  OutcomeSuccess,
		Actor: Actor{
			ID:   "system",
			Type: "system",
		},
		Action: "reject_cascade",
		Target: &Target{
			ID:   owner,
			Type: "owner",
		},
		Description: "Cascade run rejected by safety rule: " + rule,
		Metadata: mustJSON(map[string]interface{}{
			"rule":            rule,
			"candidate_count": candidateCount,
		}),
		RequestID: getRequestID(ctx),
	})
}

// LogJobCancelled logs an operator cancelling an in-progress job.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogJobCancelled(ctx context.Context, actor Actor, source Source, jobID, jobType string) {
	l.Log(&Event{
		Type:     EventTypeJobCancelled,
		Severity: SeverityInfo,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   "cancel_job",
		Target: &Target{
			ID:   jobID,
			Type: "job",
		},
		Description: "Job cancelled: " + jobType,
		RequestID:   getRequestID(ctx),
	})
}

// LogWebhookSignatureInvalid logs a webhook request rejected for a bad HMAC
// signature (spec §4.8).
func (l *Logger) LogWebhookSignatureInvalid(ctx context.Context, source Source, webhookSource string) {
	l.Log(&Event{
		Type:     EventTypeWebhookSignatureInvalid,
		Severity: SeverityWarning,
		Outcome:  OutcomeFailure,
		Actor: Actor{
			ID:   "unknown",
			Type: "external",
		},
		Source: source,
		Action: "verify_signature",
		Target: &Target{
			ID:   webhookSource,
			Type: "webhook_source",
		},
		Description: "Webhook signature verification failed",
		RequestID:   getRequestID(ctx),
	})
}

// LogAdminAction logs an administrative action.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogAdminAction(ctx context.Context, actor Actor, source Source, action, description string, metadata map[string]interface{}) {
	l.Log(&Event{
		Type:        EventTypeAdminAction,
		Severity:    SeverityWarning,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Source:      source,
		Action:      action,
		Description: description,
		Metadata:    mustJSON(metadata),
		RequestID:   getRequestID(ctx),
	})
}

// mustJSON converts a value to JSON, returning empty object on error.
func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// getRequestID extracts the request ID from context.
func getRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// Context keys
type contextKey string

// RequestIDKey is the context key for request ID.
const RequestIDKey contextKey = "request_id"

// SourceFromRequest creates a Source from an HTTP request.
func SourceFromRequest(r *http.Request) Source {
	ip := r.RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip = xff
	} else if xri := r.Header.Get("X-Real-IP"); xri != "" {
		ip = xri
	}

	return Source{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		Hostname:  r.Host,
	}
}

// ActorFromUser creates an Actor from user information.
func ActorFromUser(id, name string, roles []string, authMethod, sessionID string) Actor {
	return Actor{
		ID:         id,
		Type:       "user",
		Name:       name,
		Roles:      roles,
		AuthMethod: authMethod,
		SessionID:  sessionID,
	}
}

// SystemActor returns an Actor representing the system.
func SystemActor() Actor {
	return Actor{
		ID:   "system",
		Type: "system",
		Name: "cleanup-engine",
	}
}
