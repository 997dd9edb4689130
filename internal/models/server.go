// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import "time"

// ServerStatus is the connectivity status of a Server.
type ServerStatus string

const (
	ServerStatusOnline  ServerStatus = "online"
	ServerStatusOffline ServerStatus = "offline"
	ServerStatusError   ServerStatus = "error"
)

// Server is one MS instance bound to one owning administrator.
type Server struct {
	ID       string `json:"id" db:"id"`
	Owner    string `json:"owner" db:"owner"`
	Name     string `json:"name" db:"name"`

	// MachineID is the external identifier MS reports; unique per owner.
	MachineID string `json:"machine_id" db:"machine_id"`
	Platform  string `json:"platform" db:"platform"`
	Version   string `json:"version" db:"version"`

	Status ServerStatus `json:"status" db:"status"`

	// PreferredConnectionURL is the cached result of IntegrationClients'
	// connection-probe sequence (direct, LAN, relay, custom).
	PreferredConnectionURL *string    `json:"preferred_connection_url,omitempty" db:"preferred_connection_url"`
	ConnectionLatencyMs    *int       `json:"connection_latency_ms,omitempty" db:"connection_latency_ms"`
	ConnectionTestedAt     *time.Time `json:"connection_tested_at,omitempty" db:"connection_tested_at"`

	// AuthTokenCiphertext is the AES-256-GCM ciphertext of the server's
	// stored authentication token. Decrypted on demand by IntegrationClients;
	// never logged, never returned over the API.
	AuthTokenCiphertext string `json:"-" db:"auth_token_ciphertext"`

	// WebhookSecretCiphertext is validated in constant time against the
	// webhook intake path's presented secret.
	WebhookSecretCiphertext string `json:"-" db:"webhook_secret_ciphertext"`

	LastFullSyncAt *time.Time `json:"last_full_sync_at,omitempty" db:"last_full_sync_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IntegrationService enumerates companion service kinds.
type IntegrationService string

const (
	ServiceAHS IntegrationService = "ahs"
	ServiceTDL IntegrationService = "tdl"
	ServiceMDL IntegrationService = "mdl"
	ServiceRQP IntegrationService = "rqp"
)

// IntegrationStatus mirrors the three-state machine in spec §4.2.
type IntegrationStatus string

const (
	IntegrationInactive IntegrationStatus = "inactive"
	IntegrationActive   IntegrationStatus = "active"
	IntegrationError    IntegrationStatus = "error"
)

// Integration is a configured companion service for one Server.
// Uniqueness: (owner, service, name).
type Integration struct {
	ID       string             `json:"id" db:"id"`
	Owner    string             `json:"owner" db:"owner"`
	ServerID string             `json:"server_id" db:"server_id"`
	Service  IntegrationService `json:"service" db:"service"`
	Name     string             `json:"name" db:"name"`

	BaseURL          string `json:"base_url" db:"base_url"`
	APIKeyCiphertext string `json:"-" db:"api_key_ciphertext"`

	Status     IntegrationStatus `json:"status" db:"status"`
	LastSyncAt *time.Time        `json:"last_sync_at,omitempty" db:"last_sync_at"`

	// ConsecutiveFailures tracks the error-state transition: active -> error
	// after 3 consecutive failures within a 10-minute window.
	ConsecutiveFailures int        `json:"-" db:"consecutive_failures"`
	FirstFailureAt      *time.Time `json:"-" db:"first_failure_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RecordFailure advances the integration's failure tracking, returning true
// if this failure trips the status to IntegrationError (three consecutive
// failures within a 10-minute window).
func (i *Integration) RecordFailure(now time.Time) bool {
	window := 10 * time.Minute
	if i.FirstFailureAt == nil || now.Sub(*i.FirstFailureAt) > window {
		i.FirstFailureAt = &now
		i.ConsecutiveFailures = 1
		return false
	}
	i.ConsecutiveFailures++
	if i.ConsecutiveFailures >= 3 {
		i.Status = IntegrationError
		return true
	}
	return false
}

// RecordSuccess resets failure tracking and restores active status if the
// integration was previously in error.
func (i *Integration) RecordSuccess() {
	i.ConsecutiveFailures = 0
	i.FirstFailureAt = nil
	if i.Status != IntegrationInactive {
		i.Status = IntegrationActive
	}
}
