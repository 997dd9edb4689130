// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration loaded from environment
// variables and an optional config file.
//
// Configuration Loading Order (highest priority wins):
//  1. Environment variables
//  2. Config file (config.yaml if present, or CONFIG_PATH env var)
//  3. Built-in defaults
//
// Deliberately absent from this struct: per-server media-server (MS) base
// URLs, automation-host (AHS) base URLs, and third-party (TDL/MDL/RQP)
// credentials. Those are owner-managed, admin-entered records living in the
// `servers` and `integrations` tables rather than process environment — an
// MS base URL in particular is always discovered and cached, never trusted
// from env (see internal/integrations). This mirrors the split the spec
// draws between "deployment configuration" and "tenant-owned data."
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	Jobs     JobsConfig     `koanf:"jobs"`
	NATS     NATSConfig     `koanf:"nats"`
	API      APIConfig      `koanf:"api"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DatabaseConfig holds DuckDB mirror-store settings (internal/mirror).
type DatabaseConfig struct {
	// Path is the DuckDB database file on disk.
	// Default: /data/mirrorkeep.duckdb
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB's working memory (e.g. "2GB").
	// Default: 2GB
	MaxMemory string `koanf:"max_memory"`

	// Threads bounds DuckDB's internal parallelism. 0 means runtime.NumCPU().
	// Default: 0
	Threads int `koanf:"threads"`

	// SeedMockData populates the mirror with synthetic fixtures on first
	// boot; used for local demos and acceptance tests, never in production.
	// Default: false
	SeedMockData bool `koanf:"seed_mock_data"`
}

// ServerConfig holds HTTP server settings for the exposed surface (spec §6).
type ServerConfig struct {
	// Host is the bind address.
	// Default: 0.0.0.0
	Host string `koanf:"host"`

	// Port is the HTTP listen port.
	// Default: 8420
	Port int `koanf:"port"`

	// Timeout bounds individual request handling.
	// Default: 30s
	Timeout time.Duration `koanf:"timeout"`
}

// JobsConfig holds JobOrchestrator (C7) settings: the progress-store
// location and the concurrency bounds the spec fixes for sync and cascade
// work (§4.3, §4.6, §5).
type JobsConfig struct {
	// ProgressStorePath is the BadgerDB directory backing per-job progress
	// records and webhook-debounce timers, durable across restarts.
	// Default: /data/jobs
	ProgressStorePath string `koanf:"progress_store_path"`

	// SchedulerTickInterval is how often the scheduler scans configured
	// schedules for due runs.
	// Default: 1m
	SchedulerTickInterval time.Duration `koanf:"scheduler_tick_interval"`

	// SyncSectionConcurrency bounds parallel library-section walkers
	// within a single LibrarySync run (§4.3).
	// Default: 4
	SyncSectionConcurrency int `koanf:"sync_section_concurrency"`

	// CascadeConcurrency bounds concurrent candidate deletions within a
	// single cascade run (§4.6). Kept low: deletions fan out to
	// potentially several downstream services per candidate.
	// Default: 3
	CascadeConcurrency int `koanf:"cascade_concurrency"`

	// CascadeCandidateDelay paces successive candidate completions within
	// a cascade, smoothing load on downstream integrations (§4.6).
	// Default: 100ms
	CascadeCandidateDelay time.Duration `koanf:"cascade_candidate_delay"`

	// PerHostConcurrency bounds concurrent in-flight requests issued to
	// any single integration host, independent of job-level concurrency
	// (§4.2).
	// Default: 4
	PerHostConcurrency int `koanf:"per_host_concurrency"`
}

// NATSConfig holds the event-bus settings backing WebhookDispatcher's (C8)
// debounced refresh-trigger publish/consume path.
type NATSConfig struct {
	// Enabled turns the event bus on. When false, webhook intake still
	// validates and records events but does not trigger cascades.
	// Default: true
	Enabled bool `koanf:"enabled"`

	// URL is the NATS server to connect to. Ignored when EmbeddedServer
	// is true.
	// Default: nats://127.0.0.1:4222
	URL string `koanf:"url"`

	// EmbeddedServer runs an in-process NATS server with JetStream rather
	// than dialing an external one — the default for single-binary
	// deployments.
	// Default: true
	EmbeddedServer bool `koanf:"embedded_server"`

	// StoreDir is the JetStream file store directory (embedded mode only).
	// Default: /data/nats
	StoreDir string `koanf:"store_dir"`

	// DebounceWindow is how long WebhookDispatcher waits after the last
	// event for a given owner/server before dispatching a refresh (§4.8).
	// Default: 30s
	DebounceWindow time.Duration `koanf:"debounce_window"`
}

// APIConfig holds pagination limits for the candidates-preview endpoint
// (spec §6).
type APIConfig struct {
	// DefaultPageSize is used when a request omits a page-size parameter.
	// Default: 50
	DefaultPageSize int `koanf:"default_page_size"`

	// MaxPageSize is the largest page size a caller may request.
	// Default: 500
	MaxPageSize int `koanf:"max_page_size"`

	// RateLimitReqs is the number of requests allowed per RateLimitWindow
	// per client, enforced via httprate.
	// Default: 100
	RateLimitReqs int `koanf:"rate_limit_requests"`

	// RateLimitWindow is the sliding window RateLimitReqs applies to.
	// Default: 1m
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	// CORSOrigins lists allowed cross-origin callers.
	// Default: ["*"]
	CORSOrigins []string `koanf:"cors_origins"`
}

// SecurityConfig holds secrets for token-at-rest encryption and SSE
// query-token authentication. Session/auth issuance itself is an external
// collaborator the spec places out of scope (§1) — this config only
// carries what the core needs to encrypt stored credentials and to
// validate the in-query token on streaming endpoints (§9 Open Questions).
type SecurityConfig struct {
	// CredentialEncryptionKey derives the AES-256-GCM key (via HKDF-SHA256)
	// used to encrypt Server.AuthToken and Integration.APIKey at rest.
	// Must be at least 32 bytes of high-entropy material.
	CredentialEncryptionKey string `koanf:"credential_encryption_key"`

	// StreamingTokenSecret verifies the short-lived token passed as a
	// query parameter on SSE job-progress endpoints, the one surface
	// where an Authorization header isn't available to the client
	// (browsers' EventSource API cannot set custom headers). Quarantined
	// to streaming endpoints only — every other endpoint is expected to
	// sit behind the caller's own Authorization-header auth.
	StreamingTokenSecret string `koanf:"streaming_token_secret"`

	// StreamingTokenTTL bounds how long a minted streaming token is valid.
	// Default: 5m
	StreamingTokenTTL time.Duration `koanf:"streaming_token_ttl"`
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	// Level is the minimum log level emitted ("debug", "info", "warn", "error").
	// Default: info
	Level string `koanf:"level"`

	// Format selects "json" (production) or "console" (development, colorized).
	// Default: json
	Format string `koanf:"format"`

	// Caller includes the source file:line of the log call site.
	// Default: false
	Caller bool `koanf:"caller"`
}

// Load reads configuration from environment variables and an optional
// config file, in the order documented on Config. See LoadWithKoanf for the
// underlying layered-loading implementation.
func Load() (*Config, error) {
	return LoadWithKoanf()
}

// LoadLegacy reads configuration directly from environment variables only,
// bypassing the file layer. Preserved for tests that want a config without
// touching the filesystem.
//
// Deprecated: prefer Load for production use.
func LoadLegacy() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Path:         getEnv("MIRRORKEEP_DB_PATH", "/data/mirrorkeep.duckdb"),
			MaxMemory:    getEnv("MIRRORKEEP_DB_MAX_MEMORY", "2GB"),
			Threads:      getIntEnv("MIRRORKEEP_DB_THREADS", 0),
			SeedMockData: getBoolEnv("MIRRORKEEP_SEED_MOCK_DATA", false),
		},
		Server: ServerConfig{
			Host:    getEnv("HTTP_HOST", "0.0.0.0"),
			Port:    getIntEnv("HTTP_PORT", 8420),
			Timeout: getDurationEnv("HTTP_TIMEOUT", 30*time.Second),
		},
		Jobs: JobsConfig{
			ProgressStorePath:      getEnv("JOBS_PROGRESS_STORE_PATH", "/data/jobs"),
			SchedulerTickInterval:  getDurationEnv("JOBS_SCHEDULER_TICK_INTERVAL", time.Minute),
			SyncSectionConcurrency: getIntEnv("JOBS_SYNC_SECTION_CONCURRENCY", 4),
			CascadeConcurrency:     getIntEnv("JOBS_CASCADE_CONCURRENCY", 3),
			CascadeCandidateDelay:  getDurationEnv("JOBS_CASCADE_CANDIDATE_DELAY", 100*time.Millisecond),
			PerHostConcurrency:     getIntEnv("JOBS_PER_HOST_CONCURRENCY", 4),
		},
		NATS: NATSConfig{
			Enabled:        getBoolEnv("NATS_ENABLED", true),
			URL:            getEnv("NATS_URL", "nats://127.0.0.1:4222"),
			EmbeddedServer: getBoolEnv("NATS_EMBEDDED", true),
			StoreDir:       getEnv("NATS_STORE_DIR", "/data/nats"),
			DebounceWindow: getDurationEnv("NATS_DEBOUNCE_WINDOW", 30*time.Second),
		},
		API: APIConfig{
			DefaultPageSize: getIntEnv("API_DEFAULT_PAGE_SIZE", 50),
			MaxPageSize:     getIntEnv("API_MAX_PAGE_SIZE", 500),
			RateLimitReqs:   getIntEnv("RATE_LIMIT_REQUESTS", 100),
			RateLimitWindow: getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
			CORSOrigins:     getSliceEnv("CORS_ORIGINS", []string{"*"}),
		},
		Security: SecurityConfig{
			CredentialEncryptionKey: getEnv("CREDENTIAL_ENCRYPTION_KEY", ""),
			StreamingTokenSecret:    getEnv("STREAMING_TOKEN_SECRET", ""),
			StreamingTokenTTL:       getDurationEnv("STREAMING_TOKEN_TTL", 5*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Caller: getBoolEnv("LOG_CALLER", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
