// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package config provides centralized configuration management for the
cleanup engine.

This package handles loading, validation, and parsing of environment
variables for all application components. It ensures consistent
configuration across the mirror store, job orchestrator, integration
clients, and webhook dispatcher, and provides sensible defaults for
optional settings.

# Configuration Sources

The package reads configuration from:
  - Environment variables (highest priority)
  - An optional YAML config file (config.yaml, or CONFIG_PATH)
  - Built-in defaults (lowest priority)

# Configuration Structure

The package organizes configuration into logical groups:

  - DatabaseConfig: DuckDB mirror-store connection and performance tuning
  - ServerConfig: HTTP server settings (host, port, timeouts)
  - JobsConfig: job-orchestrator concurrency bounds and progress-store location
  - NATSConfig: embedded event bus backing the webhook dispatcher
  - APIConfig: pagination and rate-limit settings for the HTTP surface
  - SecurityConfig: credential-at-rest encryption key and streaming token secret
  - LoggingConfig: zerolog level/format settings

Deliberately absent: per-server media-server URLs and integration API
keys. Those are owner-managed records in the mirror store's servers and
integrations tables, not deployment configuration — see internal/mirror
and internal/integrations.

# Usage Example

	import "github.com/mirrorkeep/cleanup-engine/internal/config"

	cfg, err := config.Load()
	if err != nil {
	    log.Fatalf("failed to load config: %v", err)
	}

	fmt.Printf("starting server on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("mirror store: %s\n", cfg.Database.Path)

# Validation

Validate checks that a credential encryption key is present and at least
32 bytes, that job concurrency settings are positive, and that a
streaming token secret is configured whenever the event bus is enabled.

# Thread Safety

The Config struct is immutable after Load returns, making it safe for
concurrent access from multiple goroutines without synchronization.
*/
package config
