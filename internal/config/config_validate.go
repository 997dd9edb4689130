// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import "errors"

var (
	errMissingEncryptionKey = errors.New("config: security.credential_encryption_key is required")
	errWeakEncryptionKey    = errors.New("config: security.credential_encryption_key must be at least 32 bytes")
	errInvalidConcurrency   = errors.New("config: jobs concurrency settings must be positive")
	errInvalidPageSize      = errors.New("config: api.default_page_size must not exceed api.max_page_size")
	errMissingStreamingKey  = errors.New("config: security.streaming_token_secret is required when nats.enabled is true")
)

// Validate checks required fields and cross-field invariants, returning a
// descriptive error when the configuration cannot safely start the server.
func (c *Config) Validate() error {
	if c.Security.CredentialEncryptionKey == "" {
		return errMissingEncryptionKey
	}
	if len(c.Security.CredentialEncryptionKey) < 32 {
		return errWeakEncryptionKey
	}

	if c.Jobs.SyncSectionConcurrency <= 0 ||
		c.Jobs.CascadeConcurrency <= 0 ||
		c.Jobs.PerHostConcurrency <= 0 {
		return errInvalidConcurrency
	}

	if c.API.DefaultPageSize > c.API.MaxPageSize {
		return errInvalidPageSize
	}

	if c.NATS.Enabled && c.Security.StreamingTokenSecret == "" {
		return errMissingStreamingKey
	}

	return nil
}
