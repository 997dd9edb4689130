// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cascade

import (
	"github.com/mirrorkeep/cleanup-engine/internal/apierr"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// Request is an administrator's confirmed cascade request. DryRun comes
// from the request itself, never from the rule: a rule's DryRunMode only
// gates the scheduler's automatic runs, not an explicit confirm call.
type Request struct {
	Owner        string
	Actor        string
	Rule         models.DeletionRule
	Candidates   []Candidate
	DryRun       bool
	ConfirmToken string
}

// CheckPreconditions validates a cascade request before any external
// service is contacted: the rule belongs to the requesting owner, every
// candidate belongs to the requesting owner, and a non-dry-run request
// carries a confirm token.
func CheckPreconditions(req Request) error {
	if req.Rule.Owner != req.Owner {
		return apierr.AuthError("rule does not belong to the requesting owner", nil)
	}
	for _, c := range req.Candidates {
		if c.Item.Owner != req.Owner {
			return apierr.AuthError("candidate does not belong to the requesting owner", nil)
		}
	}
	if !req.DryRun && req.ConfirmToken == "" {
		return apierr.ValidationError("a confirm token is required to execute a non-dry-run cascade", nil)
	}
	return nil
}
