// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api wires the engine's HTTP surface (spec §6): library/history
// sync control, candidate preview, cascade execution, and webhook intake.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/mirrorkeep/cleanup-engine/internal/apierr"
	"github.com/mirrorkeep/cleanup-engine/internal/logging"
)

// envelope is the standard response wrapper for every JSON endpoint.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeAccepted(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusAccepted, envelope{Success: true, Data: data})
}

// writeError maps the engine's typed error taxonomy onto HTTP status
// codes and logs server-side failures with their full detail, returning
// only the typed message to the caller.
func writeError(r *http.Request, w http.ResponseWriter, err error) {
	if apiErr, ok := apierr.As(err); ok {
		status, code := statusForKind(apiErr.Kind)
		if status >= http.StatusInternalServerError {
			logging.Ctx(r.Context()).Error().Err(err).Msg("api: request failed")
		}
		writeJSON(w, status, envelope{Error: &apiError{Code: code, Message: apiErr.Message}})
		return
	}
	logging.Ctx(r.Context()).Error().Err(err).Msg("api: unclassified request error")
	writeJSON(w, http.StatusInternalServerError, envelope{Error: &apiError{Code: "internal_error", Message: "internal error"}})
}

func statusForKind(kind apierr.Kind) (int, string) {
	switch kind {
	case apierr.KindAuth:
		return http.StatusUnauthorized, "auth"
	case apierr.KindNotFound:
		return http.StatusNotFound, "not_found"
	case apierr.KindValidation:
		return http.StatusBadRequest, "validation"
	case apierr.KindConflict:
		return http.StatusConflict, "conflict"
	case apierr.KindSafety:
		return http.StatusUnprocessableEntity, "safety"
	case apierr.KindIntegrity:
		return http.StatusConflict, "integrity"
	case apierr.KindTransient:
		return http.StatusServiceUnavailable, "transient"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// streamToken validates the short-lived query-string token SSE endpoints
// accept in place of an Authorization header (spec §9 Open Questions).
func streamToken(r *http.Request) string {
	return r.URL.Query().Get("token")
}

const sseRetryInterval = 3 * time.Second
