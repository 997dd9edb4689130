// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/mirrorkeep/cleanup-engine/internal/apierr"
	"github.com/mirrorkeep/cleanup-engine/internal/cascade"
	"github.com/mirrorkeep/cleanup-engine/internal/integrations"
	"github.com/mirrorkeep/cleanup-engine/internal/jobs"
	"github.com/mirrorkeep/cleanup-engine/internal/logging"
	"github.com/mirrorkeep/cleanup-engine/internal/mirror"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
	"github.com/mirrorkeep/cleanup-engine/internal/scoring"
)

var (
	bodyValidator  = validator.New()
	securityLogger = logging.NewSecurityLogger()
)

// clientIP extracts the caller's address for security-event logging.
// RemoteAddr is good enough here since chi's RealIP middleware already
// rewrites it from X-Forwarded-For/X-Real-IP upstream of these handlers.
func clientIP(r *http.Request) string {
	return r.RemoteAddr
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return bodyValidator.Struct(v)
}

// SyncRunner builds and runs a sync job for one server. The concrete
// implementation (librarysync.Syncer or historysync.Syncer) is supplied
// by cmd/server so this package stays decoupled from the integrations
// client plumbing.
type SyncRunner func(owner, serverID string, full bool) (jobs.RunFunc, error)

// Handler holds every dependency the HTTP surface needs to serve spec
// §6's endpoints.
type Handler struct {
	Registry      *jobs.Registry
	Store         *mirror.Store
	Scoring       *scoring.Engine
	ClientFactory *integrations.Factory
	StreamTokens  *StreamTokenIssuer
	LibrarySync   SyncRunner
	HistorySync   SyncRunner

	DefaultPageSize int
	MaxPageSize     int
}

func ownerFrom(r *http.Request) string {
	if owner := r.Header.Get("X-Owner-ID"); owner != "" {
		return owner
	}
	return r.URL.Query().Get("owner")
}

// HealthLive answers the container-liveness probe unconditionally.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"status": "alive"})
}

// HealthReady answers the readiness probe by pinging the mirror store.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Store.CatalogSize(r.Context(), "__healthcheck__"); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{Error: &apiError{Code: "not_ready", Message: err.Error()}})
		return
	}
	writeOK(w, map[string]string{"status": "ready"})
}

// StartLibrarySync handles POST /sync/library.
func (h *Handler) StartLibrarySync(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	serverID := r.URL.Query().Get("server_id")
	full := r.URL.Query().Get("full") == "true"
	if owner == "" || serverID == "" {
		writeError(r, w, apierr.ValidationError("owner and server_id are required", nil))
		return
	}

	run, err := h.LibrarySync(owner, serverID, full)
	if err != nil {
		writeError(r, w, err)
		return
	}
	job, err := h.Registry.Start(r.Context(), owner, serverID, models.KindLibrarySync, models.TriggerManual, run)
	if err != nil {
		writeError(r, w, err)
		return
	}
	writeAccepted(w, map[string]string{"job_id": job.ID})
}

// StreamLibrarySync handles GET /sync/library?stream=true.
func (h *Handler) StreamLibrarySync(w http.ResponseWriter, r *http.Request) {
	h.streamActive(w, r, models.KindLibrarySync)
}

// CancelLibrarySync handles POST /sync/library/cancel.
func (h *Handler) CancelLibrarySync(w http.ResponseWriter, r *http.Request) {
	h.cancelActive(w, r, models.KindLibrarySync)
}

// StartHistorySync handles POST /sync/history.
func (h *Handler) StartHistorySync(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	serverID := r.URL.Query().Get("server_id")
	if owner == "" || serverID == "" {
		writeError(r, w, apierr.ValidationError("owner and server_id are required", nil))
		return
	}

	run, err := h.HistorySync(owner, serverID, false)
	if err != nil {
		writeError(r, w, err)
		return
	}
	job, err := h.Registry.Start(r.Context(), owner, serverID, models.KindHistorySync, models.TriggerManual, run)
	if err != nil {
		writeError(r, w, err)
		return
	}
	writeAccepted(w, map[string]string{"job_id": job.ID})
}

// StreamHistorySync handles GET /sync/history?stream=true.
func (h *Handler) StreamHistorySync(w http.ResponseWriter, r *http.Request) {
	h.streamActive(w, r, models.KindHistorySync)
}

// CancelHistorySync handles POST /sync/history/cancel.
func (h *Handler) CancelHistorySync(w http.ResponseWriter, r *http.Request) {
	h.cancelActive(w, r, models.KindHistorySync)
}

// StreamToken handles GET /stream-token, minting a short-lived token an
// EventSource client attaches as a query parameter in place of the
// Authorization header it cannot set (spec §9 Open Questions).
func (h *Handler) StreamToken(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	if owner == "" {
		writeError(r, w, apierr.ValidationError("owner is required", nil))
		return
	}
	if h.StreamTokens == nil {
		writeError(r, w, apierr.ValidationError("streaming tokens are not configured", nil))
		return
	}
	token := h.StreamTokens.Mint(owner)
	securityLogger.LogStreamingTokenIssued(owner, "", clientIP(r))
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) streamActive(w http.ResponseWriter, r *http.Request, kind models.SyncKind) {
	owner := ownerFrom(r)
	if owner == "" {
		writeError(r, w, apierr.ValidationError("owner is required", nil))
		return
	}
	if r.URL.Query().Get("stream") == "true" && h.StreamTokens != nil {
		if !h.StreamTokens.Verify(owner, streamToken(r)) {
			securityLogger.LogStreamingTokenRejected(string(kind), clientIP(r), "invalid or expired token")
			writeError(r, w, apierr.AuthError("invalid or expired streaming token", nil))
			return
		}
	}

	job, ok := h.Registry.ActiveFor(owner, kind)
	if !ok {
		writeError(r, w, apierr.NotFoundError("no active job of this kind for owner"))
		return
	}

	if r.URL.Query().Get("stream") == "true" {
		streamJob(w, r, job)
		return
	}
	snap, status := job.Snapshot()
	writeOK(w, map[string]interface{}{"job_id": job.ID, "status": status, "progress": snap})
}

func (h *Handler) cancelActive(w http.ResponseWriter, r *http.Request, kind models.SyncKind) {
	owner := ownerFrom(r)
	job, ok := h.Registry.ActiveFor(owner, kind)
	if !ok {
		writeError(r, w, apierr.NotFoundError("no active job of this kind for owner"))
		return
	}
	job.Cancel()
	writeOK(w, map[string]string{"job_id": job.ID, "status": "cancelling"})
}

// Candidates handles GET /candidates?rule_id=…&limit=…&kind_filter=…&min_size_gb=….
func (h *Handler) Candidates(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	ruleID := r.URL.Query().Get("rule_id")
	if owner == "" || ruleID == "" {
		writeError(r, w, apierr.ValidationError("owner and rule_id are required", nil))
		return
	}

	rule, err := h.Store.GetRule(r.Context(), owner, ruleID)
	if err != nil {
		writeError(r, w, err)
		return
	}

	result, err := h.Scoring.Evaluate(r.Context(), *rule, time.Now().UTC(), false)
	if err != nil {
		// a safety-rejected evaluation still carries the count/catalog
		// size the admin needs to decide whether to pass force=true.
		writeError(r, w, err)
		return
	}

	candidates := result.Candidates
	if minGB := r.URL.Query().Get("min_size_gb"); minGB != "" {
		if f, parseErr := strconv.ParseFloat(minGB, 64); parseErr == nil {
			candidates = filterBySize(candidates, f)
		}
	}
	if kindFilter := r.URL.Query().Get("kind_filter"); kindFilter != "" {
		candidates = filterByKind(candidates, models.MediaItemKind(kindFilter))
	}
	if limit := parsePageSize(r, h.DefaultPageSize, h.MaxPageSize); limit < len(candidates) {
		candidates = candidates[:limit]
	}

	writeOK(w, map[string]interface{}{
		"candidates":      candidates,
		"capped":          result.Capped,
		"requires_force":  result.RequiresForce,
		"catalog_size":    result.CatalogSize,
		"candidate_count": result.CandidateCount,
	})
}

func filterBySize(candidates []models.Candidate, minGB float64) []models.Candidate {
	out := candidates[:0:0]
	for _, c := range candidates {
		if float64(c.MediaItem.FileSizeBytes)/(1<<30) >= minGB {
			out = append(out, c)
		}
	}
	return out
}

func filterByKind(candidates []models.Candidate, kind models.MediaItemKind) []models.Candidate {
	out := candidates[:0:0]
	for _, c := range candidates {
		if c.MediaItem.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func parsePageSize(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// cascadeRequest is the POST /cascade body (spec §6).
type cascadeRequest struct {
	RuleID       string   `json:"rule_id" validate:"required"`
	CandidateIDs []string `json:"candidate_ids" validate:"required,min=1"`
	DryRun       bool     `json:"dry_run"`
	ConfirmToken string   `json:"confirm_token"`
	Force        bool     `json:"force"`
}

// Cascade handles POST /cascade.
func (h *Handler) Cascade(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	if owner == "" {
		writeError(r, w, apierr.ValidationError("owner is required", nil))
		return
	}

	var req cascadeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r, w, apierr.ValidationError("invalid request body", err))
		return
	}

	rule, err := h.Store.GetRule(r.Context(), owner, req.RuleID)
	if err != nil {
		writeError(r, w, err)
		return
	}

	items, err := h.Store.GetByIDs(r.Context(), owner, req.CandidateIDs)
	if err != nil {
		writeError(r, w, err)
		return
	}
	if len(items) == 0 {
		writeError(r, w, apierr.ValidationError("no candidates resolved for the given candidate_ids", nil))
		return
	}

	serverID := items[0].ServerID
	for _, item := range items {
		if item.ServerID != serverID {
			writeError(r, w, apierr.ValidationError("a single cascade run must target candidates from one server", nil))
			return
		}
	}

	now := time.Now().UTC()
	candidates := make([]cascade.Candidate, 0, len(items))
	for _, item := range items {
		candidates = append(candidates, cascade.Candidate{
			Item:   item,
			RuleID: rule.ID,
			Reason: rule.Name,
		})
	}

	precheckReq := cascade.Request{
		Owner:        owner,
		Actor:        r.Header.Get("X-Actor-ID"),
		Rule:         *rule,
		Candidates:   candidates,
		DryRun:       req.DryRun,
		ConfirmToken: req.ConfirmToken,
	}
	if err := cascade.CheckPreconditions(precheckReq); err != nil {
		writeError(r, w, err)
		return
	}

	bundle, err := h.ClientFactory.Resolve(r.Context(), owner, serverID)
	if err != nil {
		writeError(r, w, err)
		return
	}
	executor := cascade.NewExecutor(cascade.Clients{MS: bundle.MS, TDL: bundle.TDL, MDL: bundle.MDL, RQP: bundle.RQP}, h.Store)

	runFunc := func(ctx context.Context, job *jobs.Job) error {
		_, runErr := executor.Run(ctx, owner, precheckReq.Actor, candidates, req.DryRun, func(p cascade.Progress) {
			job.Report(p)
		})
		return runErr
	}

	job, err := h.Registry.Start(r.Context(), owner, serverID, models.KindCascadeDelete, models.TriggerManual, runFunc)
	if err != nil {
		writeError(r, w, err)
		return
	}
	if err := h.Store.MarkRuleRun(r.Context(), owner, rule.ID, now); err != nil {
		writeError(r, w, err)
		return
	}
	writeAccepted(w, map[string]string{"job_id": job.ID})
}

// CascadeProgress handles GET /cascade/progress.
func (h *Handler) CascadeProgress(w http.ResponseWriter, r *http.Request) {
	h.streamActive(w, r, models.KindCascadeDelete)
}

// StreamCascade handles GET /cascade?stream=true.
func (h *Handler) StreamCascade(w http.ResponseWriter, r *http.Request) {
	h.streamActive(w, r, models.KindCascadeDelete)
}

// Routes mounts the handler's routes under r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.HealthLive)
	r.Get("/readyz", h.HealthReady)
	r.Get("/stream-token", h.StreamToken)

	r.Post("/sync/library", h.StartLibrarySync)
	r.Get("/sync/library", h.StreamLibrarySync)
	r.Post("/sync/library/cancel", h.CancelLibrarySync)

	r.Post("/sync/history", h.StartHistorySync)
	r.Get("/sync/history", h.StreamHistorySync)
	r.Post("/sync/history/cancel", h.CancelHistorySync)

	r.Get("/candidates", h.Candidates)

	r.Post("/cascade", h.Cascade)
	r.Get("/cascade", h.StreamCascade)
	r.Get("/cascade/progress", h.CascadeProgress)
}
