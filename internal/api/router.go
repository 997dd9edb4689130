// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	appmiddleware "github.com/mirrorkeep/cleanup-engine/internal/middleware"
	"github.com/mirrorkeep/cleanup-engine/internal/webhook"
)

// chiAdapt wraps the project's func(http.HandlerFunc) http.HandlerFunc
// middleware shape into chi's func(http.Handler) http.Handler so it can
// be registered with r.Use().
func chiAdapt(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// RouterConfig carries the tunables NewRouter needs beyond the handler's
// own dependencies.
type RouterConfig struct {
	CORSOrigins     []string
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// NewRouter assembles the chi router exposing spec §6's HTTP surface:
// sync control, candidate preview, cascade execution, and webhook intake.
func NewRouter(h *Handler, intake *webhook.Intake, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(chiAdapt(appmiddleware.RequestID))
	r.Use(chiAdapt(appmiddleware.PrometheusMetrics))
	r.Use(chiAdapt(appmiddleware.Compression))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "X-Owner-ID", "X-Actor-ID", "X-Webhook-Secret"},
	}))

	if cfg.RateLimitReqs > 0 {
		r.Use(httprate.Limit(cfg.RateLimitReqs, cfg.RateLimitWindow, httprate.WithKeyFuncs(httprate.KeyByIP)))
	}

	h.Routes(r)
	intake.Routes(r)

	return r
}
