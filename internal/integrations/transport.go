// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package integrations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"

	"github.com/mirrorkeep/cleanup-engine/internal/apierr"
	"github.com/mirrorkeep/cleanup-engine/internal/logging"
	"github.com/mirrorkeep/cleanup-engine/internal/metrics"
)

// retryDelays implements the backoff schedule for idempotent GET/DELETE
// calls: 0.25s, 1s, 4s (spec §4.2), capped at 3 attempts after the first.
var retryDelays = []time.Duration{250 * time.Millisecond, time.Second, 4 * time.Second}

// maxErrorBodySize bounds how much of a failed response body is read for
// error reporting.
const maxErrorBodySize = 64 * 1024

// Transport is the shared HTTP layer every companion-service client is
// built on: per-host concurrency limiting, retry with backoff, and
// circuit breaker protection. One Transport instance is shared by all
// clients constructed for a given job, so the per-host semaphore and
// per-service breakers apply across MS/AHS/TDL/MDL/RQP calls uniformly.
type Transport struct {
	client *http.Client

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted

	perHostConcurrency int64
	breakers           map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// NewTransport builds a Transport with the given per-call timeout and
// per-host concurrency bound (spec §4.2 default: 4).
func NewTransport(timeout time.Duration, perHostConcurrency int) *Transport {
	if perHostConcurrency <= 0 {
		perHostConcurrency = 4
	}
	return &Transport{
		client:             &http.Client{Timeout: timeout},
		sems:               make(map[string]*semaphore.Weighted),
		breakers:           make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
		perHostConcurrency: int64(perHostConcurrency),
	}
}

func (t *Transport) semaphoreFor(host string) *semaphore.Weighted {
	t.mu.Lock()
	defer t.mu.Unlock()
	sem, ok := t.sems[host]
	if !ok {
		sem = semaphore.NewWeighted(t.perHostConcurrency)
		t.sems[host] = sem
	}
	return sem
}

func (t *Transport) breakerFor(service string) *gobreaker.CircuitBreaker[*http.Response] {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.breakers[service]
	if ok {
		return cb
	}

	metrics.CircuitBreakerState.WithLabelValues(service, service).Set(0)

	cb = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        service,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("integration", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name, name).Set(breakerStateValue(to))
			if to == gobreaker.StateOpen {
				metrics.CircuitBreakerTrips.WithLabelValues(name, name).Inc()
			}
		},
	})
	t.breakers[service] = cb
	return cb
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Do issues req against the named service/host with semaphore pacing,
// circuit breaker protection, and retry-with-backoff. idempotent controls
// whether 5xx responses are retried (spec §4.2): idempotent GET/DELETE
// calls retry on transient network errors or 5xx; mutating calls retry
// only on network errors.
//
// req.Body, if non-nil, must be re-readable across retries; callers pass
// a GetBody-capable request (http.NewRequestWithContext with a
// bytes.Reader body satisfies this automatically).
func (t *Transport) Do(ctx context.Context, service, host string, req *http.Request, idempotent bool) (*http.Response, error) {
	sem := t.semaphoreFor(host)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire host semaphore for %s: %w", host, err)
	}
	defer sem.Release(1)

	cb := t.breakerFor(service)

	var lastErr error
	maxAttempts := 1
	if idempotent {
		maxAttempts = 1 + len(retryDelays)
	} else {
		maxAttempts = 2 // one retry on pure network error
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryDelays[min(attempt-1, len(retryDelays)-1)]
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		attemptReq := req.Clone(ctx)
		resp, err := cb.Execute(func() (*http.Response, error) {
			start := time.Now()
			r, doErr := t.client.Do(attemptReq)
			metrics.IntegrationRequestDuration.WithLabelValues(service, attemptReq.Method).Observe(time.Since(start).Seconds())
			if doErr != nil {
				metrics.IntegrationRequestErrors.WithLabelValues(service, attemptReq.Method, "network").Inc()
				return nil, doErr
			}
			if r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden {
				body := readBodyForError(r.Body)
				r.Body.Close()
				metrics.IntegrationRequestErrors.WithLabelValues(service, attemptReq.Method, "auth").Inc()
				return nil, apierr.AuthError(fmt.Sprintf("%s rejected credentials: %s", service, body), nil)
			}
			if r.StatusCode >= 500 {
				body := readBodyForError(r.Body)
				r.Body.Close()
				metrics.IntegrationRequestErrors.WithLabelValues(service, attemptReq.Method, "5xx").Inc()
				return nil, fmt.Errorf("%s: %d: %s", service, r.StatusCode, body)
			}
			return r, nil
		})

		if err == nil {
			return resp, nil
		}

		var apiErr *apierr.Error
		if errors.As(err, &apiErr) && apiErr.Kind == apierr.KindAuth {
			return nil, err // fatal, never retried
		}

		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apierr.TransientError(fmt.Sprintf("%s circuit breaker open", service), err)
		}
		if !idempotent && !isNetworkError(err) {
			return nil, err // mutating call, 5xx is not retried
		}
	}

	return nil, apierr.TransientError(fmt.Sprintf("%s: retries exhausted", service), lastErr)
}

func isNetworkError(err error) bool {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return false
	}
	return true
}

func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return "(failed to read response body)"
	}
	return string(body)
}

// NotFoundIsSuccess reports whether a DELETE response status should be
// treated as a successful deletion (spec §4.2, §7: 404 on DELETE means
// already-gone).
func NotFoundIsSuccess(statusCode int) bool {
	return statusCode == http.StatusNotFound
}
