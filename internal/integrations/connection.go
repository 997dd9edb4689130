// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package integrations

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// probeTimeout bounds each individual connection-URL probe (spec §4.2:
// 5s timeout per candidate).
const probeTimeout = 5 * time.Second

// ConnectionTTL is how long a cached preferred connection URL is trusted
// before re-probing (spec §4.2: 24h).
const ConnectionTTL = 24 * time.Hour

// ConnectionKind classifies how a candidate URL reaches the media server.
type ConnectionKind int

const (
	ConnectionDirect ConnectionKind = iota
	ConnectionLAN
	ConnectionRelay
	ConnectionCustom
)

func (k ConnectionKind) String() string {
	switch k {
	case ConnectionDirect:
		return "direct"
	case ConnectionLAN:
		return "lan"
	case ConnectionRelay:
		return "relay"
	case ConnectionCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ConnectionCandidate is one URL the probe sequence tries, in priority
// order: direct, then LAN, then relay, then an operator-supplied custom
// override.
type ConnectionCandidate struct {
	URL  string
	Kind ConnectionKind
}

// ConnectionResult is the outcome of probing one server's candidate URLs:
// the first one that answers, with its measured latency. Callers persist
// this onto the Server row (PreferredConnectionURL, ConnectionLatencyMs,
// ConnectionTestedAt) so subsequent syncs skip the probe until the TTL
// expires.
type ConnectionResult struct {
	URL       string
	Kind      ConnectionKind
	LatencyMs int64
	TestedAt  time.Time
}

// NeedsReprobe reports whether a cached connection result is stale enough
// to warrant trying the candidate list again.
func NeedsReprobe(testedAt time.Time) bool {
	return time.Since(testedAt) >= ConnectionTTL
}

// ProbeConnection tries each candidate in order (direct, LAN, relay,
// custom), each bounded by probeTimeout, and returns the first that
// responds successfully to an unauthenticated identity request. Custom
// overrides are tried last so an operator-pinned URL only wins if the
// automatically discovered ones fail, unless the candidate list places it
// first explicitly.
func ProbeConnection(ctx context.Context, client *http.Client, candidates []ConnectionCandidate, token string) (*ConnectionResult, error) {
	ordered := make([]ConnectionCandidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Kind < ordered[j].Kind
	})

	var lastErr error
	for _, cand := range ordered {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		latency, err := probeOne(probeCtx, client, cand.URL, token)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		return &ConnectionResult{
			URL:       cand.URL,
			Kind:      cand.Kind,
			LatencyMs: latency.Milliseconds(),
			TestedAt:  time.Now(),
		}, nil
	}
	return nil, fmt.Errorf("no reachable connection among %d candidates: %w", len(candidates), lastErr)
}

func probeOne(ctx context.Context, client *http.Client, baseURL, token string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/identity", http.NoBody)
	if err != nil {
		return 0, err
	}
	if token != "" {
		req.Header.Set("X-Plex-Token", token)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("probe %s: status %d", baseURL, resp.StatusCode)
	}
	return time.Since(start), nil
}
