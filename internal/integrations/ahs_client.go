// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package integrations

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"context"

	"github.com/goccy/go-json"
)

// AHSHistoryEntry is one playback record as returned by the history
// service's paginated history endpoint.
type AHSHistoryEntry struct {
	RatingKey   string  `json:"rating_key"`
	UserID      int     `json:"user_id"`
	Date        int64   `json:"date"`
	Percent     float64 `json:"percent_complete"`
	Watched     bool    `json:"watched"`
	DurationSec int     `json:"duration"`
}

type ahsHistoryResponse struct {
	Response struct {
		Data struct {
			RecordsFiltered int               `json:"recordsFiltered"`
			Data            []AHSHistoryEntry `json:"data"`
		} `json:"data"`
	} `json:"response"`
}

// AHSKeyTotals is the per-rating-key aggregate the history pipeline merges
// into MediaItem.TotalPlayCount / LastWatchedAt.
type AHSKeyTotals struct {
	RatingKey      string
	TotalPlays     int
	CompletedPlays int
	LastWatchedAt  time.Time
}

// AHSClient is a typed client for the analytics/history service (spec §4.2
// "AHS").
type AHSClient struct {
	transport *Transport
	baseURL   string
	apiKey    string
}

func NewAHSClient(transport *Transport, baseURL, apiKey string) *AHSClient {
	return &AHSClient{transport: transport, baseURL: baseURL, apiKey: apiKey}
}

func (c *AHSClient) host() string {
	if u, err := url.Parse(c.baseURL); err == nil {
		return u.Host
	}
	return c.baseURL
}

// Ping verifies the service is reachable and the API key is valid.
func (c *AHSClient) Ping(ctx context.Context) error {
	query := url.Values{"apikey": {c.apiKey}, "cmd": {"get_server_friendly_name"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2?"+query.Encode(), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.transport.Do(ctx, "ahs", c.host(), req, true)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// HistorySince pages through history records at or after since, ordered
// by date ascending. start/length implement the service's native
// pagination so callers can page without holding the full result set.
func (c *AHSClient) HistorySince(ctx context.Context, since time.Time, start, length int) ([]AHSHistoryEntry, int, error) {
	query := url.Values{
		"apikey": {c.apiKey},
		"cmd":    {"get_history"},
		"after":  {since.Format("2006-01-02")},
		"start":  {strconv.Itoa(start)},
		"length": {strconv.Itoa(length)},
		"order_column": {"date"},
		"order_dir":    {"asc"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2?"+query.Encode(), http.NoBody)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.transport.Do(ctx, "ahs", c.host(), req, true)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var out ahsHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, fmt.Errorf("decode history response: %w", err)
	}
	return out.Response.Data.Data, out.Response.Data.RecordsFiltered, nil
}

// AggregateByKey folds a page of history entries into per-rating-key
// totals. A play counts as "completed" when percent complete exceeds 90%
// (spec §4.4's completion threshold); otherwise it is partial.
func AggregateByKey(entries []AHSHistoryEntry) map[string]*AHSKeyTotals {
	totals := make(map[string]*AHSKeyTotals)
	for _, e := range entries {
		t, ok := totals[e.RatingKey]
		if !ok {
			t = &AHSKeyTotals{RatingKey: e.RatingKey}
			totals[e.RatingKey] = t
		}
		t.TotalPlays++
		if e.Percent > 90 {
			t.CompletedPlays++
		}
		watchedAt := time.Unix(e.Date, 0).UTC()
		if watchedAt.After(t.LastWatchedAt) {
			t.LastWatchedAt = watchedAt
		}
	}
	return totals
}
