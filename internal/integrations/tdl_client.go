// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package integrations

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
)

// TDLSeries is the subset of a series record the cascade pipeline needs.
type TDLSeries struct {
	ID         int    `json:"id"`
	TvdbID     int    `json:"tvdbId"`
	Title      string `json:"title"`
	Monitored  bool   `json:"monitored"`
}

// TDLClient is a typed client for the TV-show downloader (spec §4.2 "TDL").
type TDLClient struct {
	transport *Transport
	baseURL   string
	apiKey    string
}

func NewTDLClient(transport *Transport, baseURL, apiKey string) *TDLClient {
	return &TDLClient{transport: transport, baseURL: baseURL, apiKey: apiKey}
}

func (c *TDLClient) host() string {
	if u, err := url.Parse(c.baseURL); err == nil {
		return u.Host
	}
	return c.baseURL
}

func (c *TDLClient) newRequest(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// ResolveByExternalID looks up the TDL series record matching an external
// catalog id (tvdb id, typically sourced from the MS item's guid).
func (c *TDLClient) ResolveByExternalID(ctx context.Context, externalID int) (*TDLSeries, error) {
	query := url.Values{"tvdbId": {fmt.Sprintf("%d", externalID)}}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v3/series/lookup", query, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Do(ctx, "tdl", c.host(), req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var series []TDLSeries
	if err := json.NewDecoder(resp.Body).Decode(&series); err != nil {
		return nil, fmt.Errorf("decode series lookup: %w", err)
	}
	if len(series) == 0 {
		return nil, nil
	}
	return &series[0], nil
}

// DeleteSeries deletes a series record. Per spec §4.6, episode-level
// cascades never touch TDL; only show-level deletions call this, with
// deleteFiles=false and addImportListExclusion=true so the series is
// forgotten by re-acquisition policy without removing files TDL itself
// manages (the mirror's own HardDelete owns file removal).
func (c *TDLClient) DeleteSeries(ctx context.Context, seriesID int, addExclusion bool) error {
	query := url.Values{
		"deleteFiles":             {"false"},
		"addImportListExclusion": {boolStr(addExclusion)},
	}
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/v3/series/%d", seriesID), query, nil)
	if err != nil {
		return err
	}
	resp, err := c.transport.Do(ctx, "tdl", c.host(), req, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if NotFoundIsSuccess(resp.StatusCode) {
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("tdl delete series %d: status %d", seriesID, resp.StatusCode)
	}
	return nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
