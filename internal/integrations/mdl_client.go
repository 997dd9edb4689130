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

// MDLMovie is the subset of a movie record the cascade pipeline needs.
type MDLMovie struct {
	ID        int    `json:"id"`
	TmdbID    int    `json:"tmdbId"`
	Title     string `json:"title"`
	Monitored bool   `json:"monitored"`
}

// MDLClient is a typed client for the movie downloader (spec §4.2 "MDL").
type MDLClient struct {
	transport *Transport
	baseURL   string
	apiKey    string
}

func NewMDLClient(transport *Transport, baseURL, apiKey string) *MDLClient {
	return &MDLClient{transport: transport, baseURL: baseURL, apiKey: apiKey}
}

func (c *MDLClient) host() string {
	if u, err := url.Parse(c.baseURL); err == nil {
		return u.Host
	}
	return c.baseURL
}

func (c *MDLClient) newRequest(ctx context.Context, method, path string, query url.Values) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(nil))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// ResolveByExternalID looks up the MDL movie record matching an external
// catalog id (tmdb id, sourced from the MS item's guid).
func (c *MDLClient) ResolveByExternalID(ctx context.Context, externalID int) (*MDLMovie, error) {
	query := url.Values{"tmdbId": {fmt.Sprintf("%d", externalID)}}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v3/movie/lookup", query)
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Do(ctx, "mdl", c.host(), req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var movies []MDLMovie
	if err := json.NewDecoder(resp.Body).Decode(&movies); err != nil {
		return nil, fmt.Errorf("decode movie lookup: %w", err)
	}
	if len(movies) == 0 {
		return nil, nil
	}
	return &movies[0], nil
}

// DeleteMovie deletes a movie record with deleteFiles=true and an
// exclusion flag to prevent re-download (spec §4.6: MDL deletions always
// remove files and always exclude, unlike TDL's show-level-only policy).
func (c *MDLClient) DeleteMovie(ctx context.Context, movieID int) error {
	query := url.Values{
		"deleteFiles":             {"true"},
		"addImportExclusion": {"true"},
	}
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/v3/movie/%d", movieID), query)
	if err != nil {
		return err
	}
	resp, err := c.transport.Do(ctx, "mdl", c.host(), req, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if NotFoundIsSuccess(resp.StatusCode) {
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mdl delete movie %d: status %d", movieID, resp.StatusCode)
	}
	return nil
}
