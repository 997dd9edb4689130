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

// RQPUser is a requester account as returned by user lookup.
type RQPUser struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
}

// RQPRequest is one media request.
type RQPRequest struct {
	ID       int    `json:"id"`
	MediaID  int    `json:"mediaId"`
	MediaType string `json:"mediaType"` // "movie" or "tv"
	RequestedBy int  `json:"requestedBy"`
	Status   string `json:"status"`
}

type rqpRequestsResponse struct {
	Results []RQPRequest `json:"results"`
}

// RQPClient is a typed client for the request portal (spec §4.2 "RQP").
type RQPClient struct {
	transport *Transport
	baseURL   string
	apiKey    string
}

func NewRQPClient(transport *Transport, baseURL, apiKey string) *RQPClient {
	return &RQPClient{transport: transport, baseURL: baseURL, apiKey: apiKey}
}

func (c *RQPClient) host() string {
	if u, err := url.Parse(c.baseURL); err == nil {
		return u.Host
	}
	return c.baseURL
}

func (c *RQPClient) newRequest(ctx context.Context, method, path string, query url.Values) (*http.Request, error) {
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

// LookupUserByEmail finds the requester account matching an email
// address, used to attribute webhook pushes and request cleanup to a
// known requester.
func (c *RQPClient) LookupUserByEmail(ctx context.Context, email string) (*RQPUser, error) {
	query := url.Values{"email": {email}}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/user", query)
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Do(ctx, "rqp", c.host(), req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var user RQPUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode user lookup: %w", err)
	}
	return &user, nil
}

// ListRequestsForMedia returns every outstanding request referencing a
// media id, so the cascade pipeline can remove requests tied to a
// deleted item.
func (c *RQPClient) ListRequestsForMedia(ctx context.Context, mediaID int) ([]RQPRequest, error) {
	query := url.Values{"filter": {"all"}, "mediaId": {fmt.Sprintf("%d", mediaID)}}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/request", query)
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Do(ctx, "rqp", c.host(), req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out rqpRequestsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode request list: %w", err)
	}
	return out.Results, nil
}

// RemoveRequest deletes a single request record. A 404 is treated as
// success (already removed).
func (c *RQPClient) RemoveRequest(ctx context.Context, requestID int) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/request/%d", requestID), nil)
	if err != nil {
		return err
	}
	resp, err := c.transport.Do(ctx, "rqp", c.host(), req, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if NotFoundIsSuccess(resp.StatusCode) {
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("rqp remove request %d: status %d", requestID, resp.StatusCode)
	}
	return nil
}
