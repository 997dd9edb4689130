// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package integrations

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/mirrorkeep/cleanup-engine/internal/apierr"
)

// msSection is one library section returned by /library/sections.
type msSection struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type msSectionsResponse struct {
	MediaContainer struct {
		Directory []msSection `json:"Directory"`
	} `json:"MediaContainer"`
}

// MSMediaPart is one file part of a media item: the storage layer of the
// quality extraction the spec describes in §4.3.
type MSMediaPart struct {
	File       string `json:"file"`
	Size       int64  `json:"size"`
	Accessible bool   `json:"accessible"`
	Exists     bool   `json:"exists"`
}

// MSMedia is one media version (quality stream) of an item.
type MSMedia struct {
	Bitrate         int           `json:"bitrate"`
	Width           int           `json:"width"`
	Height          int           `json:"height"`
	AudioCodec      string        `json:"audioCodec"`
	VideoCodec      string        `json:"videoCodec"`
	Container       string        `json:"container"`
	Part            []MSMediaPart `json:"Part"`
}

// MSItem is one catalog item as returned by section listing or item detail
// endpoints (movie, show, season, or episode).
type MSItem struct {
	RatingKey            string    `json:"ratingKey"`
	Type                 string    `json:"type"`
	Title                string    `json:"title"`
	GrandparentTitle     string    `json:"grandparentTitle"`
	ParentTitle          string    `json:"parentTitle"`
	Index                int       `json:"index"`       // episode number
	ParentIndex          int       `json:"parentIndex"` // season number
	Year                 int       `json:"year"`
	Guid                 string    `json:"guid"`
	AddedAt              int64     `json:"addedAt"`
	UpdatedAt            int64     `json:"updatedAt"`
	LastViewedAt         int64     `json:"lastViewedAt"`
	ViewCount            int       `json:"viewCount"`
	LibrarySectionTitle  string    `json:"librarySectionTitle"`
	Media                []MSMedia `json:"Media"`
}

type msContentResponse struct {
	MediaContainer struct {
		Size     int      `json:"size"`
		Metadata []MSItem `json:"Metadata"`
	} `json:"MediaContainer"`
}

// MSClient is a typed client for the media server's discovery, catalog,
// and deletion surface (spec §4.2 "MS").
type MSClient struct {
	transport *Transport
	baseURL   string
	token     string
}

// NewMSClient builds a client bound to an already-resolved base URL (the
// result of ProbeConnection) and decrypted auth token.
func NewMSClient(transport *Transport, baseURL, token string) *MSClient {
	return &MSClient{transport: transport, baseURL: baseURL, token: token}
}

func (c *MSClient) newRequest(ctx context.Context, method, path string, query url.Values) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *MSClient) host() string {
	if u, err := url.Parse(c.baseURL); err == nil {
		return u.Host
	}
	return c.baseURL
}

// ListLibraries returns every configured library section.
func (c *MSClient) ListLibraries(ctx context.Context) ([]msSection, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/library/sections", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Do(ctx, "ms", c.host(), req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out msSectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode library sections: %w", err)
	}
	return out.MediaContainer.Directory, nil
}

// ListSectionItems pages through every item in a section. When since is
// non-nil, only items updated at or after it are returned
// (updated_since filter, spec §4.3 incremental mode).
func (c *MSClient) ListSectionItems(ctx context.Context, sectionKey string, since *time.Time, start, size int) ([]MSItem, int, error) {
	query := url.Values{}
	query.Set("X-Plex-Container-Start", strconv.Itoa(start))
	query.Set("X-Plex-Container-Size", strconv.Itoa(size))
	if since != nil {
		query.Set("updatedAt>>", strconv.FormatInt(since.Unix(), 10))
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/library/sections/"+sectionKey+"/all", query)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.transport.Do(ctx, "ms", c.host(), req, true)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var out msContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, fmt.Errorf("decode section content: %w", err)
	}
	return out.MediaContainer.Metadata, out.MediaContainer.Size, nil
}

// GetItemDetails fetches full metadata (quality streams and parts) for a
// single leaf item.
func (c *MSClient) GetItemDetails(ctx context.Context, ratingKey string) (*MSItem, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/library/metadata/"+ratingKey, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Do(ctx, "ms", c.host(), req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out msContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode item details: %w", err)
	}
	if len(out.MediaContainer.Metadata) == 0 {
		return nil, apierr.NotFoundError("item not found: " + ratingKey)
	}
	return &out.MediaContainer.Metadata[0], nil
}

// DeleteItem deletes one item by rating key. A 404 is treated as success
// (already-gone, spec §7).
func (c *MSClient) DeleteItem(ctx context.Context, ratingKey string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/library/metadata/"+ratingKey, nil)
	if err != nil {
		return err
	}
	resp, err := c.transport.Do(ctx, "ms", c.host(), req, false)
	if err != nil {
		var apiErr *apierr.Error
		if ok := asError(err, &apiErr); ok && apiErr.Kind == apierr.KindNotFound {
			return nil
		}
		return err
	}
	defer resp.Body.Close()
	if NotFoundIsSuccess(resp.StatusCode) {
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ms delete %s: status %d", ratingKey, resp.StatusCode)
	}
	return nil
}

// UpsertLeavingSoonCollection adds the given rating keys to (creating if
// necessary) the owner's "Leaving Soon" collection in the given section.
func (c *MSClient) UpsertLeavingSoonCollection(ctx context.Context, sectionKey string, ratingKeys []string) error {
	body, err := json.Marshal(map[string]interface{}{
		"title": "Leaving Soon",
		"items": ratingKeys,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/library/sections/"+sectionKey+"/collections/leaving-soon", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.transport.Do(ctx, "ms", c.host(), req, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upsert leaving-soon collection: status %d", resp.StatusCode)
	}
	return nil
}

// ListCollectionMembers enumerates the rating keys currently in a
// collection.
func (c *MSClient) ListCollectionMembers(ctx context.Context, collectionKey string) ([]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/library/collections/"+collectionKey+"/children", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Do(ctx, "ms", c.host(), req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out msContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode collection members: %w", err)
	}
	keys := make([]string, 0, len(out.MediaContainer.Metadata))
	for _, item := range out.MediaContainer.Metadata {
		keys = append(keys, item.RatingKey)
	}
	return keys, nil
}

func asError(err error, target **apierr.Error) bool {
	for err != nil {
		if e, ok := err.(*apierr.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
