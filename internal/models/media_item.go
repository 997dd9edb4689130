// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import "time"

// MediaItemKind enumerates the addressable unit kinds MS exposes.
type MediaItemKind string

const (
	KindMovie   MediaItemKind = "movie"
	KindShow    MediaItemKind = "show"
	KindSeason  MediaItemKind = "season"
	KindEpisode MediaItemKind = "episode"
)

// VideoResolution is the normalized resolution bucket derived from the
// source's width/height during extraction.
type VideoResolution string

const (
	Resolution4K    VideoResolution = "4k"
	Resolution1080p VideoResolution = "1080p"
	Resolution720p  VideoResolution = "720p"
	Resolution480p  VideoResolution = "480p"
	ResolutionSD    VideoResolution = "sd"
)

// MediaItem is one row per addressable unit MS exposes: a movie, show,
// season, or episode. Identity is (ServerID, ExternalID); ID is the
// surrogate key used for internal references (candidate selection,
// cascade execution, DeletionEvent snapshots).
type MediaItem struct {
	ID       string        `json:"id" db:"id"`
	ServerID string        `json:"server_id" db:"server_id"`
	Owner    string        `json:"owner" db:"owner"`

	ExternalID string        `json:"external_id" db:"external_id"`
	Kind       MediaItemKind `json:"kind" db:"kind"`
	Title      string        `json:"title" db:"title"`
	Year       *int          `json:"year,omitempty" db:"year"`
	RuntimeSec *int          `json:"runtime_seconds,omitempty" db:"runtime_seconds"`

	// Release identifiers, used to target companion services.
	TMDBID       *string `json:"tmdb_id,omitempty" db:"tmdb_id"`
	TVDBID       *string `json:"tvdb_id,omitempty" db:"tvdb_id"`
	IMDBID       *string `json:"imdb_id,omitempty" db:"imdb_id"`
	TDLSeriesID  *string `json:"tdl_series_id,omitempty" db:"tdl_series_id"`
	MDLMovieID   *string `json:"mdl_movie_id,omitempty" db:"mdl_movie_id"`

	LibrarySection string `json:"library_section" db:"library_section"`

	// Hierarchy, required for episode rows.
	GrandparentTitle *string `json:"grandparent_title,omitempty" db:"grandparent_title"`
	ParentTitle      *string `json:"parent_title,omitempty" db:"parent_title"`
	SeasonNumber     *int    `json:"season_number,omitempty" db:"season_number"`
	EpisodeNumber    *int    `json:"episode_number,omitempty" db:"episode_number"`

	// Quality, extracted by LibrarySync for leaf items only.
	VideoResolution *VideoResolution `json:"video_resolution,omitempty" db:"video_resolution"`
	VideoCodec      *string          `json:"video_codec,omitempty" db:"video_codec"`
	AudioCodec      *string          `json:"audio_codec,omitempty" db:"audio_codec"`
	Container       *string          `json:"container,omitempty" db:"container"`
	BitrateKbps     *int             `json:"bitrate_kbps,omitempty" db:"bitrate_kbps"`

	// Storage.
	FilePath      *string `json:"file_path,omitempty" db:"file_path"`
	FileSizeBytes int64   `json:"file_size_bytes" db:"file_size_bytes"`
	Accessible    bool    `json:"accessible" db:"accessible"`

	// Engagement, populated/refreshed by HistorySync.
	TotalPlayCount        int        `json:"total_play_count" db:"total_play_count"`
	CompletePlayCount     *int       `json:"complete_play_count,omitempty" db:"complete_play_count"`
	PartialPlayCount      *int       `json:"partial_play_count,omitempty" db:"partial_play_count"`
	AvgPercentComplete    *float64   `json:"avg_percent_complete,omitempty" db:"avg_percent_complete"`
	LastWatchedAt         *time.Time `json:"last_watched_at,omitempty" db:"last_watched_at"`
	TotalWatchTimeSeconds int64      `json:"total_watch_time_seconds" db:"total_watch_time_seconds"`
	Rating                *float64   `json:"rating,omitempty" db:"rating"`
	Genres                []string   `json:"genres,omitempty" db:"genres"`
	Collections           []string   `json:"collections,omitempty" db:"collections"`

	// Provenance.
	AddedAt        time.Time  `json:"added_at" db:"added_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	HistorySyncedAt *time.Time `json:"history_synced_at,omitempty" db:"history_synced_at"`
}

// IsEpisode reports whether the item is an episode row, which requires
// hierarchy fields to be fully populated.
func (m *MediaItem) IsEpisode() bool {
	return m.Kind == KindEpisode
}

// HasValidEpisodeHierarchy reports whether an episode row carries all
// required hierarchy fields. Non-episode rows always satisfy this.
func (m *MediaItem) HasValidEpisodeHierarchy() bool {
	if !m.IsEpisode() {
		return true
	}
	return m.GrandparentTitle != nil && *m.GrandparentTitle != "" &&
		m.SeasonNumber != nil &&
		m.EpisodeNumber != nil
}

// MediaItemPatch is a partial MediaItem update applied by UpsertMediaItem.
// Unspecified (nil) fields are preserved from the existing row; quality and
// hierarchy fields always overwrite when present (sync is authoritative for
// them). Engagement fields follow the merge policy in HistorySync.
type MediaItemPatch struct {
	Kind           *MediaItemKind
	Title          *string
	Year           *int
	RuntimeSec     *int
	TMDBID         *string
	TVDBID         *string
	IMDBID         *string
	TDLSeriesID    *string
	MDLMovieID     *string
	LibrarySection *string

	GrandparentTitle *string
	ParentTitle      *string
	SeasonNumber     *int
	EpisodeNumber    *int

	VideoResolution *VideoResolution
	VideoCodec      *string
	AudioCodec      *string
	Container       *string
	BitrateKbps     *int

	FilePath      *string
	FileSizeBytes *int64
	Accessible    *bool

	Rating      *float64
	Genres      []string
	Collections []string

	// Engagement fields, set only by HistorySync merges.
	TotalPlayCount        *int
	CompletePlayCount     *int
	PartialPlayCount      *int
	AvgPercentComplete    *float64
	LastWatchedAt         *time.Time
	TotalWatchTimeSeconds *int64
}
