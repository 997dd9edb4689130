// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

const mediaItemColumns = `
	id, server_id, owner, external_id, kind, title, year, runtime_seconds,
	tmdb_id, tvdb_id, imdb_id, tdl_series_id, mdl_movie_id, library_section,
	grandparent_title, parent_title, season_number, episode_number,
	video_resolution, video_codec, audio_codec, container, bitrate_kbps,
	file_path, file_size_bytes, accessible,
	total_play_count, complete_play_count, partial_play_count, avg_percent_complete,
	last_watched_at, total_watch_time_seconds, rating, genres, collections,
	added_at, updated_at, history_synced_at`

// queryItems runs a SELECT over media_items with the given WHERE/ORDER
// clause (caller-supplied, parameterized) and scans every row.
func (s *Store) queryItems(ctx context.Context, whereClause string, args ...interface{}) ([]models.MediaItem, error) {
	query := "SELECT " + mediaItemColumns + " FROM media_items " + whereClause
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query media items: %w", err)
	}
	defer rows.Close()

	var items []models.MediaItem
	for rows.Next() {
		item, err := scanMediaItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanMediaItem(rows *sql.Rows) (models.MediaItem, error) {
	var m models.MediaItem
	var kind, videoResolution sql.NullString
	var genresJSON, collectionsJSON sql.NullString

	err := rows.Scan(
		&m.ID, &m.ServerID, &m.Owner, &m.ExternalID, &kind, &m.Title, &m.Year, &m.RuntimeSec,
		&m.TMDBID, &m.TVDBID, &m.IMDBID, &m.TDLSeriesID, &m.MDLMovieID, &m.LibrarySection,
		&m.GrandparentTitle, &m.ParentTitle, &m.SeasonNumber, &m.EpisodeNumber,
		&videoResolution, &m.VideoCodec, &m.AudioCodec, &m.Container, &m.BitrateKbps,
		&m.FilePath, &m.FileSizeBytes, &m.Accessible,
		&m.TotalPlayCount, &m.CompletePlayCount, &m.PartialPlayCount, &m.AvgPercentComplete,
		&m.LastWatchedAt, &m.TotalWatchTimeSeconds, &m.Rating, &genresJSON, &collectionsJSON,
		&m.AddedAt, &m.UpdatedAt, &m.HistorySyncedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan media item row: %w", err)
	}

	m.Kind = models.MediaItemKind(kind.String)
	if videoResolution.Valid {
		r := models.VideoResolution(videoResolution.String)
		m.VideoResolution = &r
	}
	if genresJSON.Valid && genresJSON.String != "" {
		_ = json.Unmarshal([]byte(genresJSON.String), &m.Genres)
	}
	if collectionsJSON.Valid && collectionsJSON.String != "" {
		_ = json.Unmarshal([]byte(collectionsJSON.String), &m.Collections)
	}
	return m, nil
}

// CandidateFilter carries the predicate parameters QueryCandidates
// evaluates (spec §4.5). GracePeriodDays/InactivityThresholdDays/MinRating
// and the exclusion sets come directly from a DeletionRule.
type CandidateFilter struct {
	Owner                   string
	GracePeriodDays         int
	InactivityThresholdDays int
	MinRating               *float64
	ExcludedKinds           []models.MediaItemKind
	ExcludedLibraries       []string
	ExcludedGenres          []string
	ExcludedCollections     []string
	Now                     time.Time
	Limit                   int
}

// QueryCandidates evaluates the six-condition candidate predicate and
// returns matching rows ordered by file_size_bytes desc, days_since_watched
// desc, title asc (spec §4.5). Safety-bound capping and TV aggregation
// are layered on top by the scoring package.
func (s *Store) QueryCandidates(ctx context.Context, f CandidateFilter) ([]models.MediaItem, error) {
	now := f.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	where := []string{
		"owner = ?",
		"accessible IS NOT FALSE",
		"added_at <= ?",
	}
	args := []interface{}{f.Owner, now.AddDate(0, 0, -f.GracePeriodDays)}

	where = append(where, "COALESCE(last_watched_at, added_at) <= ?")
	args = append(args, now.AddDate(0, 0, -f.InactivityThresholdDays))

	if f.MinRating != nil {
		where = append(where, "(rating IS NULL OR rating < ?)")
		args = append(args, *f.MinRating)
	}

	if cond := buildNotInCondition("kind", f.ExcludedKinds, &args); cond != "" {
		where = append(where, cond)
	}
	if cond := buildNotInCondition("library_section", f.ExcludedLibraries, &args); cond != "" {
		where = append(where, cond)
	}
	for _, genre := range f.ExcludedGenres {
		where = append(where, "NOT list_contains(genres, ?)")
		args = append(args, genre)
	}
	for _, collection := range f.ExcludedCollections {
		where = append(where, "NOT list_contains(collections, ?)")
		args = append(args, collection)
	}

	query := fmt.Sprintf(`
		WHERE %s
		ORDER BY file_size_bytes DESC,
		         (epoch(?) - epoch(COALESCE(last_watched_at, added_at))) DESC,
		         title ASC`,
		strings.Join(where, " AND "))
	args = append(args, now)

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return s.queryItems(ctx, query, args...)
}

func buildNotInCondition[T ~string](column string, values []T, args *[]interface{}) string {
	if len(values) == 0 {
		return ""
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		*args = append(*args, string(v))
	}
	return fmt.Sprintf("%s NOT IN (%s)", column, strings.Join(placeholders, ","))
}

// TVShowAggregate is one row of the show-level aggregation view: episodes
// of a show grouped by grandparent_title.
type TVShowAggregate struct {
	GrandparentTitle string
	Episodes         int64
	TotalBytes       int64
	LastWatchedAt    *time.Time
	TotalPlays       int64
}

// TVAggregateView groups episode candidates matching the same predicate
// used by QueryCandidates, by show, for the show-level selection mode
// (spec §4.5).
func (s *Store) TVAggregateView(ctx context.Context, f CandidateFilter) ([]TVShowAggregate, error) {
	now := f.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	where := []string{
		"owner = ?",
		"kind = 'episode'",
		"accessible IS NOT FALSE",
		"added_at <= ?",
		"COALESCE(last_watched_at, added_at) <= ?",
	}
	args := []interface{}{
		f.Owner,
		now.AddDate(0, 0, -f.GracePeriodDays),
		now.AddDate(0, 0, -f.InactivityThresholdDays),
	}

	if cond := buildNotInCondition("library_section", f.ExcludedLibraries, &args); cond != "" {
		where = append(where, cond)
	}

	query := fmt.Sprintf(`
		SELECT grandparent_title, COUNT(*), COALESCE(SUM(file_size_bytes), 0),
		       MAX(last_watched_at), COALESCE(SUM(total_play_count), 0)
		FROM media_items
		WHERE %s AND grandparent_title IS NOT NULL
		GROUP BY grandparent_title
		ORDER BY SUM(file_size_bytes) DESC`,
		strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tv aggregate query: %w", err)
	}
	defer rows.Close()

	var out []TVShowAggregate
	for rows.Next() {
		var agg TVShowAggregate
		if err := rows.Scan(&agg.GrandparentTitle, &agg.Episodes, &agg.TotalBytes, &agg.LastWatchedAt, &agg.TotalPlays); err != nil {
			return nil, fmt.Errorf("scan tv aggregate row: %w", err)
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

// GetByExternalID looks up a single row by its natural key, used by
// HistorySync to read existing engagement counters before merging.
func (s *Store) GetByExternalID(ctx context.Context, serverID, externalID string) (*models.MediaItem, bool, error) {
	items, err := s.queryItems(ctx, "WHERE server_id = ? AND external_id = ? LIMIT 1", serverID, externalID)
	if err != nil {
		return nil, false, err
	}
	if len(items) == 0 {
		return nil, false, nil
	}
	return &items[0], true, nil
}

// GetByIDs resolves a set of media_item surrogate keys scoped to owner,
// used by the cascade endpoint to turn an administrator-confirmed
// candidate_ids list back into full rows before execution.
func (s *Store) GetByIDs(ctx context.Context, owner string, ids []string) ([]models.MediaItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var args []interface{}
	placeholders := make([]string, len(ids))
	args = append(args, owner)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	where := fmt.Sprintf("WHERE owner = ? AND id IN (%s)", strings.Join(placeholders, ","))
	return s.queryItems(ctx, where, args...)
}

// CatalogSize returns the total number of rows for an owner, used by
// scoring to evaluate safety_percent_of_total.
func (s *Store) CatalogSize(ctx context.Context, owner string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_items WHERE owner = ?`, owner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("catalog size query: %w", err)
	}
	return count, nil
}
