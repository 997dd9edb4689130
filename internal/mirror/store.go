// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mirrorkeep/cleanup-engine/internal/apierr"
	"github.com/mirrorkeep/cleanup-engine/internal/logging"
	"github.com/mirrorkeep/cleanup-engine/internal/metrics"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// batchChunkSize is the transactional chunk size for BatchUpsertMediaItems
// (spec §4.1).
const batchChunkSize = 500

// batchRetryDelays is the backoff schedule for a failed chunk: one retry
// at 1s, then 4s, before the chunk is reported failed.
var batchRetryDelays = []time.Duration{time.Second, 4 * time.Second}

// Store is the DuckDB-backed MirrorStore: the authoritative catalog,
// engagement, and quality mirror and the query plane scoring reads from.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore wraps an already-opened DuckDB handle. Callers must call
// CreateTables once during startup.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertItem is one external item plus the patch to apply, the input unit
// for both UpsertMediaItem and BatchUpsertMediaItems.
type UpsertItem struct {
	ServerID   string
	Owner      string
	ExternalID string
	Kind       models.MediaItemKind
	Patch      models.MediaItemPatch
}

// UpsertMediaItem inserts a new row or merges a patch into an existing
// one, keyed by (server_id, external_id). Quality and hierarchy fields in
// the patch always overwrite; unspecified (nil) fields are preserved from
// the existing row. Episode rows without a full hierarchy are rejected.
func (s *Store) UpsertMediaItem(ctx context.Context, item UpsertItem) (id string, inserted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	id, inserted, err = s.upsertOne(ctx, tx, item)
	if err != nil {
		return "", false, err
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit upsert tx: %w", err)
	}
	return id, inserted, nil
}

func (s *Store) upsertOne(ctx context.Context, tx *sql.Tx, item UpsertItem) (id string, inserted bool, err error) {
	if item.Kind == models.KindEpisode && !hasValidEpisodeHierarchy(item.Patch) {
		return "", false, apierr.IntegrityError(fmt.Sprintf("episode %s/%s missing hierarchy fields", item.ServerID, item.ExternalID))
	}

	var existingID string
	row := tx.QueryRowContext(ctx,
		`SELECT id FROM media_items WHERE server_id = ? AND external_id = ?`,
		item.ServerID, item.ExternalID)
	scanErr := row.Scan(&existingID)

	switch {
	case errors.Is(scanErr, sql.ErrNoRows):
		newID := uuid.NewString()
		if err := s.insertRow(ctx, tx, newID, item); err != nil {
			return "", false, err
		}
		return newID, true, nil
	case scanErr != nil:
		return "", false, fmt.Errorf("lookup existing media item: %w", scanErr)
	default:
		if err := s.updateRow(ctx, tx, existingID, item); err != nil {
			return "", false, err
		}
		return existingID, false, nil
	}
}

func hasValidEpisodeHierarchy(p models.MediaItemPatch) bool {
	return p.GrandparentTitle != nil && *p.GrandparentTitle != "" &&
		p.SeasonNumber != nil && p.EpisodeNumber != nil
}

func (s *Store) insertRow(ctx context.Context, tx *sql.Tx, id string, item UpsertItem) error {
	p := item.Patch
	now := time.Now().UTC()
	genres, _ := json.Marshal(p.Genres)
	collections, _ := json.Marshal(p.Collections)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO media_items (
			id, server_id, owner, external_id, kind, title, year, runtime_seconds,
			tmdb_id, tvdb_id, imdb_id, tdl_series_id, mdl_movie_id, library_section,
			grandparent_title, parent_title, season_number, episode_number,
			video_resolution, video_codec, audio_codec, container, bitrate_kbps,
			file_path, file_size_bytes, accessible,
			total_play_count, complete_play_count, partial_play_count, avg_percent_complete,
			last_watched_at, total_watch_time_seconds, rating, genres, collections,
			added_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, item.ServerID, item.Owner, item.ExternalID, string(item.Kind), deref(p.Title, ""), p.Year, p.RuntimeSec,
		p.TMDBID, p.TVDBID, p.IMDBID, p.TDLSeriesID, p.MDLMovieID, deref(p.LibrarySection, ""),
		p.GrandparentTitle, p.ParentTitle, p.SeasonNumber, p.EpisodeNumber,
		videoResolutionPtr(p.VideoResolution), p.VideoCodec, p.AudioCodec, p.Container, p.BitrateKbps,
		p.FilePath, derefInt64(p.FileSizeBytes, 0), derefBool(p.Accessible, true),
		derefInt(p.TotalPlayCount, 0), p.CompletePlayCount, p.PartialPlayCount, p.AvgPercentComplete,
		p.LastWatchedAt, derefInt64(p.TotalWatchTimeSeconds, 0), p.Rating, string(genres), string(collections),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("insert media item: %w", err)
	}
	metrics.MirrorItemsUpserted.WithLabelValues(item.Owner, "insert").Inc()
	return nil
}

func (s *Store) updateRow(ctx context.Context, tx *sql.Tx, id string, item UpsertItem) error {
	p := item.Patch
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}

	addSet := func(col string, val interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}

	if p.Kind != nil {
		addSet("kind", string(*p.Kind))
	}
	if p.Title != nil {
		addSet("title", *p.Title)
	}
	if p.Year != nil {
		addSet("year", *p.Year)
	}
	if p.RuntimeSec != nil {
		addSet("runtime_seconds", *p.RuntimeSec)
	}
	if p.TMDBID != nil {
		addSet("tmdb_id", *p.TMDBID)
	}
	if p.TVDBID != nil {
		addSet("tvdb_id", *p.TVDBID)
	}
	if p.IMDBID != nil {
		addSet("imdb_id", *p.IMDBID)
	}
	if p.TDLSeriesID != nil {
		addSet("tdl_series_id", *p.TDLSeriesID)
	}
	if p.MDLMovieID != nil {
		addSet("mdl_movie_id", *p.MDLMovieID)
	}
	if p.LibrarySection != nil {
		addSet("library_section", *p.LibrarySection)
	}
	// Hierarchy and quality fields always overwrite when present: sync is
	// authoritative for them.
	if p.GrandparentTitle != nil {
		addSet("grandparent_title", *p.GrandparentTitle)
	}
	if p.ParentTitle != nil {
		addSet("parent_title", *p.ParentTitle)
	}
	if p.SeasonNumber != nil {
		addSet("season_number", *p.SeasonNumber)
	}
	if p.EpisodeNumber != nil {
		addSet("episode_number", *p.EpisodeNumber)
	}
	if p.VideoResolution != nil {
		addSet("video_resolution", string(*p.VideoResolution))
	}
	if p.VideoCodec != nil {
		addSet("video_codec", *p.VideoCodec)
	}
	if p.AudioCodec != nil {
		addSet("audio_codec", *p.AudioCodec)
	}
	if p.Container != nil {
		addSet("container", *p.Container)
	}
	if p.BitrateKbps != nil {
		addSet("bitrate_kbps", *p.BitrateKbps)
	}
	if p.FilePath != nil {
		addSet("file_path", *p.FilePath)
	}
	if p.FileSizeBytes != nil {
		addSet("file_size_bytes", *p.FileSizeBytes)
	}
	if p.Accessible != nil {
		addSet("accessible", *p.Accessible)
	}
	if p.Rating != nil {
		addSet("rating", *p.Rating)
	}
	if p.Genres != nil {
		b, _ := json.Marshal(p.Genres)
		addSet("genres", string(b))
	}
	if p.Collections != nil {
		b, _ := json.Marshal(p.Collections)
		addSet("collections", string(b))
	}
	if p.TotalPlayCount != nil {
		addSet("total_play_count", *p.TotalPlayCount)
	}
	if p.CompletePlayCount != nil {
		addSet("complete_play_count", *p.CompletePlayCount)
	}
	if p.PartialPlayCount != nil {
		addSet("partial_play_count", *p.PartialPlayCount)
	}
	if p.AvgPercentComplete != nil {
		addSet("avg_percent_complete", *p.AvgPercentComplete)
	}
	if p.LastWatchedAt != nil {
		addSet("last_watched_at", *p.LastWatchedAt)
		addSet("history_synced_at", time.Now().UTC())
	}
	if p.TotalWatchTimeSeconds != nil {
		addSet("total_watch_time_seconds", *p.TotalWatchTimeSeconds)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE media_items SET %s WHERE id = ?", strings.Join(sets, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update media item: %w", err)
	}
	metrics.MirrorItemsUpserted.WithLabelValues(item.Owner, "update").Inc()
	return nil
}

// BatchResult is the outcome of a chunked batch upsert: used by
// LibrarySync and HistorySync to build their progress contract.
type BatchResult struct {
	Created int
	Updated int
	Failed  int
}

// BatchUpsertMediaItems applies items in transactional chunks of 500. A
// chunk that fails is retried once with backoff (1s, 4s); if it fails
// again every item in the chunk counts toward Failed and processing
// continues with the next chunk.
func (s *Store) BatchUpsertMediaItems(ctx context.Context, items []UpsertItem) (BatchResult, error) {
	var result BatchResult

	for start := 0; start < len(items); start += batchChunkSize {
		end := min(start+batchChunkSize, len(items))
		chunk := items[start:end]

		created, updated, err := s.applyChunk(ctx, chunk)
		if err == nil {
			result.Created += created
			result.Updated += updated
			continue
		}

		logging.Warn().Err(err).Int("chunk_start", start).Int("chunk_size", len(chunk)).
			Msg("mirror batch chunk failed, retrying")

		var lastErr error
		succeeded := false
		for _, delay := range batchRetryDelays {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			case <-timer.C:
			}
			created, updated, retryErr := s.applyChunk(ctx, chunk)
			if retryErr == nil {
				result.Created += created
				result.Updated += updated
				succeeded = true
				break
			}
			lastErr = retryErr
		}
		if !succeeded {
			logging.Error().Err(lastErr).Int("chunk_start", start).Int("chunk_size", len(chunk)).
				Msg("mirror batch chunk failed permanently")
			result.Failed += len(chunk)
		}
	}

	return result, nil
}

func (s *Store) applyChunk(ctx context.Context, chunk []UpsertItem) (created, updated int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin chunk tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, item := range chunk {
		if item.Kind == models.KindEpisode && !hasValidEpisodeHierarchy(item.Patch) {
			// Rejected rows are not written and do not fail the chunk; the
			// caller accounts for them as items_failed.
			continue
		}
		_, inserted, err := s.upsertOne(ctx, tx, item)
		if err != nil {
			return 0, 0, err
		}
		if inserted {
			created++
		} else {
			updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit chunk tx: %w", err)
	}
	return created, updated, nil
}

// MarkAccessible sets the accessible flag for a set of rows without
// touching any other field.
func (s *Store) MarkAccessible(ctx context.Context, ids []string, accessible bool) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, accessible, time.Now().UTC())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf("UPDATE media_items SET accessible = ?, updated_at = ? WHERE id IN (%s)", strings.Join(placeholders, ","))
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark accessible: %w", err)
	}
	return nil
}

// HardDelete removes a media item row, first writing its DeletionEvent in
// the same transaction. It never cascades to child rows (seasons,
// episodes): hierarchy here is informational only.
func (s *Store) HardDelete(ctx context.Context, event models.DeletionEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin hard delete tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.DeletedAt.IsZero() {
		event.DeletedAt = time.Now().UTC()
	}

	if err := insertDeletionEvent(ctx, tx, event); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM media_items WHERE id = ?`, event.MediaItemID)
	if err != nil {
		return false, fmt.Errorf("delete media item: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit hard delete tx: %w", err)
	}
	metrics.MirrorItemsDeleted.WithLabelValues(event.Owner).Inc()
	return rows > 0, nil
}

func insertDeletionEvent(ctx context.Context, tx *sql.Tx, e models.DeletionEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deletion_events (
			id, owner, media_item_id, title, kind, size_bytes, file_path,
			rule_id, reason, score,
			deleted_from_ms, deleted_from_ms_at, deleted_from_tdl, deleted_from_tdl_at,
			deleted_from_mdl, deleted_from_mdl_at, deleted_from_rqp, deleted_from_rqp_at,
			dry_run, status, actor, deleted_at, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Owner, e.MediaItemID, e.Title, string(e.Kind), e.SizeBytes, e.FilePath,
		e.RuleID, e.Reason, e.Score,
		e.DeletedFromMS, e.DeletedFromMSAt, e.DeletedFromTDL, e.DeletedFromTDLAt,
		e.DeletedFromMDL, e.DeletedFromMDLAt, e.DeletedFromRQP, e.DeletedFromRQPAt,
		e.DryRun, string(e.Status), e.Actor, e.DeletedAt, e.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert deletion event: %w", err)
	}
	return nil
}

// StorageStats aggregates item counts and bytes used per kind. Never
// artificially capped: it pages over all matching rows via a single
// GROUP BY.
type StorageStats struct {
	TotalItems    int64
	TotalBytes    int64
	ByKind        map[models.MediaItemKind]StorageKindStats
}

type StorageKindStats struct {
	Items int64
	Bytes int64
}

func (s *Store) StorageStats(ctx context.Context, owner string) (*StorageStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*), COALESCE(SUM(file_size_bytes), 0) FROM media_items WHERE owner = ? GROUP BY kind`,
		owner)
	if err != nil {
		return nil, fmt.Errorf("storage stats query: %w", err)
	}
	defer rows.Close()

	stats := &StorageStats{ByKind: make(map[models.MediaItemKind]StorageKindStats)}
	for rows.Next() {
		var kind string
		var items, bytes int64
		if err := rows.Scan(&kind, &items, &bytes); err != nil {
			return nil, fmt.Errorf("scan storage stats row: %w", err)
		}
		stats.ByKind[models.MediaItemKind(kind)] = StorageKindStats{Items: items, Bytes: bytes}
		stats.TotalItems += items
		stats.TotalBytes += bytes
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate storage stats: %w", err)
	}
	return stats, nil
}

// QualityBucket is one row of the QualityAnalysis group-by view.
type QualityBucket struct {
	VideoResolution string
	Items           int64
	Bytes           int64
}

// QualityAnalysis groups accessible items by resolution bucket.
func (s *Store) QualityAnalysis(ctx context.Context, owner string) ([]QualityBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(video_resolution, 'unknown'), COUNT(*), COALESCE(SUM(file_size_bytes), 0)
		FROM media_items
		WHERE owner = ? AND accessible = true
		GROUP BY video_resolution
		ORDER BY bytes DESC`,
		owner)
	if err != nil {
		return nil, fmt.Errorf("quality analysis query: %w", err)
	}
	defer rows.Close()

	var buckets []QualityBucket
	for rows.Next() {
		var b QualityBucket
		if err := rows.Scan(&b.VideoResolution, &b.Items, &b.Bytes); err != nil {
			return nil, fmt.Errorf("scan quality bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// InaccessibleFiles returns items currently marked inaccessible, the
// worklist for an administrator investigating broken mounts or missing
// files.
func (s *Store) InaccessibleFiles(ctx context.Context, owner string) ([]models.MediaItem, error) {
	rows, err := s.queryItems(ctx, `WHERE owner = ? AND accessible = false ORDER BY updated_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("inaccessible files query: %w", err)
	}
	return rows, nil
}

func deref(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}

func derefInt(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}

func derefInt64(p *int64, fallback int64) int64 {
	if p == nil {
		return fallback
	}
	return *p
}

func derefBool(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

func videoResolutionPtr(p *models.VideoResolution) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}
