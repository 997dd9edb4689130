// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package librarysync

import (
	"strings"

	"github.com/mirrorkeep/cleanup-engine/internal/integrations"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// itemKind maps MS's item type string onto the mirror's kind enum.
func itemKind(t string) (models.MediaItemKind, bool) {
	switch t {
	case "movie":
		return models.KindMovie, true
	case "show":
		return models.KindShow, true
	case "season":
		return models.KindSeason, true
	case "episode":
		return models.KindEpisode, true
	default:
		return "", false
	}
}

// normalizeResolution buckets a raw width/height pair into the mirror's
// resolution enum (spec §4.3).
func normalizeResolution(width, height int) models.VideoResolution {
	switch {
	case width >= 3800 || height >= 2000:
		return models.Resolution4K
	case width >= 1900 || height >= 1000:
		return models.Resolution1080p
	case width >= 1200 || height >= 700:
		return models.Resolution720p
	case width >= 700 || height >= 450:
		return models.Resolution480p
	default:
		return models.ResolutionSD
	}
}

// buildPatch converts one MS item into a mirror patch. ok is false when
// an episode item is missing required hierarchy fields; the caller must
// record it as failed and skip the write rather than call the mirror.
func buildPatch(item integrations.MSItem, librarySection string) (models.MediaItemPatch, bool) {
	kind, known := itemKind(item.Type)
	if !known {
		return models.MediaItemPatch{}, false
	}

	patch := models.MediaItemPatch{
		Kind:           &kind,
		Title:          &item.Title,
		LibrarySection: &librarySection,
	}
	if item.Year != 0 {
		year := item.Year
		patch.Year = &year
	}

	if kind == models.KindEpisode {
		if item.GrandparentTitle == "" || item.ParentIndex == 0 || item.Index == 0 {
			return models.MediaItemPatch{}, false
		}
		grandparent := item.GrandparentTitle
		parent := item.ParentTitle
		season := item.ParentIndex
		episode := item.Index
		patch.GrandparentTitle = &grandparent
		patch.ParentTitle = &parent
		patch.SeasonNumber = &season
		patch.EpisodeNumber = &episode
	}

	if kind == models.KindMovie || kind == models.KindEpisode {
		applyQuality(&patch, item)
	}

	return patch, true
}

// applyQuality fills in the quality and storage fields for a leaf item
// from its first media/part pair (spec §4.3: "from first part").
func applyQuality(patch *models.MediaItemPatch, item integrations.MSItem) {
	if len(item.Media) == 0 {
		return
	}
	media := item.Media[0]

	resolution := normalizeResolution(media.Width, media.Height)
	patch.VideoResolution = &resolution

	if media.VideoCodec != "" {
		codec := strings.ToLower(media.VideoCodec)
		patch.VideoCodec = &codec
	}
	if media.AudioCodec != "" {
		codec := strings.ToLower(media.AudioCodec)
		patch.AudioCodec = &codec
	}
	if media.Container != "" {
		container := strings.ToLower(media.Container)
		patch.Container = &container
	}
	if media.Bitrate > 0 {
		bitrate := media.Bitrate
		patch.BitrateKbps = &bitrate
	}

	if len(media.Part) == 0 {
		return
	}
	part := media.Part[0]
	if part.File != "" {
		file := part.File
		patch.FilePath = &file
	}
	size := part.Size
	patch.FileSizeBytes = &size
	accessible := part.Exists && part.Accessible
	patch.Accessible = &accessible
}
