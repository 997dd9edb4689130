// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package webhook

import (
	"github.com/goccy/go-json"

	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// msPayload mirrors the Plex-style webhook envelope: a top-level "event"
// name plus a "Metadata" object carrying the affected item's rating key.
type msPayload struct {
	Event    string `json:"event"`
	Metadata struct {
		RatingKey string `json:"ratingKey"`
	} `json:"Metadata"`
}

// downloaderPayload mirrors the Sonarr/Radarr-style webhook envelope used
// by the TDL/MDL adapters.
type downloaderPayload struct {
	EventType string `json:"eventType"`
}

// ahsPayload mirrors a generic "new history available" ping; AHS
// notifications carry no per-item identity, only a signal to resync.
type ahsPayload struct {
	EventType string `json:"eventType"`
}

// parsePayload decodes body according to service and returns the
// normalized Notification. ok is false when the body is malformed or the
// event type carries no actionable information.
func parsePayload(owner, serverID string, service models.IntegrationService, body []byte) (Notification, bool) {
	switch service {
	case models.ServiceTDL, models.ServiceMDL:
		var p downloaderPayload
		if err := json.Unmarshal(body, &p); err != nil || p.EventType == "" {
			return Notification{}, false
		}
		return Notification{Owner: owner, ServerID: serverID, Service: service, EventType: downloaderEventCompleted}, true

	case models.ServiceAHS:
		var p ahsPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return Notification{}, false
		}
		return Notification{Owner: owner, ServerID: serverID, Service: service, EventType: p.EventType}, true

	case models.ServiceRQP:
		return Notification{Owner: owner, ServerID: serverID, Service: service}, true

	default:
		var p msPayload
		if err := json.Unmarshal(body, &p); err != nil || p.Event == "" {
			return Notification{}, false
		}
		return Notification{
			Owner:      owner,
			ServerID:   serverID,
			EventType:  p.Event,
			ExternalID: p.Metadata.RatingKey,
		}, true
	}
}
