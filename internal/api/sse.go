// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/mirrorkeep/cleanup-engine/internal/jobs"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// streamJob writes job's current snapshot, then every subsequent Report,
// as text/event-stream frames until the client disconnects or the job
// reaches a terminal state.
func streamJob(w http.ResponseWriter, r *http.Request, job *jobs.Job) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(r, w, fmt.Errorf("api: response writer does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", sseRetryInterval.Milliseconds())

	sub, cancel := job.Subscribe()
	defer cancel()

	if snap, _ := job.Snapshot(); snap != nil {
		writeSSEFrame(w, snap)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case progress, ok := <-sub:
			if !ok {
				return
			}
			writeSSEFrame(w, progress)
			flusher.Flush()
			if _, status := job.Snapshot(); isTerminal(status) {
				return
			}
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func isTerminal(status models.JobStatus) bool {
	switch status {
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled, models.JobStatusPartial:
		return true
	default:
		return false
	}
}
