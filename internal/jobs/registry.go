// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorkeep/cleanup-engine/internal/apierr"
	"github.com/mirrorkeep/cleanup-engine/internal/logging"
	"github.com/mirrorkeep/cleanup-engine/internal/metrics"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// RunFunc is the body of a job: it runs to completion, pushing progress
// snapshots through job.Report, and returns the terminal error (if any).
type RunFunc func(ctx context.Context, job *Job) error

// Job is one in-flight or completed run of a library_sync, history_sync,
// or cascade_delete.
type Job struct {
	ID       string
	Owner    string
	Kind     models.SyncKind
	Trigger  models.SyncTrigger
	ServerID string

	StartedAt  time.Time
	FinishedAt *time.Time
	Status     models.JobStatus
	Error      *string

	mu       sync.RWMutex
	progress interface{}
	subs     map[int]chan interface{}
	nextSub  int

	cancel   context.CancelFunc
	progressStore ProgressStore
}

// Report publishes a progress snapshot to every current SSE subscriber,
// stores it as the job's latest snapshot for late subscribers, and
// persists it to the registry's progress store (if configured) so a
// restarted process can recover the last-known state of an interrupted run.
func (j *Job) Report(progress interface{}) {
	j.mu.Lock()
	j.progress = progress
	subs := make([]chan interface{}, 0, len(j.subs))
	for _, ch := range j.subs {
		subs = append(subs, ch)
	}
	store := j.progressStore
	j.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- progress:
		default:
			// slow subscriber: drop rather than block the job.
		}
	}

	if store != nil {
		if err := store.Save(activeKey(j.Owner, j.Kind), models.JobStatusRunning, progress); err != nil {
			logging.Error().Err(err).Str("job_id", j.ID).Msg("jobs: persist progress snapshot")
		}
	}
}

// Snapshot returns the latest progress value and the job's status.
func (j *Job) Snapshot() (interface{}, models.JobStatus) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress, j.Status
}

// Subscribe registers an SSE listener; the returned channel receives every
// Report call until the returned cancel func is invoked.
func (j *Job) Subscribe() (<-chan interface{}, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.subs == nil {
		j.subs = make(map[int]chan interface{})
	}
	id := j.nextSub
	j.nextSub++
	ch := make(chan interface{}, 16)
	j.subs[id] = ch
	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if sub, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(sub)
		}
	}
}

// Cancel requests cancellation; the job's RunFunc observes ctx.Done().
func (j *Job) Cancel() {
	j.mu.RLock()
	cancel := j.cancel
	j.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Registry is the in-memory, at-most-one-active-per-(owner, kind)
// job table.
type Registry struct {
	mu            sync.Mutex
	active        map[string]*Job // key: owner + "/" + kind
	byID          map[string]*Job
	progressStore ProgressStore
}

// NewRegistry builds an empty Registry with no progress persistence.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]*Job),
		byID:   make(map[string]*Job),
	}
}

// NewRegistryWithProgressStore builds a Registry whose job snapshots are
// mirrored into store on every Report call and on completion.
func NewRegistryWithProgressStore(store ProgressStore) *Registry {
	r := NewRegistry()
	r.progressStore = store
	return r
}

func activeKey(owner string, kind models.SyncKind) string {
	return owner + "/" + string(kind)
}

// conflicts reports whether kind, if started for owner, would violate the
// mutual-exclusion rule: library_sync and cascade_delete never run
// concurrently for the same owner (both write the mirror's candidate set
// out from under each other); history_sync is independent of both.
func (r *Registry) conflicts(owner string, kind models.SyncKind) bool {
	if _, ok := r.active[activeKey(owner, kind)]; ok {
		return true
	}
	switch kind {
	case models.KindLibrarySync:
		_, ok := r.active[activeKey(owner, models.KindCascadeDelete)]
		return ok
	case models.KindCascadeDelete:
		_, ok := r.active[activeKey(owner, models.KindLibrarySync)]
		return ok
	default:
		return false
	}
}

// Start enforces the mutual-exclusion rule and, if clear, launches run in
// its own goroutine. It returns apierr.ConflictError if an incompatible
// job is already active for owner.
func (r *Registry) Start(ctx context.Context, owner, serverID string, kind models.SyncKind, trigger models.SyncTrigger, run RunFunc) (*Job, error) {
	r.mu.Lock()
	if r.conflicts(owner, kind) {
		r.mu.Unlock()
		return nil, apierr.ConflictError(fmt.Sprintf("a %s job is already active for this owner", kind))
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		ID:            uuid.NewString(),
		Owner:         owner,
		ServerID:      serverID,
		Kind:          kind,
		Trigger:       trigger,
		StartedAt:     time.Now().UTC(),
		Status:        models.JobStatusRunning,
		cancel:        cancel,
		progressStore: r.progressStore,
	}
	r.active[activeKey(owner, kind)] = job
	r.byID[job.ID] = job
	r.mu.Unlock()

	go r.run(jobCtx, job, run)

	return job, nil
}

func (r *Registry) run(ctx context.Context, job *Job, run RunFunc) {
	started := time.Now()
	err := run(ctx, job)

	finished := time.Now().UTC()
	job.mu.Lock()
	job.FinishedAt = &finished
	switch {
	case err != nil && ctx.Err() == context.Canceled:
		job.Status = models.JobStatusCancelled
	case err != nil:
		job.Status = models.JobStatusFailed
		msg := err.Error()
		job.Error = &msg
	default:
		job.Status = models.JobStatusCompleted
	}
	status := job.Status
	job.mu.Unlock()

	if r.progressStore != nil {
		job.mu.RLock()
		snapshot := job.progress
		job.mu.RUnlock()
		if err := r.progressStore.Save(activeKey(job.Owner, job.Kind), status, snapshot); err != nil {
			logging.Error().Err(err).Str("job_id", job.ID).Msg("jobs: persist terminal snapshot")
		}
	}

	metrics.JobDuration.WithLabelValues(string(job.Kind), string(status)).Observe(time.Since(started).Seconds())
	logging.Ctx(ctx).Info().
		Str("job_id", job.ID).
		Str("owner", job.Owner).
		Str("kind", string(job.Kind)).
		Str("status", string(status)).
		Msg("job finished")

	r.mu.Lock()
	if r.active[activeKey(job.Owner, job.Kind)] == job {
		delete(r.active, activeKey(job.Owner, job.Kind))
	}
	r.mu.Unlock()
}

// Get returns a job by id.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[id]
	return job, ok
}

// ActiveFor returns the currently active job of kind for owner, if any.
func (r *Registry) ActiveFor(owner string, kind models.SyncKind) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.active[activeKey(owner, kind)]
	return job, ok
}
