// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package jobs

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/mirrorkeep/cleanup-engine/internal/logging"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// ProgressStore persists the last known snapshot for each (owner, kind) job
// key, so a restarted process can report the outcome of a run that finished
// (or was interrupted) before the crash, instead of losing it entirely.
type ProgressStore interface {
	Save(key string, status models.JobStatus, progress interface{}) error
	Load(key string) (*ProgressRecord, bool, error)
	Close() error
}

// ProgressRecord is the durable snapshot written for one job key.
type ProgressRecord struct {
	Status    models.JobStatus `json:"status"`
	Progress  interface{}      `json:"progress"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// BadgerProgressStore implements ProgressStore on an embedded BadgerDB,
// keyed by the same owner:kind string the Registry uses for its active-job
// map. Entries are small, frequently overwritten JSON blobs — no value log
// compaction tuning beyond BadgerDB's defaults is needed at this scale.
type BadgerProgressStore struct {
	db *badger.DB
}

// OpenProgressStore opens (or creates) the BadgerDB directory at path.
func OpenProgressStore(path string) (*BadgerProgressStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("jobs: open progress store: %w", err)
	}

	logging.Info().Str("path", path).Msg("jobs: progress store opened")
	return &BadgerProgressStore{db: db}, nil
}

// Save overwrites the snapshot stored for key.
func (s *BadgerProgressStore) Save(key string, status models.JobStatus, progress interface{}) error {
	rec := ProgressRecord{Status: status, Progress: progress, UpdatedAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("jobs: marshal progress record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// Load returns the last snapshot stored for key, if any.
func (s *BadgerProgressStore) Load(key string) (*ProgressRecord, bool, error) {
	var rec ProgressRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("jobs: load progress record: %w", err)
	}
	return &rec, true, nil
}

// Close releases the underlying BadgerDB handles.
func (s *BadgerProgressStore) Close() error {
	return s.db.Close()
}
