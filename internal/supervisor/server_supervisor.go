// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package supervisor provides Suture-based process supervision for the
// cleanup engine. This file implements the ServerSupervisor for dynamic
// per-server job management.
//
// ServerSupervisor manages one suture.Service per registered Server: a
// worker that runs that server's LibrarySync and HistorySync jobs on the
// schedule configured for its owner. Services can be added, removed, and
// replaced at runtime as administrators register or deregister servers,
// without restarting the process.
//
// Example Usage:
//
//	supervisor, err := NewServerSupervisor(tree, factory)
//	if err != nil {
//	    log.Fatal("failed to create server supervisor:", err)
//	}
//
//	if err := supervisor.StartAll(ctx, servers); err != nil {
//	    log.Error().Err(err).Msg("some servers failed to start")
//	}
//
//	if err := supervisor.AddServer(ctx, server); err != nil {
//	    log.Error().Err(err).Msg("failed to add server")
//	}
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/mirrorkeep/cleanup-engine/internal/logging"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
)

// Errors for ServerSupervisor.
var (
	ErrServerAlreadyExists = errors.New("server already exists in supervisor")
	ErrServerNotRunning    = errors.New("server is not running")
	ErrNilSupervisorTree   = errors.New("supervisor tree cannot be nil")
	ErrNilServiceFactory   = errors.New("server job service factory cannot be nil")
)

// ServerJobServiceFactory builds the suture.Service responsible for a single
// server's LibrarySync/HistorySync job cadence. Implemented by internal/jobs;
// injected here so this package has no dependency on job-orchestration
// internals.
type ServerJobServiceFactory func(server *models.Server) (suture.Service, error)

// ManagedServerStatus reports the current supervision state of one server.
type ManagedServerStatus struct {
	ServerID    string     `json:"server_id"`
	Owner       string     `json:"owner"`
	Platform    string     `json:"platform"`
	Name        string     `json:"name"`
	Running     bool       `json:"running"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
}

// managedService holds metadata about a running per-server job service.
type managedService struct {
	token     suture.ServiceToken
	server    *models.Server
	startedAt time.Time
}

// ServerSupervisor manages per-server job services under the tree's
// messaging layer. It provides dynamic service lifecycle management with
// Suture supervision.
//
// Thread Safety:
//   - All operations are protected by a read-write mutex
//   - The services map is safe for concurrent access
//   - Individual services handle their own internal concurrency
type ServerSupervisor struct {
	tree     *SupervisorTree
	factory  ServerJobServiceFactory
	services map[string]*managedService // server ID -> managed service
	mu       sync.RWMutex
}

// NewServerSupervisor creates a new server supervisor.
//
// tree is the Suture supervisor tree services are added to (messaging
// layer). factory builds the job service for a given server; it is called
// once per AddServer/UpdateServer invocation. Both are required.
func NewServerSupervisor(tree *SupervisorTree, factory ServerJobServiceFactory) (*ServerSupervisor, error) {
	if tree == nil {
		return nil, ErrNilSupervisorTree
	}
	if factory == nil {
		return nil, ErrNilServiceFactory
	}

	return &ServerSupervisor{
		tree:     tree,
		factory:  factory,
		services: make(map[string]*managedService),
	}, nil
}

// StartAll starts job services for every server passed in. This is called
// during application startup once servers have been loaded from the
// mirror store.
//
// Individual server failures are logged but don't prevent other servers
// from starting; the aggregate error reports how many failed.
func (s *ServerSupervisor) StartAll(ctx context.Context, servers []*models.Server) error {
	logging.Info().Int("count", len(servers)).Msg("starting job services for registered servers")

	var startErrors []error
	for _, server := range servers {
		if err := s.AddServer(ctx, server); err != nil {
			logging.Warn().
				Str("server_id", server.ID).
				Str("owner", server.Owner).
				Str("platform", server.Platform).
				Err(err).
				Msg("failed to start server job service")
			startErrors = append(startErrors, err)
		}
	}

	if len(startErrors) > 0 {
		return fmt.Errorf("failed to start %d servers", len(startErrors))
	}

	logging.Info().Int("count", len(servers)).Msg("all server job services started")
	return nil
}

// AddServer adds a new server to the supervisor and starts its job service.
//
// If a server with the same ID already exists, returns ErrServerAlreadyExists.
// The service is automatically restarted by Suture if it crashes.
func (s *ServerSupervisor) AddServer(ctx context.Context, server *models.Server) error {
	if server == nil {
		return errors.New("server cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services[server.ID]; exists {
		return ErrServerAlreadyExists
	}

	svc, err := s.factory(server)
	if err != nil {
		return fmt.Errorf("failed to create job service: %w", err)
	}

	token := s.tree.AddMessagingService(svc)

	now := time.Now()
	s.services[server.ID] = &managedService{
		token:     token,
		server:    server,
		startedAt: now,
	}

	logging.Info().
		Str("server_id", server.ID).
		Str("owner", server.Owner).
		Str("platform", server.Platform).
		Str("name", server.Name).
		Msg("server job service added to supervisor")

	return nil
}

// RemoveServer stops and removes a server's job service.
//
// Returns ErrServerNotRunning if the server is not currently managed.
// The removal is graceful - Suture waits for the service to stop.
func (s *ServerSupervisor) RemoveServer(ctx context.Context, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	managed, exists := s.services[serverID]
	if !exists {
		return ErrServerNotRunning
	}

	if err := s.tree.RemoveMessagingService(managed.token); err != nil {
		return fmt.Errorf("failed to remove service from supervisor: %w", err)
	}

	delete(s.services, serverID)

	logging.Info().
		Str("server_id", serverID).
		Str("platform", managed.server.Platform).
		Msg("server job service removed from supervisor")

	return nil
}

// UpdateServer replaces a server's job service, e.g. after its connection
// URL or credentials change. This is a stop-then-start operation, so there
// may be a brief gap where the server is not being synced.
func (s *ServerSupervisor) UpdateServer(ctx context.Context, server *models.Server) error {
	if server == nil {
		return errors.New("server cannot be nil")
	}

	s.mu.RLock()
	_, exists := s.services[server.ID]
	s.mu.RUnlock()

	if !exists {
		return s.AddServer(ctx, server)
	}

	if err := s.RemoveServer(ctx, server.ID); err != nil {
		return fmt.Errorf("failed to remove old service: %w", err)
	}

	if err := s.AddServer(ctx, server); err != nil {
		return fmt.Errorf("failed to add updated service: %w", err)
	}

	logging.Info().
		Str("server_id", server.ID).
		Str("platform", server.Platform).
		Msg("server job service updated")

	return nil
}

// GetServerStatus returns the current status of a managed server.
func (s *ServerSupervisor) GetServerStatus(serverID string) (*ManagedServerStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	managed, exists := s.services[serverID]
	if !exists {
		return nil, ErrServerNotRunning
	}

	return &ManagedServerStatus{
		ServerID:   managed.server.ID,
		Owner:      managed.server.Owner,
		Platform:   managed.server.Platform,
		Name:       managed.server.Name,
		Running:    true,
		LastSyncAt: managed.server.LastFullSyncAt,
		StartedAt:  &managed.startedAt,
	}, nil
}

// GetAllServerStatuses returns status for all managed servers.
func (s *ServerSupervisor) GetAllServerStatuses() []ManagedServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]ManagedServerStatus, 0, len(s.services))
	for _, managed := range s.services {
		statuses = append(statuses, ManagedServerStatus{
			ServerID:   managed.server.ID,
			Owner:      managed.server.Owner,
			Platform:   managed.server.Platform,
			Name:       managed.server.Name,
			Running:    true,
			LastSyncAt: managed.server.LastFullSyncAt,
			StartedAt:  &managed.startedAt,
		})
	}

	return statuses
}

// IsServerRunning checks if a server's job service is currently running.
func (s *ServerSupervisor) IsServerRunning(serverID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.services[serverID]
	return exists
}

// StopAll stops all managed server job services. Called during application
// shutdown.
func (s *ServerSupervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stopErrors []error
	for serverID, managed := range s.services {
		if err := s.tree.RemoveMessagingService(managed.token); err != nil {
			logging.Warn().
				Str("server_id", serverID).
				Err(err).
				Msg("failed to stop server job service")
			stopErrors = append(stopErrors, err)
		}
	}

	s.services = make(map[string]*managedService)

	if len(stopErrors) > 0 {
		return fmt.Errorf("failed to stop %d servers", len(stopErrors))
	}

	logging.Info().Msg("all server job services stopped")
	return nil
}
