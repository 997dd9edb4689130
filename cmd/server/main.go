// Copyright 2026 The mirrorkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main is the entry point for the mirrorkeep cleanup-engine server.
//
// The engine mirrors one or more media-server catalogs into an embedded
// DuckDB store, scores items against administrator-defined deletion rules,
// and executes confirmed cascades across the media server and its
// companion download/request services. See internal/mirror, internal/
// scoring and internal/cascade for the core pipeline; this file only
// wires those packages together and runs them under a supervisor tree.
//
// # Startup order
//
//  1. Configuration: environment variables layered over an optional
//     config file (Koanf v2, see internal/config).
//  2. Logging: zerolog, configured from Config.Logging.
//  3. Mirror store: DuckDB connection + schema creation.
//  4. Audit log: a second DuckDB-backed store for administrator actions
//     and security events, with its own retention cleanup routine.
//  5. Credential encryption, the integration client factory, and the
//     scoring engine.
//  6. Job orchestrator: an in-memory registry backed by a BadgerDB
//     progress store, plus the schedule ticker.
//  7. Webhook intake: debounced dispatch over an embedded NATS/JetStream
//     event bus (or a synchronous stand-in, see internal/webhook).
//  8. HTTP server exposing the surface in internal/api.
//
// # Build tags
//
//	go build -tags nats ./cmd/server   # embedded NATS/JetStream event bus
//
// Without the nats tag, webhook intake still validates and records
// events but dispatches synchronously rather than through a durable bus.
//
// # Signal handling
//
// SIGINT and SIGTERM cancel the root context; the supervisor tree then
// shuts down its services (HTTP server first, then scheduler and event
// bus) within their configured timeouts.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mirrorkeep/cleanup-engine/internal/api"
	"github.com/mirrorkeep/cleanup-engine/internal/audit"
	"github.com/mirrorkeep/cleanup-engine/internal/config"
	"github.com/mirrorkeep/cleanup-engine/internal/historysync"
	"github.com/mirrorkeep/cleanup-engine/internal/integrations"
	"github.com/mirrorkeep/cleanup-engine/internal/jobs"
	"github.com/mirrorkeep/cleanup-engine/internal/librarysync"
	"github.com/mirrorkeep/cleanup-engine/internal/logging"
	"github.com/mirrorkeep/cleanup-engine/internal/mirror"
	"github.com/mirrorkeep/cleanup-engine/internal/models"
	"github.com/mirrorkeep/cleanup-engine/internal/scoring"
	"github.com/mirrorkeep/cleanup-engine/internal/supervisor"
	"github.com/mirrorkeep/cleanup-engine/internal/supervisor/services"
	"github.com/mirrorkeep/cleanup-engine/internal/webhook"
)

// historySyncLookback bounds an incremental (non-full) history sync when
// no prior watermark is tracked for the server. Servers carry a
// last_full_sync_at watermark for library syncs but not for history
// syncs, so a non-full history sync always looks back this far.
const historySyncLookback = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("starting mirrorkeep cleanup-engine")

	db, err := mirror.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open mirror database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing mirror database")
		}
	}()

	store := mirror.NewStore(db)
	bootCtx := context.Background()
	if err := store.CreateTables(bootCtx); err != nil {
		logging.Fatal().Err(err).Msg("failed to create mirror schema")
	}
	logging.Info().Str("path", cfg.Database.Path).Msg("mirror store ready")

	auditStore := audit.NewDuckDBStore(db)
	if err := auditStore.CreateTable(bootCtx); err != nil {
		logging.Fatal().Err(err).Msg("failed to create audit schema")
	}
	auditLogger := audit.NewLogger(auditStore, audit.DefaultConfig())
	defer auditLogger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	auditLogger.StartCleanupRoutine(ctx)

	encryptor, err := config.NewCredentialEncryptor(cfg.Security.CredentialEncryptionKey)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize credential encryptor")
	}

	transport := integrations.NewTransport(cfg.Server.Timeout, cfg.Jobs.PerHostConcurrency)
	clientFactory := integrations.NewFactory(store, encryptor, transport)

	scoringEngine := scoring.NewEngine(store, 0, 0)

	progressStore, err := jobs.OpenProgressStore(cfg.Jobs.ProgressStorePath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open job progress store")
	}
	defer func() {
		if err := progressStore.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing job progress store")
		}
	}()

	registry := jobs.NewRegistryWithProgressStore(progressStore)

	librarySyncRunner := func(owner, serverID string, full bool) (jobs.RunFunc, error) {
		return librarySyncRunFunc(clientFactory, store, cfg.Jobs.SyncSectionConcurrency, owner, serverID, full, models.TriggerManual), nil
	}
	historySyncRunner := func(owner, serverID string, full bool) (jobs.RunFunc, error) {
		return historySyncRunFunc(clientFactory, store, owner, serverID, full, models.TriggerManual), nil
	}

	librarySyncWebhookFactory := func(owner, serverID string) (jobs.RunFunc, error) {
		return librarySyncRunFunc(clientFactory, store, cfg.Jobs.SyncSectionConcurrency, owner, serverID, false, models.TriggerWebhook), nil
	}
	historySyncWebhookFactory := func(owner, serverID string) (jobs.RunFunc, error) {
		return historySyncRunFunc(clientFactory, store, owner, serverID, false, models.TriggerWebhook), nil
	}

	dispatcher := webhook.NewDispatcher(registry, store, cfg.NATS.DebounceWindow, librarySyncWebhookFactory, historySyncWebhookFactory)

	eventBus, err := webhook.NewEventBus(cfg.NATS, dispatcher)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to build webhook event bus")
	}

	secretResolver := webhook.NewStoreSecretResolver(store, encryptor)
	intake := webhook.NewIntake(store, secretResolver, eventBus)

	// scheduleFactory resolves a schedule's target server lazily: Schedule
	// carries no ServerID of its own, so scheduled runs always target an
	// owner's first registered server.
	scheduleFactory := func(sched models.Schedule) (string, jobs.RunFunc, error) {
		servers, err := store.ListServers(context.Background(), sched.Owner)
		if err != nil {
			return "", nil, fmt.Errorf("scheduler: list servers for %s: %w", sched.Owner, err)
		}
		if len(servers) == 0 {
			return "", nil, fmt.Errorf("scheduler: owner %s has no configured servers", sched.Owner)
		}
		serverID := servers[0].ID

		switch sched.Kind {
		case models.KindLibrarySync:
			return serverID, librarySyncRunFunc(clientFactory, store, cfg.Jobs.SyncSectionConcurrency, sched.Owner, serverID, false, models.TriggerScheduled), nil
		case models.KindHistorySync:
			return serverID, historySyncRunFunc(clientFactory, store, sched.Owner, serverID, false, models.TriggerScheduled), nil
		default:
			return "", nil, fmt.Errorf("scheduler: unsupported schedule kind %s", sched.Kind)
		}
	}
	scheduler := jobs.NewScheduler(registry, store, scheduleFactory, cfg.Jobs.SchedulerTickInterval)

	streamTokens := api.NewStreamTokenIssuer(cfg.Security.StreamingTokenSecret, cfg.Security.StreamingTokenTTL)

	handler := &api.Handler{
		Registry:        registry,
		Store:           store,
		Scoring:         scoringEngine,
		ClientFactory:   clientFactory,
		StreamTokens:    streamTokens,
		LibrarySync:     librarySyncRunner,
		HistorySync:     historySyncRunner,
		DefaultPageSize: cfg.API.DefaultPageSize,
		MaxPageSize:     cfg.API.MaxPageSize,
	}

	router := api.NewRouter(handler, intake, api.RouterConfig{
		CORSOrigins:     cfg.API.CORSOrigins,
		RateLimitReqs:   cfg.API.RateLimitReqs,
		RateLimitWindow: cfg.API.RateLimitWindow,
	})

	// internal/api has no reason to know about process-wide metrics
	// exposition, so /metrics is mounted here alongside its router.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", router)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	slogLogger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create supervisor tree")
	}

	tree.AddMessagingService(services.NewSchedulerService(scheduler))
	tree.AddMessagingService(services.NewEventBusService(eventBus))
	tree.AddAPIService(services.NewHTTPServerService(httpServer, 10*time.Second))

	logging.Info().Str("addr", httpServer.Addr).Msg("http server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}

	logging.Info().Msg("application stopped gracefully")
}

// librarySyncRunFunc builds the job body for one LibrarySync invocation,
// resolving live integration clients from ctx rather than at
// closure-build time so a stale or not-yet-probed connection surfaces
// as a job failure, not a startup failure.
func librarySyncRunFunc(factory *integrations.Factory, store *mirror.Store, sectionConcurrency int, owner, serverID string, requestFull bool, trigger models.SyncTrigger) jobs.RunFunc {
	return func(ctx context.Context, job *jobs.Job) error {
		bundle, err := factory.Resolve(ctx, owner, serverID)
		if err != nil {
			return err
		}

		syncer := librarysync.NewSyncer(bundle.MS, store, sectionConcurrency)
		full, _ := librarysync.DetermineMode(*bundle.Server, requestFull)

		event, runErr := syncer.Run(ctx, *bundle.Server, owner, trigger, requestFull, func(p librarysync.Progress) {
			job.Report(p)
		})

		if _, err := store.InsertSyncEvent(ctx, event); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("owner", owner).Str("server_id", serverID).Msg("cmd/server: persist library sync event")
		}
		if full && runErr == nil {
			if err := store.UpdateLastFullSync(ctx, owner, serverID); err != nil {
				logging.Ctx(ctx).Error().Err(err).Str("owner", owner).Str("server_id", serverID).Msg("cmd/server: stamp last full sync")
			}
		}
		return runErr
	}
}

// historySyncRunFunc builds the job body for one HistorySync invocation.
// requestFull selects a lifetime pull; otherwise the sync looks back
// historySyncLookback.
func historySyncRunFunc(factory *integrations.Factory, store *mirror.Store, owner, serverID string, requestFull bool, trigger models.SyncTrigger) jobs.RunFunc {
	return func(ctx context.Context, job *jobs.Job) error {
		bundle, err := factory.Resolve(ctx, owner, serverID)
		if err != nil {
			return err
		}

		syncer := historysync.NewSyncer(bundle.AHS, bundle.MS, store)
		since := time.Now().UTC().Add(-historySyncLookback)
		if requestFull {
			since = time.Time{}
		}

		event, runErr := syncer.Run(ctx, *bundle.Server, owner, trigger, since, func(p historysync.Progress) {
			job.Report(p)
		})

		if _, err := store.InsertSyncEvent(ctx, event); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("owner", owner).Str("server_id", serverID).Msg("cmd/server: persist history sync event")
		}
		return runErr
	}
}
