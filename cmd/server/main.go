// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package main is the entry point for the VidPulse server.
//
// VidPulse ingests per-video engagement events, folds them into tumbling
// event-time windows behind a watermark, and serves low-latency metrics
// while a reconciler flushes closed windows to DuckDB.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 loading (defaults, YAML file, env)
//  2. Historical store: DuckDB with the windowed metrics schema
//  3. Checkpoint store: Badger, holding closed-but-unflushed windows
//  4. Aggregation engine: windows, watermark, dedup guard, snapshot cache
//  5. Reconciler: recovers checkpoints, then flushes on a timer
//  6. Event stream: in-process router feeding the engine, with retry and
//     a poison queue
//  7. HTTP server: ingest and metrics endpoints plus health probes
//
// All long-running components run under a suture supervisor tree, so a
// pipeline crash restarts the pipeline without taking down the API.
//
// # Configuration
//
// Environment variables override the config file, which overrides
// defaults. The commonly tuned knobs:
//
//	WINDOW_SIZE_SECONDS       tumbling window size (default 300)
//	ALLOWED_LATENESS_SECONDS  watermark lag (default 60)
//	GRACE_PERIOD_SECONDS      late-fold horizon past window close
//	CACHE_TTL_SECONDS         snapshot cache entry lifetime
//	DUCKDB_PATH               historical store file (empty = in-memory)
//	CHECKPOINT_PATH           Badger directory (empty = in-memory)
//	HTTP_PORT                 listen port (default 8080)
//	LOG_LEVEL                 trace|debug|info|warn|error
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains,
// the reconciler runs a final flush, and the stores close cleanly.
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

	"github.com/vidpulse/vidpulse/internal/aggregator"
	"github.com/vidpulse/vidpulse/internal/api"
	"github.com/vidpulse/vidpulse/internal/cachestore"
	"github.com/vidpulse/vidpulse/internal/checkpoint"
	"github.com/vidpulse/vidpulse/internal/config"
	"github.com/vidpulse/vidpulse/internal/database"
	"github.com/vidpulse/vidpulse/internal/dedup"
	"github.com/vidpulse/vidpulse/internal/eventstream"
	"github.com/vidpulse/vidpulse/internal/logging"
	"github.com/vidpulse/vidpulse/internal/models"
	"github.com/vidpulse/vidpulse/internal/query"
	"github.com/vidpulse/vidpulse/internal/reconciler"
	"github.com/vidpulse/vidpulse/internal/retention"
	"github.com/vidpulse/vidpulse/internal/supervisor"
	"github.com/vidpulse/vidpulse/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Default logger; config is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Int64("window_size_seconds", cfg.Aggregator.WindowSizeSeconds).
		Int64("allowed_lateness_seconds", cfg.Aggregator.AllowedLatenessSeconds).
		Msg("Starting VidPulse")

	db, err := database.New(database.Config{
		Path:      cfg.Database.Path,
		MaxMemory: cfg.Database.MaxMemory,
		Threads:   cfg.Database.Threads,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize historical store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing historical store")
		}
	}()

	badgerDB, err := checkpoint.Open(cfg.Checkpoint.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open checkpoint store")
	}
	defer func() {
		if err := badgerDB.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing checkpoint store")
		}
	}()
	ckptStore := checkpoint.NewBadgerStore(badgerDB)

	snapshots := cachestore.New[*models.Snapshot](cfg.Cache.TTL())
	defer snapshots.Close()

	guard := dedup.NewTimeBucketGuard(dedup.Options{
		BucketWidthSeconds:    cfg.Dedup.BucketWidthSeconds,
		ExpectedKeysPerBucket: cfg.Dedup.ExpectedKeysPerBucket,
		FalsePositiveRate:     cfg.Dedup.FalsePositiveRate,
	})

	engine := aggregator.New(aggregator.Config{
		WindowSize:        cfg.Aggregator.WindowSize(),
		AllowedLateness:   cfg.Aggregator.AllowedLateness(),
		GracePeriod:       cfg.Aggregator.GracePeriod(),
		SketchThreshold:   cfg.Aggregator.SketchThreshold,
		SnapshotRetention: cfg.Aggregator.SnapshotRetention(),
	}, guard, snapshots)

	rec := reconciler.New(reconciler.Config{
		BatchSize:      cfg.Reconciler.BatchSize,
		MaxRetries:     cfg.Reconciler.MaxRetries,
		FlushInterval:  cfg.Reconciler.FlushInterval,
		SweepInterval:  cfg.Reconciler.SweepInterval,
		StuckThreshold: cfg.Reconciler.StuckThreshold,
		InitialBackoff: cfg.Reconciler.InitialBackoff,
	}, engine, db, ckptStore)

	// Re-adopt windows that were closed but not yet flushed when the
	// previous process stopped.
	if err := rec.Recover(context.Background()); err != nil {
		logging.Fatal().Err(err).Msg("Failed to recover checkpointed windows")
	}

	stream, err := eventstream.New(eventstream.Config{
		BufferSize:           int64(cfg.Stream.BufferSize),
		RetryMaxRetries:      cfg.Stream.RetryMaxRetries,
		RetryInitialInterval: cfg.Stream.RetryInitialInterval,
		RetryMaxInterval:     cfg.Stream.RetryMaxInterval,
		CloseTimeout:         cfg.Stream.CloseTimeout,
	}, eventstream.SinkFunc(func(e *models.Event) error {
		engine.Ingest(e)
		return nil
	}))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build event stream")
	}
	defer stream.Close()

	queries := query.New(snapshots, db, engine)

	janitor := retention.New(retention.Config{
		Days:     cfg.Retention.Days,
		Schedule: cfg.Retention.Schedule,
	}, db)

	handler := api.NewHandler(queries, stream, db, engine)
	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins:      cfg.API.CORSOrigins,
		RateLimitRequests:       cfg.API.RateLimitRequests,
		RateLimitWindow:         cfg.API.RateLimitWindow,
		IngestRateLimitRequests: cfg.API.IngestRateLimitRequests,
	}, handler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog.
	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddPipelineService(stream)
	tree.AddPipelineService(rec)
	tree.AddMaintenanceService(services.NewJanitorService(janitor))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().
		Str("addr", server.Addr).
		Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("VidPulse stopped gracefully")
}
