// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

// Package main is the entry point for the Burndown Sync server.
//
// Burndown Sync keeps a local snapshot of a Jira issue query fresh for
// downstream delivery-metric calculation (burndown and velocity charts).
// It exposes a small HTTP control API to trigger, cancel, and observe the
// sync task.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered load via Koanf v2 (defaults, YAML file, env)
//  2. Logging: zerolog, configured from the loaded settings
//  3. Cache store: file-backed issue cache with an in-memory hot layer
//  4. Task tracker: durable singleton task state document
//  5. Jira client: bearer-token REST client with circuit breaker
//  6. Sync engine: strategy selection (cache / delta / full two-phase)
//  7. Supervisor tree: HTTP control server and the task state janitor
//
// # Configuration
//
// Configuration is loaded with layered sources (highest priority wins):
//   - Environment variables (JIRA_URL, JIRA_TOKEN, QUERY_JQL, ...)
//   - Config file (/etc/burndown-sync/config.yaml or CONFIG_PATH)
//   - Built-in defaults
//
// Minimal configuration:
//
//	export JIRA_URL=https://jira.example.com
//	export JIRA_TOKEN=your-api-token
//	export QUERY_JQL='project = PROJ AND created >= -90d'
//	./burndown-sync
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP server
// stops accepting connections and drains in-flight requests within the
// shutdown timeout, and a running sync stops at the next page boundary.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/niksavis/burndown-chart-sub003/internal/api"
	"github.com/niksavis/burndown-chart-sub003/internal/cachestore"
	"github.com/niksavis/burndown-chart-sub003/internal/config"
	"github.com/niksavis/burndown-chart-sub003/internal/jira"
	"github.com/niksavis/burndown-chart-sub003/internal/logging"
	"github.com/niksavis/burndown-chart-sub003/internal/supervisor"
	syncengine "github.com/niksavis/burndown-chart-sub003/internal/sync"
	"github.com/niksavis/burndown-chart-sub003/internal/task"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config is not available yet; the default logger applies.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("jira_url", cfg.Jira.URL).
		Str("cache_dir", cfg.Cache.Dir).
		Bool("delta_enabled", cfg.Sync.DeltaEnabled).
		Msg("Starting Burndown Sync")

	store, err := cachestore.New(&cfg.Cache)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize cache store")
	}

	tracker := task.New(&cfg.Task)
	client := jira.NewClient(&cfg.Jira)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Jira.PingOnStart {
		if err := client.Ping(ctx); err != nil {
			logging.Warn().Err(err).Msg("Jira not reachable at startup (will retry on first sync)")
		} else {
			logging.Info().Msg("Jira connectivity verified")
		}
	}

	engine := syncengine.NewEngine(cfg, client, store, tracker)

	handler := api.NewHandler(ctx, engine)
	router := api.NewRouter(handler, &cfg.Server)

	tree := supervisor.NewTree(
		slog.New(logging.NewSlogHandler()),
		supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout},
	)
	tree.AddAPIService(supervisor.NewHTTPService(router.Setup(), &cfg.Server))
	tree.AddMaintenanceService(supervisor.NewJanitorService(tracker, cfg.Task.SweepInterval))

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}

	logging.Info().Msg("Shutdown complete")
}
