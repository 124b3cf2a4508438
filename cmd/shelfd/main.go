// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

// Command shelfd is the headless shelfwise host.
//
// It opens the store, runs pending migrations, rebuilds the ANN index from
// cached embeddings when the artifact is missing, then supervises the
// background services:
//
//   - catalog sync on start and every catalog.sync_interval, followed by
//     catalog-tier embedding (only when catalog.source.url is set)
//   - ANN index checkpoints every ann.save_interval and on shutdown
//   - the HTTP server (health, metrics, status, recommendation control)
//
// Configuration is read from shelfwise.yaml (or $SHELFWISE_CONFIG) and
// SHELFWISE_* environment variables; see package config.
//
// SIGINT and SIGTERM stop the supervisor tree; services get
// supervisor.shutdown_timeout to finish, then the store is closed.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/shelfwise/internal/api"
	"github.com/tomtom215/shelfwise/internal/app"
	"github.com/tomtom215/shelfwise/internal/config"
	"github.com/tomtom215/shelfwise/internal/logging"
	"github.com/tomtom215/shelfwise/internal/supervisor"
	"github.com/tomtom215/shelfwise/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(cfg.Logging)

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("shelfd failed")
	}
}

func run(cfg *config.Config) error {
	logger := logging.Logger()
	logger.Info().Str("config", cfg.String()).Msg("starting shelfd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing application")
		}
	}()

	if _, err := a.Warm(ctx); err != nil {
		logger.Warn().Err(err).Msg("warmup incomplete, semantic retrieval may be unavailable")
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), cfg.Supervisor)

	tree.AddStorageService(services.NewANNPersistService(a.Index, cfg.ANN.SaveInterval, logger))
	if !cfg.Storage.InMemory && cfg.Storage.GCInterval > 0 {
		tree.AddStorageService(services.NewStoreGCService(a.Store, cfg.Storage.GCInterval, logger))
	}

	if cfg.Catalog.Source.URL != "" {
		tree.AddCatalogService(services.NewCatalogService(a.Catalog, a, services.CatalogServiceConfig{
			SyncOnStart: true,
			Interval:    cfg.Catalog.SyncInterval,
		}, logger))
	} else {
		logger.Info().Msg("no catalog source configured, catalog sync disabled")
	}

	if cfg.Server.Enabled {
		addr := cfg.Server.Addr()
		server := &http.Server{
			Addr:              addr,
			Handler:           api.NewRouter(api.NewHandler(ctx, a, logger), logger),
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.Server.WriteTimeout,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, addr, cfg.Server.ShutdownTimeout, logger))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info().Msg("starting supervisor tree")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logger.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
	}

	logger.Info().Msg("shelfd stopped")
	return nil
}
