// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

// Package app owns every long-lived shelfwise component and wires them
// together. Nothing in shelfwise is a package-level singleton: a host builds
// one App from a Config and passes its parts where they are needed.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/shelfwise/internal/ann"
	"github.com/tomtom215/shelfwise/internal/bandit"
	"github.com/tomtom215/shelfwise/internal/catalog"
	"github.com/tomtom215/shelfwise/internal/compute"
	"github.com/tomtom215/shelfwise/internal/config"
	"github.com/tomtom215/shelfwise/internal/embedding"
	"github.com/tomtom215/shelfwise/internal/kvstore"
	"github.com/tomtom215/shelfwise/internal/kvstore/migrate"
	"github.com/tomtom215/shelfwise/internal/reco"
	"github.com/tomtom215/shelfwise/internal/reco/worker"
)

// Options overrides the collaborators New would otherwise build from config.
type Options struct {
	// Library supplies the user's games. Nil reads Storage.LibraryFile.
	Library reco.Library

	// Backend generates embeddings. Nil uses Ollama when embedding is enabled.
	Backend embedding.Backend

	// Source is the external catalog. Nil uses the HTTP source when
	// Catalog.Source.URL is set, otherwise sync is unavailable.
	Source catalog.Source
}

// App is the application context.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	Store        *kvstore.Store
	Embeddings   *embedding.Cache
	Index        *ann.Index
	Catalog      *catalog.Store
	Browse       *reco.BrowseCache
	Dismissed    *reco.DismissedStore
	Results      *reco.ResultCache
	Bandit       *bandit.Bandit
	Compute      *compute.Engine
	Worker       *worker.Worker
	Orchestrator *reco.Orchestrator

	started time.Time
}

// New opens the store, runs migrations when configured, and builds every
// component. The returned App must be closed.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(ctx context.Context, cfg *config.Config, opts Options, logger zerolog.Logger) (*App, error) {
	store, err := kvstore.Open(kvstore.Options{
		Path:     cfg.Storage.Path,
		InMemory: cfg.Storage.InMemory,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if cfg.Storage.MigrateOnStart {
		if err := Migrations(logger).Run(ctx, store); err != nil {
			// Failed collections keep their old data and version; the
			// components discard records they cannot decode.
			logger.Warn().Err(err).Msg("some migrations failed")
		}
	}

	a := &App{
		cfg:     cfg,
		logger:  logger.With().Str("component", "app").Logger(),
		Store:   store,
		started: time.Now(),
	}

	backend := opts.Backend
	if backend == nil && cfg.Embedding.Enabled {
		backend = embedding.NewOllamaBackend(cfg.Embedding.Ollama, logger)
	}
	a.Embeddings = embedding.NewCache(cfg.Embedding, backend, store, logger)

	annCfg := cfg.ANN
	annCfg.Path = cfg.ANNPath()
	a.Index = ann.New(annCfg, logger)
	a.Index.Load()
	a.Embeddings.SetSink(a.Index)

	source := opts.Source
	if source == nil && cfg.Catalog.Source.URL != "" {
		source = catalog.NewHTTPSource(cfg.Catalog.Source, logger)
	}
	a.Catalog = catalog.NewStore(cfg.Catalog, source, store, logger)

	a.Browse = reco.NewBrowseCache(store, cfg.Reco.BrowseTTL, logger)
	a.Dismissed = reco.NewDismissedStore(store, logger)
	a.Results = reco.NewResultCache(store, cfg.Reco.ResultTTL, logger)

	a.Bandit = bandit.New(cfg.Bandit, store, logger)
	if n, err := a.Bandit.Load(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("failed to load bandit arms, starting fresh")
	} else {
		a.logger.Debug().Int("arms", n).Msg("bandit arms loaded")
	}

	a.Compute = compute.NewEngine(cfg.Compute, logger)
	a.Worker = worker.New(cfg.Worker, a.Compute, logger)

	library := opts.Library
	if library == nil {
		library = NewFileLibrary(cfg.Storage.LibraryFile)
	}

	assembler := reco.NewAssembler(a.Catalog, a.Index, a.Browse, a.Embeddings.Vectors(),
		cfg.Catalog.Filter, cfg.ANN.TopK, logger)

	a.Orchestrator = reco.NewOrchestrator(cfg.Reco, reco.Deps{
		Library:    library,
		Embeddings: a.Embeddings,
		Assembler:  assembler,
		Tags:       a.Catalog,
		Dismissed:  a.Dismissed,
		Results:    a.Results,
		Bandit:     a.Bandit,
		Worker:     a.Worker,
	}, logger)

	a.logger.Info().
		Bool("embedding", backend != nil).
		Bool("catalog_source", source != nil).
		Bool("ann_ready", a.Index.IsReady()).
		Msg("application initialized")
	return a, nil
}

// Migrations returns the registry of every versioned collection.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func Migrations(logger zerolog.Logger) *migrate.Registry {
	r := migrate.NewRegistry(logger)
	embedding.RegisterMigrations(r)
	bandit.RegisterMigrations(r)
	for _, name := range catalog.Collections() {
		r.Declare(name)
	}
	r.Declare(reco.BrowseCollection)
	r.Declare(reco.DismissedCollection)
	r.Declare(reco.ResultCollection)
	return r
}

// Warm loads both embedding tiers and rebuilds the ANN index from them when
// the index artifact was missing or lost. It returns the number of vectors
// backfilled.
func (a *App) Warm(ctx context.Context) (int, error) {
	for _, tier := range embedding.Tiers {
		n, err := a.Embeddings.LoadCached(ctx, tier, false)
		if err != nil {
			return 0, fmt.Errorf("load %s embeddings: %w", tier, err)
		}
		a.logger.Debug().Str("tier", string(tier)).Int("vectors", n).Msg("embedding tier warmed")
	}

	progress := rate.Sometimes{Interval: 2 * time.Second}
	n, err := a.Index.Backfill(ctx, a.Embeddings.Vectors(), func(sent, total int) {
		progress.Do(func() {
			a.logger.Info().Int("sent", sent).Int("total", total).Msg("ann backfill progress")
		})
	})
	if err != nil {
		return n, fmt.Errorf("ann backfill: %w", err)
	}
	if n > 0 {
		a.logger.Info().Int("vectors", n).Msg("ann index backfilled")
	}
	return n, nil
}

// EmbedCatalog embeds every catalog entry whose catalog-tier record is
// missing, expired, or stale. New vectors reach the ANN index through the
// cache sink. It returns 0 without error when the backend is unavailable.
func (a *App) EmbedCatalog(ctx context.Context) (int, error) {
	if !a.Embeddings.IsAvailable(ctx) {
		return 0, nil
	}

	tags := a.Catalog.TagNames(ctx)
	var docs []embedding.Document
	err := a.Catalog.All(ctx, func(e catalog.Entry) bool {
		docs = append(docs, e.Document(tags))
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("read catalog: %w", err)
	}

	progress := rate.Sometimes{Interval: 5 * time.Second}
	return a.Embeddings.GenerateMissing(ctx, docs, embedding.TierCatalog, func(completed, total int) {
		progress.Do(func() {
			a.logger.Info().Int("completed", completed).Int("total", total).Msg("catalog embedding progress")
		})
	})
}

// Status is the daemon health summary.
type Status struct {
	Reco           reco.Status       `json:"reco"`
	ANN            ann.Status        `json:"ann"`
	Embedding      embedding.Status  `json:"embedding"`
	Catalog        catalog.SyncState `json:"catalog"`
	CatalogSyncing bool              `json:"catalogSyncing"`
	SyncProgress   *catalog.Progress `json:"syncProgress,omitempty"`
	UptimeSeconds  float64           `json:"uptimeSeconds"`
}

// Status collects the state of every component. The reco result is omitted.
func (a *App) Status(ctx context.Context) Status {
	rs := a.Orchestrator.Status()
	rs.Result = nil

	st := Status{
		Reco:           rs,
		ANN:            a.Index.Status(),
		Embedding:      a.Embeddings.Status(),
		CatalogSyncing: a.Catalog.Syncing(),
		UptimeSeconds:  time.Since(a.started).Seconds(),
	}
	if st.CatalogSyncing {
		p := a.Catalog.Progress()
		st.SyncProgress = &p
	}
	if cs, err := a.Catalog.State(ctx); err == nil {
		st.Catalog = cs
	}
	return st
}

// Close stops the orchestrator, saves a dirty index, and closes the store.
func (a *App) Close() error {
	var errs []error
	if err := a.Orchestrator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close orchestrator: %w", err))
	}
	a.Index.SaveIfDirty()
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
