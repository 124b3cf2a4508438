// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/catalog"
)

// CatalogSyncer refreshes the local catalog mirror.
type CatalogSyncer interface {
	Sync(ctx context.Context, force bool, onProgress func(catalog.Progress)) (catalog.SyncState, error)
}

// CatalogEmbedder embeds catalog entries that lack a current vector.
type CatalogEmbedder interface {
	EmbedCatalog(ctx context.Context) (int, error)
}

// CatalogServiceConfig schedules catalog maintenance.
type CatalogServiceConfig struct {
	// SyncOnStart runs one cycle as soon as the service starts. A fresh
	// mirror makes the sync a no-op.
	SyncOnStart bool

	// Interval between cycles. Zero disables periodic cycles.
	Interval time.Duration

	// Timeout bounds one cycle. Zero means no bound.
	Timeout time.Duration
}

// CatalogService syncs the catalog and then embeds new entries, on start and
// on a schedule. Cycle failures are logged; the service keeps running.
type CatalogService struct {
	syncer   CatalogSyncer
	embedder CatalogEmbedder
	config   CatalogServiceConfig
	logger   zerolog.Logger
}

// NewCatalogService creates the service. embedder may be nil.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewCatalogService(syncer CatalogSyncer, embedder CatalogEmbedder, cfg CatalogServiceConfig, logger zerolog.Logger) *CatalogService {
	return &CatalogService{
		syncer:   syncer,
		embedder: embedder,
		config:   cfg,
		logger:   logger.With().Str("service", "catalog").Logger(),
	}
}

// Serve implements suture.Service.
func (s *CatalogService) Serve(ctx context.Context) error {
	s.logger.Info().
		Bool("sync_on_start", s.config.SyncOnStart).
		Dur("interval", s.config.Interval).
		Msg("catalog service starting")

	if s.config.SyncOnStart {
		s.cycle(ctx)
	}

	if s.config.Interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("catalog service shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *CatalogService) cycle(ctx context.Context) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	st, err := s.syncer.Sync(ctx, false, func(p catalog.Progress) {
		s.logger.Debug().
			Int("batches_completed", p.BatchesCompleted).
			Int("batches_total", p.BatchesTotal).
			Int("games_stored", p.GamesStored).
			Int("batches_failed", p.BatchesFailed).
			Msg("catalog sync progress")
	})
	switch {
	case errors.Is(err, catalog.ErrSyncInProgress):
		s.logger.Debug().Msg("catalog sync already running, skipping cycle")
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Msg("catalog sync failed, will retry on schedule")
	default:
		s.logger.Info().
			Int("entries", st.TotalEntries).
			Dur("duration", time.Since(start)).
			Msg("catalog sync cycle complete")
	}

	if s.embedder == nil || ctx.Err() != nil {
		return
	}
	n, err := s.embedder.EmbedCatalog(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("catalog embedding failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int("embedded", n).Msg("catalog embedding complete")
	}
}

func (s *CatalogService) String() string {
	return "catalog-service"
}
