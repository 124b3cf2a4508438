// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// IndexPersister saves an index when it changed since the last save.
type IndexPersister interface {
	SaveIfDirty() bool
}

// ANNPersistService saves the ANN index on an interval and once more on
// shutdown.
type ANNPersistService struct {
	index    IndexPersister
	interval time.Duration
	logger   zerolog.Logger
}

// NewANNPersistService creates the service. A non-positive interval becomes
// 10m.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewANNPersistService(index IndexPersister, interval time.Duration, logger zerolog.Logger) *ANNPersistService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &ANNPersistService{
		index:    index,
		interval: interval,
		logger:   logger.With().Str("service", "ann-persist").Logger(),
	}
}

// Serve implements suture.Service.
func (s *ANNPersistService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.index.SaveIfDirty() {
				s.logger.Info().Msg("ann index saved on shutdown")
			}
			return ctx.Err()
		case <-ticker.C:
			if s.index.SaveIfDirty() {
				s.logger.Debug().Msg("ann index checkpoint saved")
			}
		}
	}
}

func (s *ANNPersistService) String() string {
	return "ann-persist"
}
