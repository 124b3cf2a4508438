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

// gcDiscardRatio is the badger value-log discard ratio per GC round.
const gcDiscardRatio = 0.5

// ValueLogCollector runs one round of value-log garbage collection.
type ValueLogCollector interface {
	RunGC(discardRatio float64) error
}

// StoreGCService reclaims value-log space on an interval. Catalog syncs
// rewrite every row, so the log grows without it.
type StoreGCService struct {
	store    ValueLogCollector
	interval time.Duration
	logger   zerolog.Logger
}

// NewStoreGCService creates the service. A non-positive interval becomes 1h.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewStoreGCService(store ValueLogCollector, interval time.Duration, logger zerolog.Logger) *StoreGCService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &StoreGCService{
		store:    store,
		interval: interval,
		logger:   logger.With().Str("service", "store-gc").Logger(),
	}
}

// Serve implements suture.Service. A failed round is logged and retried on
// the next tick.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.store.RunGC(gcDiscardRatio); err != nil {
				s.logger.Warn().Err(err).Msg("value log gc failed")
				continue
			}
			s.logger.Debug().Dur("took", time.Since(start)).Msg("value log gc round finished")
		}
	}
}

func (s *StoreGCService) String() string {
	return "store-gc"
}
