// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package reco

import "time"

// Config configures the orchestrator and its caches.
type Config struct {
	// ResultTTL is how long a finished result can be restored without recomputing.
	ResultTTL time.Duration `koanf:"result_ttl" validate:"gt=0"`

	// BrowseTTL is how long the browse list stays usable.
	BrowseTTL time.Duration `koanf:"browse_ttl" validate:"gt=0"`

	// WorkerIdleTimeout kills a worker that sends nothing for this long.
	WorkerIdleTimeout time.Duration `koanf:"worker_idle_timeout" validate:"gt=0"`

	// EnrichmentCap bounds how many vector-less candidates are embedded per run.
	EnrichmentCap int `koanf:"enrichment_cap" validate:"min=0"`

	// MaxWorkerCandidates bounds the candidates sent to the worker. Browse
	// and semantic candidates are kept first.
	MaxWorkerCandidates int `koanf:"max_worker_candidates" validate:"min=1"`
}

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		ResultTTL:           15 * time.Minute,
		BrowseTTL:           7 * 24 * time.Hour,
		WorkerIdleTimeout:   10 * time.Minute,
		EnrichmentCap:       500,
		MaxWorkerCandidates: 10000,
	}
}
