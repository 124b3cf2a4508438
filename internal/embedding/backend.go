// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the embedding backend is absent or unhealthy.
// Callers degrade to metadata-only scoring.
var ErrUnavailable = errors.New("embedding: backend unavailable")

// Item is one text to embed.
type Item struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Health is the result of a backend health probe.
type Health struct {
	Running bool   `json:"running"`
	Version string `json:"version"`
}

// SetupResult reports whether the embedding model is ready.
type SetupResult struct {
	ModelReady bool   `json:"modelReady"`
	Error      string `json:"error,omitempty"`
}

// Backend generates embedding vectors.
type Backend interface {
	// HealthCheck probes whether the backend process is reachable.
	HealthCheck(ctx context.Context) (Health, error)

	// Setup makes sure the configured model is available.
	Setup(ctx context.Context) (SetupResult, error)

	// GenerateEmbeddings returns one vector per item it could embed.
	// Missing ids mean that item failed; partial results are not an error.
	GenerateEmbeddings(ctx context.Context, items []Item) (map[string][]float32, error)
}
