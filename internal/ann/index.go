// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

// Package ann is the approximate nearest-neighbor index over the embedding
// space. It is fed incrementally as catalog embeddings are generated,
// persisted as a single compressed artifact and queried with a taste centroid
// to retrieve semantically similar games.
//
// The Index wrapper never lets a backend failure escape into callers: a
// panic or an unloadable artifact degrades the index to not-ready and callers
// fall back to non-semantic retrieval.
package ann

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/metrics"
	"github.com/tomtom215/shelfwise/internal/vector"
)

var (
	// ErrNotReady is returned by queries while the index is empty or degraded.
	ErrNotReady = errors.New("ann: index not ready")

	// ErrDimensionMismatch is returned for vectors of the wrong length.
	ErrDimensionMismatch = errors.New("ann: dimension mismatch")
)

// Config configures the index.
type Config struct {
	// Path is the on-disk artifact. Empty disables persistence.
	Path string `koanf:"path"`

	// TopK is the default number of neighbors retrieved per query.
	TopK int `koanf:"top_k" validate:"min=1"`

	// BackfillBatchSize is the number of vectors inserted per backfill step.
	BackfillBatchSize int `koanf:"backfill_batch_size" validate:"min=1"`

	// SaveInterval is how often the host persists a dirty index.
	SaveInterval time.Duration `koanf:"save_interval"`

	HNSW HNSWConfig `koanf:"hnsw"`
}

// DefaultConfig returns the default index settings.
func DefaultConfig() Config {
	return Config{
		Path:              "ann/index.json.zst",
		TopK:              5000,
		BackfillBatchSize: 500,
		SaveInterval:      10 * time.Minute,
		HNSW:              DefaultHNSWConfig(),
	}
}

// Status describes the index for health reporting.
type Status struct {
	Ready      bool      `json:"ready"`
	Size       int       `json:"size"`
	Dimensions int       `json:"dimensions"`
	Dirty      bool      `json:"dirty"`
	LastSaved  time.Time `json:"lastSaved,omitempty"`
	Degraded   string    `json:"degraded,omitempty"`
}

// Index is the fault-isolating wrapper around the HNSW graph.
type Index struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.RWMutex
	graph     *HNSW
	degraded  error
	dirty     bool
	lastSaved time.Time

	saveMu sync.Mutex
}

// New creates an empty index. Call Load to restore a saved artifact.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg Config, logger zerolog.Logger) *Index {
	if cfg.TopK <= 0 {
		cfg.TopK = 5000
	}
	if cfg.BackfillBatchSize <= 0 {
		cfg.BackfillBatchSize = 500
	}
	return &Index{
		cfg:    cfg,
		logger: logger.With().Str("component", "ann").Logger(),
	}
}

// TopK returns the configured default query size.
func (x *Index) TopK() int {
	return x.cfg.TopK
}

// IsReady reports whether queries can be served.
func (x *Index) IsReady() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.readyLocked()
}

func (x *Index) readyLocked() bool {
	return x.degraded == nil && x.graph != nil && x.graph.Len() > 0
}

// Size returns the number of indexed vectors.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.graph == nil {
		return 0
	}
	return x.graph.Len()
}

// degrade marks the index unusable until the next successful Load or Reset.
// Caller must hold x.mu.
func (x *Index) degrade(op string, err error) {
	if x.degraded == nil {
		x.logger.Error().Err(err).Str("operation", op).Msg("ann index degraded, semantic retrieval disabled")
	}
	x.degraded = err
	metrics.ANNFailures.WithLabelValues(op).Inc()
	metrics.SetANNReady(false, x.sizeLocked())
}

func (x *Index) sizeLocked() int {
	if x.graph == nil {
		return 0
	}
	return x.graph.Len()
}

// AddVectors inserts entries and returns how many were added. The graph is
// created with the dimension of the first vector; later vectors of another
// length are skipped.
func (x *Index) AddVectors(entries []vector.Entry) (added int) {
	if len(entries) == 0 {
		return 0
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.degraded != nil {
		return 0
	}
	defer func() {
		if r := recover(); r != nil {
			x.degrade("add", fmt.Errorf("panic: %v", r))
			added = 0
		}
	}()

	if x.graph == nil {
		x.graph = NewHNSW(len(entries[0].Vector), x.cfg.HNSW)
	}

	skipped := 0
	for _, e := range entries {
		if x.graph.Add(e.ID, e.Vector) {
			added++
		} else {
			skipped++
		}
	}
	if skipped > 0 {
		x.logger.Debug().Int("skipped", skipped).Int("dims", x.graph.Dims()).Msg("skipped vectors with mismatched dimensions")
	}
	if added > 0 {
		x.dirty = true
	}
	metrics.SetANNReady(x.readyLocked(), x.graph.Len())
	return added
}

// Query returns the k nearest neighbors of centroid, ascending by distance.
func (x *Index) Query(ctx context.Context, centroid []float32, k int) (out []Neighbor, err error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if !x.readyLocked() {
		return nil, ErrNotReady
	}
	if k <= 0 {
		k = x.cfg.TopK
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: query panic: %v", ErrNotReady, r)
			// Degrading needs the write lock; do it after the read lock is released.
			go x.degradeAsync("query", fmt.Errorf("panic: %v", r))
		}
	}()

	start := time.Now()
	out, err = x.graph.Search(ctx, centroid, k)
	metrics.ANNQueryDuration.Observe(time.Since(start).Seconds())
	return out, err
}

func (x *Index) degradeAsync(op string, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.degrade(op, err)
}

// QueryBatch runs Query for each centroid. A failed query yields a nil row.
func (x *Index) QueryBatch(ctx context.Context, centroids [][]float32, k int) ([][]Neighbor, error) {
	if !x.IsReady() {
		return nil, ErrNotReady
	}
	out := make([][]Neighbor, len(centroids))
	for i, c := range centroids {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := x.Query(ctx, c, k)
		if errors.Is(err, ErrNotReady) {
			return out, err
		}
		if err != nil {
			x.logger.Debug().Err(err).Int("row", i).Msg("batch query row failed")
			continue
		}
		out[i] = res
	}
	return out, nil
}

// Save persists the index artifact. Returns false when persistence is
// disabled, there is nothing to save, or the write failed.
func (x *Index) Save() bool {
	if x.cfg.Path == "" {
		return false
	}
	x.saveMu.Lock()
	defer x.saveMu.Unlock()

	x.mu.RLock()
	graph := x.graph
	ok := x.degraded == nil && graph != nil
	x.mu.RUnlock()
	if !ok {
		return false
	}

	st := graph.export()
	if err := writeArtifact(x.cfg.Path, st); err != nil {
		x.logger.Error().Err(err).Str("path", x.cfg.Path).Msg("failed to save ann index")
		return false
	}

	x.mu.Lock()
	x.dirty = false
	x.lastSaved = time.Now()
	x.mu.Unlock()

	x.logger.Info().Int("size", len(st.Nodes)).Str("path", x.cfg.Path).Msg("ann index saved")
	return true
}

// SaveIfDirty saves only when vectors were added since the last save.
func (x *Index) SaveIfDirty() bool {
	x.mu.RLock()
	dirty := x.dirty
	x.mu.RUnlock()
	if !dirty {
		return false
	}
	return x.Save()
}

// Load restores the artifact and returns whether the index is ready. A
// missing artifact leaves an empty, not-ready index; a broken one degrades.
func (x *Index) Load() (ready bool) {
	if x.cfg.Path == "" {
		return false
	}

	st, err := readArtifact(x.cfg.Path)

	x.mu.Lock()
	defer x.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			x.degrade("load", fmt.Errorf("panic: %v", r))
			ready = false
		}
	}()

	if errors.Is(err, os.ErrNotExist) {
		x.logger.Info().Str("path", x.cfg.Path).Msg("no ann artifact found, starting empty")
		metrics.SetANNReady(false, 0)
		return false
	}
	if err != nil {
		x.degrade("load", err)
		return false
	}

	graph, err := importGraph(st)
	if err != nil {
		x.degrade("load", err)
		return false
	}

	x.graph = graph
	x.degraded = nil
	x.dirty = false
	ready = x.readyLocked()
	metrics.SetANNReady(ready, graph.Len())
	x.logger.Info().Int("size", graph.Len()).Int("dims", graph.Dims()).Msg("ann index loaded")
	return ready
}

// Reset drops the in-memory graph and clears any degraded state.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.graph = nil
	x.degraded = nil
	x.dirty = false
	metrics.SetANNReady(false, 0)
}

// Status returns the current index state.
func (x *Index) Status() Status {
	x.mu.RLock()
	defer x.mu.RUnlock()

	st := Status{
		Ready:     x.readyLocked(),
		Size:      x.sizeLocked(),
		Dirty:     x.dirty,
		LastSaved: x.lastSaved,
	}
	if x.graph != nil {
		st.Dimensions = x.graph.Dims()
	}
	if x.degraded != nil {
		st.Degraded = x.degraded.Error()
	}
	return st
}
