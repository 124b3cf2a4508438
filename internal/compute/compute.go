// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

// Package compute runs the numeric kernels behind the taste map. Each kernel
// has a portable serial backend and an optional accelerated backend; the
// Engine probes the accelerated one at runtime and falls back to the serial
// path whenever it is unsupported or fails.
package compute

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnsupported means a backend cannot run on this host or input.
	ErrUnsupported = errors.New("compute: backend unsupported")

	// ErrEmptyInput is returned for an empty data matrix.
	ErrEmptyInput = errors.New("compute: empty input")

	// ErrRaggedInput is returned when rows differ in length.
	ErrRaggedInput = errors.New("compute: rows differ in length")
)

// Backend is one implementation of the compute kernels.
type Backend interface {
	Name() string

	// Probe reports whether the backend can handle rows×dims inputs.
	Probe(rows, dims int) error

	// PCA projects rows onto their top k principal components.
	PCA(ctx context.Context, rows [][]float32, k int) (*Projection, error)
}

// Config configures the compute engine.
type Config struct {
	// Accelerated enables the parallel backend.
	Accelerated bool `koanf:"accelerated"`

	// Workers caps parallel goroutines. Zero uses GOMAXPROCS.
	Workers int `koanf:"workers" validate:"min=0"`

	// MaxElements is the largest rows×dims input the parallel backend accepts.
	MaxElements int `koanf:"max_elements" validate:"min=1"`

	// Iterations bounds power iteration per component.
	Iterations int `koanf:"iterations" validate:"min=1"`
}

// DefaultConfig returns the default compute settings.
func DefaultConfig() Config {
	return Config{
		Accelerated: true,
		Workers:     0,
		MaxElements: 64 << 20,
		Iterations:  100,
	}
}

// CPU is the serial backend. It handles any input.
type CPU struct {
	iterations int
}

// NewCPU creates the serial backend.
func NewCPU(iterations int) *CPU {
	if iterations <= 0 {
		iterations = 100
	}
	return &CPU{iterations: iterations}
}

// Name implements Backend.
func (c *CPU) Name() string { return "cpu" }

// Probe implements Backend.
func (c *CPU) Probe(_, _ int) error { return nil }

// PCA implements Backend.
func (c *CPU) PCA(ctx context.Context, rows [][]float32, k int) (*Projection, error) {
	x, err := center(rows)
	if err != nil {
		return nil, err
	}
	p, err := powerPCA(ctx, x, k, c.iterations, func(_ context.Context, v, out []float64) error {
		clear(out)
		x.accumulate(0, x.rows(), v, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.Backend = c.Name()
	return p, nil
}

// Parallel splits each matrix product across goroutines.
type Parallel struct {
	workers     int
	maxElements int
	iterations  int
}

// NewParallel creates the parallel backend.
func NewParallel(cfg Config) *Parallel {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100
	}
	return &Parallel{workers: workers, maxElements: cfg.MaxElements, iterations: iterations}
}

// Name implements Backend.
func (p *Parallel) Name() string { return "parallel" }

// Probe implements Backend.
func (p *Parallel) Probe(rows, dims int) error {
	if p.workers < 2 {
		return fmt.Errorf("%w: %d worker", ErrUnsupported, p.workers)
	}
	if p.maxElements > 0 && rows*dims > p.maxElements {
		return fmt.Errorf("%w: %d elements exceeds limit %d", ErrUnsupported, rows*dims, p.maxElements)
	}
	return nil
}

// PCA implements Backend.
func (p *Parallel) PCA(ctx context.Context, rows [][]float32, k int) (*Projection, error) {
	x, err := center(rows)
	if err != nil {
		return nil, err
	}
	if err := p.Probe(x.rows(), x.dims); err != nil {
		return nil, err
	}

	workers := p.workers
	if workers > x.rows() {
		workers = x.rows()
	}
	partials := make([][]float64, workers)
	for i := range partials {
		partials[i] = make([]float64, x.dims)
	}
	chunk := (x.rows() + workers - 1) / workers

	proj, err := powerPCA(ctx, x, k, p.iterations, func(ctx context.Context, v, out []float64) error {
		g, _ := errgroup.WithContext(ctx)
		for w := 0; w < workers; w++ {
			lo := w * chunk
			hi := min(lo+chunk, x.rows())
			acc := partials[w]
			g.Go(func() error {
				clear(acc)
				if lo < hi {
					x.accumulate(lo, hi, v, acc)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		clear(out)
		for _, acc := range partials {
			for i, s := range acc {
				out[i] += s
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	proj.Backend = p.Name()
	return proj, nil
}

// Engine picks a backend per call. A runtime failure of the accelerated
// backend disables it for the rest of the process.
type Engine struct {
	accelerated Backend
	fallback    Backend
	disabled    atomic.Bool
	logger      zerolog.Logger
}

// NewEngine builds an engine from cfg.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewEngine(cfg Config, logger zerolog.Logger) *Engine {
	var accel Backend
	if cfg.Accelerated {
		accel = NewParallel(cfg)
	}
	return NewEngineWith(accel, NewCPU(cfg.Iterations), logger)
}

// NewEngineWith builds an engine from explicit backends. accelerated may be nil.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewEngineWith(accelerated, fallback Backend, logger zerolog.Logger) *Engine {
	return &Engine{
		accelerated: accelerated,
		fallback:    fallback,
		logger:      logger.With().Str("component", "compute").Logger(),
	}
}

// Accelerated reports whether the accelerated backend is still in use.
func (e *Engine) Accelerated() bool {
	return e.accelerated != nil && !e.disabled.Load()
}

// PCA projects rows onto k principal components.
func (e *Engine) PCA(ctx context.Context, rows [][]float32, k int) (*Projection, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyInput
	}

	if e.Accelerated() {
		err := e.accelerated.Probe(len(rows), len(rows[0]))
		if err == nil {
			var p *Projection
			p, err = e.accelerated.PCA(ctx, rows, k)
			if err == nil {
				return p, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, ErrUnsupported) && !errors.Is(err, ErrEmptyInput) && !errors.Is(err, ErrRaggedInput) {
				e.disabled.Store(true)
				e.logger.Warn().Err(err).Str("backend", e.accelerated.Name()).Msg("accelerated backend failed, disabling")
			}
		}
		if errors.Is(err, ErrEmptyInput) || errors.Is(err, ErrRaggedInput) {
			return nil, err
		}
		e.logger.Debug().Err(err).Str("fallback", e.fallback.Name()).Msg("using fallback backend")
	}

	return e.fallback.PCA(ctx, rows, k)
}
