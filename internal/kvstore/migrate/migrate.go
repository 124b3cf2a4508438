// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

// Package migrate runs versioned per-collection schema migrations once at
// startup, before any component touches its collection.
//
// Migrations are registered by (collection, fromVersion). A collection whose
// stored version is lower than the highest registered target is rewritten one
// step at a time. A step that fails, or that turns a non-empty collection into
// an empty one, is abandoned: nothing is re-saved and the version is not
// bumped, so the old data stays readable for the next attempt.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/kvstore"
)

// ErrEmptyResult is returned when a migration would replace existing records
// with nothing.
var ErrEmptyResult = errors.New("migrate: migration produced no records from non-empty input")

// Func rewrites every record of a collection from one schema version to the next.
type Func func(ctx context.Context, records []kvstore.Record) ([]kvstore.Record, error)

// LegacyVersion is assumed for collections holding data but no version stamp.
const LegacyVersion = 1

// Registry holds registered migrations.
type Registry struct {
	mu         sync.Mutex
	migrations map[string]map[int]Func
	logger     zerolog.Logger
}

// NewRegistry creates an empty registry.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		migrations: make(map[string]map[int]Func),
		logger:     logger.With().Str("component", "migrate").Logger(),
	}
}

// Register adds the migration from fromVersion to fromVersion+1 for collection.
func (r *Registry) Register(collection string, fromVersion int, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.migrations[collection] == nil {
		r.migrations[collection] = make(map[int]Func)
	}
	r.migrations[collection][fromVersion] = fn
}

// Declare registers a collection that has no migrations yet so that it is
// stamped with version 1 on first use.
func (r *Registry) Declare(collection string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.migrations[collection] == nil {
		r.migrations[collection] = make(map[int]Func)
	}
}

// Target returns the schema version the collection is migrated to.
func (r *Registry) Target(collection string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.targetLocked(collection)
}

func (r *Registry) targetLocked(collection string) int {
	target := LegacyVersion
	for from := range r.migrations[collection] {
		if from+1 > target {
			target = from + 1
		}
	}
	return target
}

// Run migrates every registered collection. Collections are processed
// independently; the first failure of each is logged and returned joined.
func (r *Registry) Run(ctx context.Context, store *kvstore.Store) error {
	r.mu.Lock()
	names := make([]string, 0, len(r.migrations))
	for name := range r.migrations {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := r.runCollection(ctx, store.Collection(name)); err != nil {
			r.logger.Error().Err(err).Str("collection", name).Msg("migration failed, keeping existing data")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) runCollection(ctx context.Context, col *kvstore.Collection) error {
	r.mu.Lock()
	target := r.targetLocked(col.Name())
	steps := r.migrations[col.Name()]
	r.mu.Unlock()

	version, err := col.Version(ctx)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}

	if version == 0 {
		count, err := col.Count(ctx)
		if err != nil {
			return fmt.Errorf("count: %w", err)
		}
		if count == 0 {
			return col.SetVersion(ctx, target)
		}
		version = LegacyVersion
	}

	for v := version; v < target; v++ {
		fn, ok := steps[v]
		if !ok {
			return fmt.Errorf("no migration registered from version %d", v)
		}
		if err := r.step(ctx, col, v, fn); err != nil {
			return fmt.Errorf("v%d->v%d: %w", v, v+1, err)
		}
	}

	if version < target {
		return nil
	}
	return col.SetVersion(ctx, version)
}

func (r *Registry) step(ctx context.Context, col *kvstore.Collection, from int, fn Func) error {
	var in []kvstore.Record
	err := col.Scan(ctx, func(key string, value []byte) (bool, error) {
		in = append(in, kvstore.Record{Key: key, Value: value})
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	out, err := fn(ctx, in)
	if err != nil {
		return err
	}
	if len(out) == 0 && len(in) > 0 {
		return ErrEmptyResult
	}

	kept := make(map[string]struct{}, len(out))
	for _, rec := range out {
		kept[rec.Key] = struct{}{}
	}
	var deletes []string
	for _, rec := range in {
		if _, ok := kept[rec.Key]; !ok {
			deletes = append(deletes, rec.Key)
		}
	}

	if err := col.Apply(ctx, out, deletes); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := col.SetVersion(ctx, from+1); err != nil {
		return fmt.Errorf("stamp version: %w", err)
	}

	r.logger.Info().
		Str("collection", col.Name()).
		Int("from", from).
		Int("to", from+1).
		Int("records", len(out)).
		Msg("collection migrated")
	return nil
}
