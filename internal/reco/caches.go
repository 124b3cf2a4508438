// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package reco

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/catalog"
	"github.com/tomtom215/shelfwise/internal/kvstore"
)

// Collections owned by this package.
const (
	BrowseCollection    = "browse_cache"
	DismissedCollection = "dismissed"
	ResultCollection    = "reco_results"
)

const (
	browseKey = "entries"
	resultKey = "latest"
)

type browseRecord struct {
	FetchedAt int64           `json:"fetchedAt"`
	Entries   []catalog.Entry `json:"entries"`
}

// BrowseCache holds the most recently fetched list of actively browsed
// titles. The list may be stale; it is ignored once older than its TTL.
type BrowseCache struct {
	col    *kvstore.Collection
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	loaded bool
	rec    browseRecord
}

// NewBrowseCache creates a browse cache.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewBrowseCache(kv *kvstore.Store, ttl time.Duration, logger zerolog.Logger) *BrowseCache {
	return &BrowseCache{
		col:    kv.Collection(BrowseCollection),
		ttl:    ttl,
		logger: logger.With().Str("component", "browse_cache").Logger(),
		now:    time.Now,
	}
}

// Set replaces the browse list. A failed write keeps the list in memory.
func (b *BrowseCache) Set(ctx context.Context, entries []catalog.Entry) {
	rec := browseRecord{FetchedAt: b.now().UnixMilli(), Entries: entries}

	b.mu.Lock()
	b.rec = rec
	b.loaded = true
	b.mu.Unlock()

	if err := b.col.Put(ctx, browseKey, rec); err != nil {
		b.logger.Warn().Err(err).Msg("failed to persist browse list, continuing in memory")
	}
}

// Entries returns the browse list, or nil when absent or expired.
func (b *BrowseCache) Entries(ctx context.Context) ([]catalog.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.loaded {
		var rec browseRecord
		err := b.col.Get(ctx, browseKey, &rec)
		switch {
		case err == nil:
			b.rec = rec
		case errors.Is(err, kvstore.ErrNotFound):
		case errors.Is(err, kvstore.ErrCorrupt):
			b.logger.Warn().Err(err).Msg("discarding corrupt browse list")
		default:
			return nil, fmt.Errorf("load browse list: %w", err)
		}
		b.loaded = true
	}

	if b.rec.FetchedAt == 0 || b.now().UnixMilli()-b.rec.FetchedAt >= b.ttl.Milliseconds() {
		return nil, nil
	}
	return b.rec.Entries, nil
}

// DismissedStore records games the user marked "not interested". The set
// survives restarts and is sent to every worker job.
type DismissedStore struct {
	col    *kvstore.Collection
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	loaded bool
	ids    map[string]int64
}

// NewDismissedStore creates a dismissal store.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewDismissedStore(kv *kvstore.Store, logger zerolog.Logger) *DismissedStore {
	return &DismissedStore{
		col:    kv.Collection(DismissedCollection),
		logger: logger.With().Str("component", "dismissed").Logger(),
		now:    time.Now,
		ids:    make(map[string]int64),
	}
}

func (d *DismissedStore) loadLocked(ctx context.Context) error {
	if d.loaded {
		return nil
	}
	err := d.col.Scan(ctx, func(key string, raw []byte) (bool, error) {
		var at int64
		if err := kvstore.Decode(key, raw, &at); err != nil {
			at = 0
		}
		d.ids[key] = at
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("load dismissed: %w", err)
	}
	d.loaded = true
	return nil
}

// Dismiss adds id. A failed write keeps the dismissal for this process only.
func (d *DismissedStore) Dismiss(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadLocked(ctx); err != nil {
		return err
	}

	at := d.now().UnixMilli()
	d.ids[id] = at
	if err := d.col.Put(ctx, id, at); err != nil {
		d.logger.Warn().Err(err).Str("game_id", id).Msg("failed to persist dismissal, continuing in memory")
	}
	return nil
}

// Undismiss removes id.
func (d *DismissedStore) Undismiss(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadLocked(ctx); err != nil {
		return err
	}

	delete(d.ids, id)
	if err := d.col.Delete(ctx, id); err != nil {
		d.logger.Warn().Err(err).Str("game_id", id).Msg("failed to delete dismissal")
	}
	return nil
}

// IDs returns every dismissed id in sorted order.
func (d *DismissedStore) IDs(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadLocked(ctx); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(d.ids))
	for id := range d.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ResultCache keeps the last finished result so a cold start inside the TTL
// can skip computation.
type ResultCache struct {
	col    *kvstore.Collection
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewResultCache creates a result cache.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewResultCache(kv *kvstore.Store, ttl time.Duration, logger zerolog.Logger) *ResultCache {
	return &ResultCache{
		col:    kv.Collection(ResultCollection),
		ttl:    ttl,
		logger: logger.With().Str("component", "result_cache").Logger(),
		now:    time.Now,
	}
}

// Get returns the cached result if it is younger than the TTL and has at
// least one shelf.
func (r *ResultCache) Get(ctx context.Context) (*Result, bool) {
	var res Result
	err := r.col.Get(ctx, resultKey, &res)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			r.logger.Warn().Err(err).Msg("ignoring unreadable cached result")
		}
		return nil, false
	}
	if len(res.Shelves) == 0 {
		return nil, false
	}
	if r.now().UnixMilli()-res.LastComputed >= r.ttl.Milliseconds() {
		return nil, false
	}
	return &res, true
}

// Put stores res.
func (r *ResultCache) Put(ctx context.Context, res *Result) error {
	if err := r.col.Put(ctx, resultKey, res); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWriteFailed, err)
	}
	return nil
}

// Invalidate drops the cached result.
func (r *ResultCache) Invalidate(ctx context.Context) error {
	if err := r.col.Delete(ctx, resultKey); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrStorageWriteFailed, err)
	}
	return nil
}
