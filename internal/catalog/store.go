// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

// Package catalog mirrors the external game catalog into the local store and
// serves the cursor-scan pre-filter used to build candidate pools.
//
// A sync fetches the full id list, resolves the tag dictionary once, and
// pulls fixed-size batches through a bounded worker pool. Every fetched batch
// is persisted on its own, so an interrupted sync keeps what it stored and a
// later run resumes with the batches that are still missing.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tomtom215/shelfwise/internal/cache"
	"github.com/tomtom215/shelfwise/internal/kvstore"
	"github.com/tomtom215/shelfwise/internal/metrics"
)

const (
	entriesCollection = "catalog"
	metaCollection    = "catalog_meta"

	stateKey     = "sync_state"
	tagsKey      = "tags"
	markerPrefix = "batch:"
)

var (
	// ErrSyncInProgress is returned when Sync is called while a sync runs.
	ErrSyncInProgress = errors.New("catalog: sync already in progress")

	// ErrSourceFetch wraps failures to fetch the id list.
	ErrSourceFetch = errors.New("catalog: source fetch failed")
)

// FilterConfig holds the candidate pre-filter thresholds.
type FilterConfig struct {
	// MinReviews excludes entries with fewer reviews.
	MinReviews int `koanf:"min_reviews" validate:"min=0"`

	// MinPositivity excludes entries with a lower positive review ratio.
	MinPositivity float64 `koanf:"min_positivity" validate:"min=0,max=1"`

	// MaxResults caps the number of entries one query returns.
	MaxResults int `koanf:"max_results" validate:"min=1"`

	// PopularityEscapeReviews admits entries with at least this many reviews
	// even without genre or developer affinity.
	PopularityEscapeReviews int `koanf:"popularity_escape_reviews" validate:"min=0"`

	// TopGenres is how many of the library's most frequent genres are matched.
	TopGenres int `koanf:"top_genres" validate:"min=1"`

	// LoyalRating is the minimum user rating (0-5) that makes a developer loyal.
	LoyalRating float64 `koanf:"loyal_rating" validate:"min=0,max=5"`
}

// Config configures the catalog store and its sync.
type Config struct {
	// FreshFor is how long a completed sync stays fresh.
	FreshFor time.Duration `koanf:"fresh_for" validate:"gt=0"`

	// BatchSize is the number of app ids fetched per batch.
	BatchSize int `koanf:"batch_size" validate:"min=1,max=5000"`

	// Concurrency is the number of sync workers.
	Concurrency int `koanf:"concurrency" validate:"min=1,max=256"`

	// ProgressInterval throttles progress publication and state writes.
	ProgressInterval time.Duration `koanf:"progress_interval"`

	// SyncInterval is how often the host daemon re-runs the sync.
	SyncInterval time.Duration `koanf:"sync_interval"`

	// LookupCacheSize and LookupCacheTTL bound the point-lookup LRU.
	LookupCacheSize int           `koanf:"lookup_cache_size" validate:"min=0"`
	LookupCacheTTL  time.Duration `koanf:"lookup_cache_ttl"`

	Filter FilterConfig `koanf:"filter"`
	Source SourceConfig `koanf:"source"`
}

// DefaultConfig returns the default catalog settings.
func DefaultConfig() Config {
	return Config{
		FreshFor:         24 * time.Hour,
		BatchSize:        200,
		Concurrency:      50,
		ProgressInterval: 500 * time.Millisecond,
		SyncInterval:     6 * time.Hour,
		LookupCacheSize:  20000,
		LookupCacheTTL:   30 * time.Minute,
		Filter: FilterConfig{
			MinReviews:              10,
			MinPositivity:           0.6,
			MaxResults:              25000,
			PopularityEscapeReviews: 1000,
			TopGenres:               15,
			LoyalRating:             3.5,
		},
		Source: DefaultSourceConfig(),
	}
}

// Store is the local catalog mirror. It is the only writer of the catalog
// collections.
type Store struct {
	cfg     Config
	source  Source
	entries *kvstore.Collection
	meta    *kvstore.Collection
	lookup  *cache.LRU[int, Entry]
	logger  zerolog.Logger
	now     func() time.Time

	syncing atomic.Bool

	tagMu      sync.RWMutex
	tags       map[int]string
	tagsLoaded bool

	progressMu sync.RWMutex
	progress   Progress
}

// NewStore creates a catalog store. source may be nil for read-only use.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewStore(cfg Config, source Source, kv *kvstore.Store, logger zerolog.Logger) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Filter.MaxResults <= 0 {
		cfg.Filter.MaxResults = 25000
	}
	return &Store{
		cfg:     cfg,
		source:  source,
		entries: kv.Collection(entriesCollection),
		meta:    kv.Collection(metaCollection),
		lookup:  cache.NewLRU[int, Entry](cfg.LookupCacheSize, cfg.LookupCacheTTL),
		logger:  logger.With().Str("component", "catalog").Logger(),
		now:     time.Now,
	}
}

// Config returns the store configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Collections returns the store collections owned by the catalog.
func Collections() []string {
	return []string{entriesCollection, metaCollection}
}

// State returns the persisted sync state.
func (s *Store) State(ctx context.Context) (SyncState, error) {
	var st SyncState
	err := s.meta.Get(ctx, stateKey, &st)
	if errors.Is(err, kvstore.ErrNotFound) {
		return SyncState{}, nil
	}
	return st, err
}

func (s *Store) saveState(ctx context.Context, st SyncState) {
	if err := s.meta.Put(ctx, stateKey, st); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist sync state")
	}
}

// Progress returns the most recently published progress of the running sync.
func (s *Store) Progress() Progress {
	s.progressMu.RLock()
	defer s.progressMu.RUnlock()
	return s.progress
}

// Syncing reports whether a sync is running.
func (s *Store) Syncing() bool {
	return s.syncing.Load()
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.entries.Count(ctx)
}

// Sync refreshes the mirror. Without force, a fresh mirror is left untouched
// and its state returned. An interrupted run is resumed: entries already
// written by it are not fetched again.
//
// Failed batches are logged and skipped. Cancelling ctx stops the workers
// between batches and keeps everything already persisted.
func (s *Store) Sync(ctx context.Context, force bool, onProgress func(Progress)) (SyncState, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return SyncState{}, ErrSyncInProgress
	}
	defer s.syncing.Store(false)

	if s.source == nil {
		return SyncState{}, fmt.Errorf("%w: no source configured", ErrSourceFetch)
	}

	st, err := s.State(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("unreadable sync state, starting over")
		st = SyncState{}
	}

	now := s.now()
	if !force && st.Fresh(now, s.cfg.FreshFor) {
		s.logger.Debug().Int("entries", st.TotalEntries).Msg("catalog fresh, skipping sync")
		return st, nil
	}

	resuming := !force && st.InProgress && st.StartedAt > 0
	if !resuming {
		st.StartedAt = now.UnixMilli()
		st.BatchesCompleted = 0
	}
	st.InProgress = true

	started := time.Now()
	s.ensureTags(ctx)

	refs, err := s.source.GetAppIDs(ctx)
	if err != nil {
		return st, fmt.Errorf("%w: %v", ErrSourceFetch, err)
	}

	ids := make([]int, 0, len(refs))
	seen := make(map[int]struct{}, len(refs))
	for _, r := range refs {
		if r.AppID <= 0 {
			continue
		}
		if _, dup := seen[r.AppID]; dup {
			continue
		}
		seen[r.AppID] = struct{}{}
		ids = append(ids, r.AppID)
	}

	if resuming {
		done, err := s.processedIn(ctx, st.StartedAt)
		if err != nil {
			return st, fmt.Errorf("read resume markers: %w", err)
		}
		remaining := ids[:0]
		for _, id := range ids {
			if _, ok := done[id]; !ok {
				remaining = append(remaining, id)
			}
		}
		s.logger.Info().Int("already_synced", len(ids)-len(remaining)).Int("remaining", len(remaining)).Msg("resuming catalog sync")
		ids = remaining
	} else {
		s.clearMarkers(ctx)
	}

	batches := partition(ids, s.cfg.BatchSize)
	completedBefore := st.BatchesCompleted
	st.BatchesTotal = completedBefore + len(batches)
	s.saveState(ctx, st)

	s.logger.Info().
		Int("apps", len(ids)).
		Int("batches", len(batches)).
		Int("workers", min(s.cfg.Concurrency, len(batches))).
		Bool("resumed", resuming).
		Msg("catalog sync started")

	run := &syncRun{
		store:           s,
		state:           st,
		startedAt:       st.StartedAt,
		completedBefore: completedBefore,
		onProgress:      onProgress,
		throttle:        rate.Sometimes{Interval: s.cfg.ProgressInterval},
	}
	if s.cfg.ProgressInterval <= 0 {
		run.throttle = rate.Sometimes{Every: 1}
	}
	run.execute(ctx, batches)

	st = run.snapshot()
	if err := ctx.Err(); err != nil {
		s.saveState(context.WithoutCancel(ctx), st)
		s.logger.Info().Int("batches_completed", st.BatchesCompleted).Int("batches_total", st.BatchesTotal).Msg("catalog sync interrupted")
		return st, err
	}

	if run.failed.Load() == 0 {
		if pruned, err := s.pruneOlderThan(ctx, st.StartedAt); err != nil {
			s.logger.Warn().Err(err).Msg("failed to prune delisted entries")
		} else if pruned > 0 {
			s.logger.Info().Int("pruned", pruned).Msg("pruned delisted catalog entries")
		}
	}

	s.clearMarkers(ctx)
	total, err := s.entries.Count(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to count catalog entries")
	}
	st.TotalEntries = total
	st.LastSyncTimestamp = s.now().UnixMilli()
	st.InProgress = false
	s.saveState(ctx, st)
	run.publish()

	metrics.RecordCatalogSync(time.Since(started), total, true)
	s.logger.Info().
		Int("entries", total).
		Int("batches_completed", st.BatchesCompleted).
		Int64("batches_failed", run.failed.Load()).
		Dur("duration", time.Since(started)).
		Msg("catalog sync complete")

	return st, nil
}

// syncRun holds the shared counters of one sync.
type syncRun struct {
	store           *Store
	startedAt       int64
	completedBefore int
	onProgress      func(Progress)
	throttle        rate.Sometimes

	next      atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	stored    atomic.Int64

	mu    sync.Mutex
	state SyncState
}

func (r *syncRun) execute(ctx context.Context, batches [][]int) {
	if len(batches) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	workers := min(r.store.cfg.Concurrency, len(batches))
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					return nil
				}
				i := int(r.next.Add(1) - 1)
				if i >= len(batches) {
					return nil
				}
				r.processBatch(gctx, batches[i])
			}
		})
	}
	_ = g.Wait()
}

func (r *syncRun) processBatch(ctx context.Context, ids []int) {
	s := r.store

	items, err := s.source.FetchBatch(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.failed.Add(1)
		metrics.CatalogSyncBatches.WithLabelValues("failed").Inc()
		s.logger.Warn().Err(err).Int("first_app_id", ids[0]).Int("size", len(ids)).Msg("catalog batch failed, skipping")
		r.tick()
		return
	}

	syncedAt := s.now().UnixMilli()
	puts := make([]kvstore.Record, 0, len(items))
	fresh := make([]Entry, 0, len(items))
	for i := range items {
		it := &items[i]
		if !it.Success || !it.Visible {
			continue
		}
		e := it.Data
		if e.AppID == 0 {
			e.AppID = it.AppID
		}
		if e.AppID <= 0 {
			continue
		}
		e.SyncedAt = syncedAt
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		puts = append(puts, kvstore.Record{Key: entryKey(e.AppID), Value: data})
		fresh = append(fresh, e)
	}

	// A fetched batch is written even if cancellation arrived meanwhile.
	if err := s.entries.Apply(context.WithoutCancel(ctx), puts, nil); err != nil {
		r.failed.Add(1)
		metrics.CatalogSyncBatches.WithLabelValues("failed").Inc()
		s.logger.Error().Err(err).Int("size", len(puts)).Msg("failed to persist catalog batch")
		r.tick()
		return
	}
	for i := range fresh {
		s.lookup.Add(fresh[i].AppID, fresh[i])
	}
	if err := s.meta.Put(context.WithoutCancel(ctx), markerKey(r.startedAt, ids[0]), ids); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write resume marker")
	}

	r.completed.Add(1)
	r.stored.Add(int64(len(puts)))
	metrics.CatalogSyncBatches.WithLabelValues("stored").Inc()
	r.tick()
}

// tick publishes progress and checkpoints state at the throttled cadence.
func (r *syncRun) tick() {
	r.throttle.Do(func() {
		r.publish()
		r.store.saveState(context.Background(), r.snapshot())
	})
}

func (r *syncRun) snapshot() SyncState {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.BatchesCompleted = r.completedBefore + int(r.completed.Load())
	return r.state
}

func (r *syncRun) publish() {
	st := r.snapshot()
	p := Progress{
		BatchesCompleted: st.BatchesCompleted,
		BatchesTotal:     st.BatchesTotal,
		GamesStored:      int(r.stored.Load()),
		BatchesFailed:    int(r.failed.Load()),
	}
	r.store.progressMu.Lock()
	r.store.progress = p
	r.store.progressMu.Unlock()
	if r.onProgress != nil {
		r.onProgress(p)
	}
}

func partition(ids []int, size int) [][]int {
	out := make([][]int, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

// entryKey zero-pads app ids so keys scan in numeric order.
func entryKey(appID int) string {
	return fmt.Sprintf("%010d", appID)
}

// markerKey names the resume marker of one processed batch. Markers list the
// batch's app ids, including those filtered out as invisible.
func markerKey(startedAt int64, firstAppID int) string {
	return fmt.Sprintf("%s%d:%010d", markerPrefix, startedAt, firstAppID)
}

// processedIn returns the app ids processed by the run that started at startedAt.
func (s *Store) processedIn(ctx context.Context, startedAt int64) (map[int]struct{}, error) {
	prefix := fmt.Sprintf("%s%d:", markerPrefix, startedAt)
	done := make(map[int]struct{})
	err := s.meta.Scan(ctx, func(key string, raw []byte) (bool, error) {
		if !strings.HasPrefix(key, prefix) {
			return true, nil
		}
		var ids []int
		if err := kvstore.Decode(key, raw, &ids); err != nil {
			return true, nil
		}
		for _, id := range ids {
			done[id] = struct{}{}
		}
		return true, nil
	})
	return done, err
}

func (s *Store) clearMarkers(ctx context.Context) {
	var keys []string
	err := s.meta.Scan(ctx, func(key string, _ []byte) (bool, error) {
		if strings.HasPrefix(key, markerPrefix) {
			keys = append(keys, key)
		}
		return true, nil
	})
	if err == nil && len(keys) > 0 {
		err = s.meta.Apply(ctx, nil, keys)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to clear resume markers")
	}
}

func (s *Store) pruneOlderThan(ctx context.Context, since int64) (int, error) {
	var stale []string
	err := s.entries.Scan(ctx, func(key string, raw []byte) (bool, error) {
		var e Entry
		if err := kvstore.Decode(key, raw, &e); err != nil || e.SyncedAt < since {
			stale = append(stale, key)
		}
		return true, nil
	})
	if err != nil || len(stale) == 0 {
		return 0, err
	}
	for _, key := range stale {
		if id, err := strconv.Atoi(key); err == nil {
			s.lookup.Remove(id)
		}
	}
	return len(stale), s.entries.Apply(ctx, nil, stale)
}

// ensureTags loads the tag dictionary from the store, fetching it from the
// source only when it was never cached. Failures leave tags unresolved.
func (s *Store) ensureTags(ctx context.Context) {
	s.tagMu.RLock()
	loaded := s.tagsLoaded
	s.tagMu.RUnlock()
	if loaded {
		return
	}

	var tags []Tag
	err := s.meta.Get(ctx, tagsKey, &tags)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("cached tag dictionary unreadable, refetching")
		}
		tags, err = s.source.GetTagList(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to fetch tag dictionary")
			return
		}
		if err := s.meta.Put(ctx, tagsKey, tags); err != nil {
			s.logger.Warn().Err(err).Msg("failed to cache tag dictionary")
		}
	}

	m := make(map[int]string, len(tags))
	for _, t := range tags {
		m[t.ID] = t.Name
	}
	s.tagMu.Lock()
	s.tags = m
	s.tagsLoaded = true
	s.tagMu.Unlock()
}

// TagNames returns a copy of the tag dictionary, loading it from the store on
// first use.
func (s *Store) TagNames(ctx context.Context) map[int]string {
	s.tagMu.RLock()
	if s.tagsLoaded {
		defer s.tagMu.RUnlock()
		return maps.Clone(s.tags)
	}
	s.tagMu.RUnlock()

	var tags []Tag
	if err := s.meta.Get(ctx, tagsKey, &tags); err != nil {
		return map[int]string{}
	}
	m := make(map[int]string, len(tags))
	for _, t := range tags {
		m[t.ID] = t.Name
	}
	s.tagMu.Lock()
	s.tags = m
	s.tagsLoaded = true
	s.tagMu.Unlock()
	return maps.Clone(m)
}

// Query selects pre-filter candidates.
type Query struct {
	TopGenres       []string
	LoyalDevelopers []string

	// ExcludeIDs holds game ids ("steam-730") that must not be returned.
	ExcludeIDs map[string]struct{}

	MinReviews    int
	MinPositivity float64
	MaxResults    int
}

// QueryFromFilter fills thresholds from the configured filter.
func (s *Store) QueryFromFilter(topGenres, loyalDevelopers []string, exclude map[string]struct{}) Query {
	return Query{
		TopGenres:       topGenres,
		LoyalDevelopers: loyalDevelopers,
		ExcludeIDs:      exclude,
		MinReviews:      s.cfg.Filter.MinReviews,
		MinPositivity:   s.cfg.Filter.MinPositivity,
		MaxResults:      s.cfg.Filter.MaxResults,
	}
}

// QueryForCandidates runs one forward scan over the catalog. A row is kept
// when it is not excluded, meets the review thresholds, and either shares a
// genre with TopGenres, is by a loyal developer, or has at least the
// popularity-escape review count. The scan stops once MaxResults rows are
// collected; the result is sorted by review count, descending.
func (s *Store) QueryForCandidates(ctx context.Context, q Query) ([]Entry, error) {
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = s.cfg.Filter.MaxResults
	}
	genres := lowerSet(q.TopGenres)
	devs := lowerSet(q.LoyalDevelopers)
	escape := s.cfg.Filter.PopularityEscapeReviews

	out := make([]Entry, 0, min(maxResults, 1024))
	corrupt := 0
	err := s.entries.Scan(ctx, func(key string, raw []byte) (bool, error) {
		var e Entry
		if err := kvstore.Decode(key, raw, &e); err != nil {
			corrupt++
			return true, nil
		}
		if _, excluded := q.ExcludeIDs[e.GameID()]; excluded {
			return true, nil
		}
		if e.ReviewCount < q.MinReviews || e.ReviewPositivity < q.MinPositivity {
			return true, nil
		}
		if !matchesAny(e.Genres, genres) && !matchesOne(e.Developer, devs) && e.ReviewCount < escape {
			return true, nil
		}
		out = append(out, e)
		return len(out) < maxResults, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan catalog: %w", err)
	}
	if corrupt > 0 {
		s.logger.Warn().Int("discarded", corrupt).Msg("skipped corrupt catalog rows")
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ReviewCount > out[j].ReviewCount })
	return out, nil
}

// GetEntries returns the stored entries for appIDs. Missing ids are skipped;
// result order is not guaranteed to match the input.
func (s *Store) GetEntries(ctx context.Context, appIDs []int) ([]Entry, error) {
	out := make([]Entry, 0, len(appIDs))
	for _, id := range appIDs {
		if e, ok := s.lookup.Get(id); ok {
			out = append(out, e)
			continue
		}
		var e Entry
		err := s.entries.Get(ctx, entryKey(id), &e)
		if errors.Is(err, kvstore.ErrNotFound) || errors.Is(err, kvstore.ErrCorrupt) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("get entry %d: %w", id, err)
		}
		s.lookup.Add(id, e)
		out = append(out, e)
	}
	return out, nil
}

// All streams every entry to fn in key order. fn returning false stops.
func (s *Store) All(ctx context.Context, fn func(Entry) bool) error {
	return s.entries.Scan(ctx, func(key string, raw []byte) (bool, error) {
		var e Entry
		if err := kvstore.Decode(key, raw, &e); err != nil {
			return true, nil
		}
		return fn(e), nil
	})
}

func lowerSet(values []string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			m[v] = struct{}{}
		}
	}
	return m
}

func matchesAny(values []string, set map[string]struct{}) bool {
	for _, v := range values {
		if matchesOne(v, set) {
			return true
		}
	}
	return false
}

func matchesOne(v string, set map[string]struct{}) bool {
	if len(set) == 0 || v == "" {
		return false
	}
	_, ok := set[strings.ToLower(strings.TrimSpace(v))]
	return ok
}
