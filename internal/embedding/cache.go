// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/breaker"
	"github.com/tomtom215/shelfwise/internal/kvstore"
	"github.com/tomtom215/shelfwise/internal/metrics"
	"github.com/tomtom215/shelfwise/internal/vector"
)

// Config holds the embedding cache settings.
type Config struct {
	// Enabled turns semantic features on. When false the cache reports the
	// backend as unavailable without probing.
	Enabled bool `koanf:"enabled"`

	// BatchSize is the number of items sent to the backend per call.
	BatchSize int `koanf:"batch_size" validate:"min=1,max=2000"`

	// LibraryTTL is the validity of library-tier records.
	LibraryTTL time.Duration `koanf:"library_ttl" validate:"gt=0"`

	// CatalogTTL is the validity of catalog-tier records.
	CatalogTTL time.Duration `koanf:"catalog_ttl" validate:"gt=0"`

	// NotesMaxChars truncates user notes in library-tier text.
	NotesMaxChars int `koanf:"notes_max_chars" validate:"min=0"`

	// Ollama configures the default HTTP backend.
	Ollama OllamaConfig `koanf:"ollama"`
}

// DefaultConfig returns the default cache settings.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		BatchSize:     100,
		LibraryTTL:    7 * 24 * time.Hour,
		CatalogTTL:    90 * 24 * time.Hour,
		NotesMaxChars: 500,
		Ollama:        DefaultOllamaConfig(),
	}
}

// TTL returns the record lifetime of tier.
func (c Config) TTL(tier Tier) time.Duration {
	if tier == TierLibrary {
		return c.LibraryTTL
	}
	return c.CatalogTTL
}

// VectorSink receives freshly generated catalog-tier vectors.
// The ANN index implements it.
type VectorSink interface {
	AddVectors(entries []vector.Entry) int
}

// ProgressFunc is called after every batch with completed and total item counts.
type ProgressFunc func(completed, total int)

type recordMeta struct {
	hash      string
	timestamp int64
}

// Cache is the two-tier persistent embedding cache.
//
// Each tier owns one store collection. Records expire lazily: an expired
// record is treated as absent and overwritten by the next generation run.
type Cache struct {
	cfg     Config
	backend Backend
	store   *kvstore.Store
	vectors *Vectors
	logger  zerolog.Logger
	now     func() time.Time

	availMu      sync.Mutex
	availChecked bool
	available    bool
	version      string

	stateMu sync.Mutex
	loaded  map[Tier]bool
	meta    map[Tier]map[string]recordMeta

	genMu map[Tier]*sync.Mutex

	sinkMu sync.RWMutex
	sink   VectorSink
}

// NewCache creates a cache over store. backend may be nil, in which case
// every generation call is a no-op.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewCache(cfg Config, backend Backend, store *kvstore.Store, logger zerolog.Logger) *Cache {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	c := &Cache{
		cfg:     cfg,
		backend: backend,
		store:   store,
		logger:  logger.With().Str("component", "embedding-cache").Logger(),
		now:     time.Now,
		loaded:  make(map[Tier]bool, len(Tiers)),
		meta:    make(map[Tier]map[string]recordMeta, len(Tiers)),
		genMu:   make(map[Tier]*sync.Mutex, len(Tiers)),
	}
	ttl := make(map[Tier]time.Duration, len(Tiers))
	for _, t := range Tiers {
		ttl[t] = cfg.TTL(t)
	}
	c.vectors = newVectors(ttl, func() time.Time { return c.now() })
	for _, t := range Tiers {
		c.meta[t] = make(map[string]recordMeta)
		c.genMu[t] = &sync.Mutex{}
	}
	return c
}

// Vectors returns the live vector handle.
func (c *Cache) Vectors() *Vectors {
	return c.vectors
}

// SetSink attaches the receiver of new catalog-tier vectors.
func (c *Cache) SetSink(sink VectorSink) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	c.sink = sink
}

// IsAvailable probes the backend once and caches the answer until
// ResetAvailability is called.
func (c *Cache) IsAvailable(ctx context.Context) bool {
	c.availMu.Lock()
	defer c.availMu.Unlock()

	if c.availChecked {
		return c.available
	}
	if !c.cfg.Enabled || c.backend == nil {
		c.availChecked = true
		c.available = false
		metrics.SetBackendAvailable(false)
		return false
	}

	available, version := c.probe(ctx)
	if ctx.Err() != nil {
		// Cancelled probes are not cached.
		return false
	}
	c.availChecked = true
	c.available = available
	c.version = version
	metrics.SetBackendAvailable(available)
	return available
}

func (c *Cache) probe(ctx context.Context) (bool, string) {
	health, err := c.backend.HealthCheck(ctx)
	if err != nil || !health.Running {
		c.logger.Info().Err(err).Msg("embedding backend not running, semantic features disabled")
		return false, ""
	}

	setup, err := c.backend.Setup(ctx)
	if err != nil || !setup.ModelReady {
		c.logger.Warn().Err(err).Str("setup_error", setup.Error).Msg("embedding model not ready")
		return false, health.Version
	}

	c.logger.Info().Str("version", health.Version).Msg("embedding backend available")
	return true, health.Version
}

// ResetAvailability forgets the cached probe result.
func (c *Cache) ResetAvailability() {
	c.availMu.Lock()
	defer c.availMu.Unlock()
	c.availChecked = false
	c.available = false
}

func (c *Cache) markUnavailable(err error) {
	c.availMu.Lock()
	defer c.availMu.Unlock()
	if c.available {
		c.logger.Warn().Err(err).Msg("embedding backend became unavailable")
	}
	c.availChecked = true
	c.available = false
	metrics.SetBackendAvailable(false)
}

// LoadCached reads the tier's collection into the live vector map, skipping
// expired and corrupt records, and returns how many were loaded. Later calls
// are no-ops unless forceReload is set.
func (c *Cache) LoadCached(ctx context.Context, tier Tier, forceReload bool) (int, error) {
	if !tier.Valid() {
		return 0, fmt.Errorf("load cached: unknown tier %q", tier)
	}

	c.stateMu.Lock()
	if c.loaded[tier] && !forceReload {
		c.stateMu.Unlock()
		return c.vectors.Len(tier), nil
	}
	c.stateMu.Unlock()

	ttl := c.cfg.TTL(tier).Milliseconds()
	nowMs := c.now().UnixMilli()

	entries := make(map[string][]float32)
	stamps := make(map[string]int64)
	meta := make(map[string]recordMeta)
	var expired, corrupt int

	err := c.store.Collection(tier.Collection()).Scan(ctx, func(key string, raw []byte) (bool, error) {
		var rec Record
		if err := kvstore.Decode(key, raw, &rec); err != nil || rec.ID == "" || len(rec.Vector) == 0 {
			corrupt++
			return true, nil
		}
		if nowMs-rec.Timestamp >= ttl {
			expired++
			return true, nil
		}
		entries[rec.ID] = rec.Vector
		stamps[rec.ID] = rec.Timestamp
		meta[rec.ID] = recordMeta{hash: rec.TextHash, timestamp: rec.Timestamp}
		return true, nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", tier.Collection(), err)
	}

	c.stateMu.Lock()
	for id, m := range meta {
		c.meta[tier][id] = m
	}
	for id, m := range c.meta[tier] {
		if nowMs-m.timestamp >= ttl {
			delete(c.meta[tier], id)
		}
	}
	c.loaded[tier] = true
	c.stateMu.Unlock()
	c.vectors.mergeStamped(tier, entries, stamps)
	if pruned := c.vectors.Prune(tier); pruned > 0 {
		c.logger.Debug().Str("tier", string(tier)).Int("pruned", pruned).Msg("dropped expired live vectors")
	}

	if corrupt > 0 {
		c.logger.Warn().Str("tier", string(tier)).Int("discarded", corrupt).Msg("discarded corrupt embedding records")
	}
	c.logger.Debug().
		Str("tier", string(tier)).
		Int("loaded", len(entries)).
		Int("expired", expired).
		Msg("embedding tier loaded")

	return len(entries), nil
}

type pendingItem struct {
	item Item
	hash string
}

// GenerateMissing embeds every document whose canonical text changed or whose
// record expired. Each batch is persisted as soon as it returns, so an
// interrupted run loses at most one batch. Catalog-tier vectors are also fed
// to the attached sink. Returns the number of records written.
//
// An unavailable backend yields 0 without error. Context cancellation is
// checked between batches and returns the count written so far with ctx.Err().
func (c *Cache) GenerateMissing(ctx context.Context, docs []Document, tier Tier, onProgress ProgressFunc) (int, error) {
	if !tier.Valid() {
		return 0, fmt.Errorf("generate: unknown tier %q", tier)
	}
	if len(docs) == 0 || !c.IsAvailable(ctx) {
		return 0, nil
	}
	if _, err := c.LoadCached(ctx, tier, false); err != nil {
		c.logger.Warn().Err(err).Str("tier", string(tier)).Msg("could not load cached tier, regenerating")
	}

	mu := c.genMu[tier]
	mu.Lock()
	defer mu.Unlock()

	pending := c.pending(docs, tier)
	total := len(pending)
	if total == 0 {
		return 0, nil
	}

	col := c.store.Collection(tier.Collection())
	written := 0

	for start := 0; start < total; start += c.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			c.logger.Info().Str("tier", string(tier)).Int("written", written).Msg("embedding generation cancelled")
			return written, err
		}

		end := start + c.cfg.BatchSize
		if end > total {
			end = total
		}
		batch := pending[start:end]

		n, err := c.runBatch(ctx, col, tier, batch)
		written += n
		if err != nil {
			if errors.Is(err, ErrUnavailable) || breaker.IsRejected(err) {
				c.markUnavailable(err)
				return written, nil
			}
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			c.logger.Warn().Err(err).Str("tier", string(tier)).Int("batch_start", start).Msg("embedding batch failed, skipping")
		}

		if onProgress != nil {
			onProgress(end, total)
		}
	}

	c.logger.Info().Str("tier", string(tier)).Int("written", written).Int("requested", total).Msg("embedding generation complete")
	return written, nil
}

// pending returns the documents that need a new embedding, deduplicated by id.
func (c *Cache) pending(docs []Document, tier Tier) []pendingItem {
	ttl := c.cfg.TTL(tier).Milliseconds()
	nowMs := c.now().UnixMilli()

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	seen := make(map[string]struct{}, len(docs))
	out := make([]pendingItem, 0, len(docs))
	skipped := 0
	for i := range docs {
		doc := &docs[i]
		if doc.ID == "" {
			continue
		}
		if _, dup := seen[doc.ID]; dup {
			continue
		}
		seen[doc.ID] = struct{}{}

		text := CanonicalText(*doc, tier, c.cfg.NotesMaxChars)
		if text == "" {
			continue
		}
		hash := TextHash(text)
		if m, ok := c.meta[tier][doc.ID]; ok && m.hash == hash && nowMs-m.timestamp < ttl {
			skipped++
			continue
		}
		out = append(out, pendingItem{item: Item{ID: doc.ID, Text: text}, hash: hash})
	}
	if skipped > 0 {
		metrics.EmbeddingsSkipped.WithLabelValues(string(tier)).Add(float64(skipped))
	}
	return out
}

func (c *Cache) runBatch(ctx context.Context, col *kvstore.Collection, tier Tier, batch []pendingItem) (int, error) {
	items := make([]Item, len(batch))
	for i, p := range batch {
		items[i] = p.item
	}

	started := c.now()
	result, err := c.backend.GenerateEmbeddings(ctx, items)
	if err != nil {
		return 0, err
	}

	nowMs := c.now().UnixMilli()
	puts := make([]kvstore.Record, 0, len(result))
	fresh := make(map[string][]float32, len(result))
	stamps := make(map[string]int64, len(result))
	meta := make(map[string]recordMeta, len(result))
	for _, p := range batch {
		vec, ok := result[p.item.ID]
		if !ok || len(vec) == 0 {
			continue
		}
		rec := Record{ID: p.item.ID, Vector: vec, TextHash: p.hash, Timestamp: nowMs}
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		puts = append(puts, kvstore.Record{Key: rec.ID, Value: data})
		fresh[rec.ID] = vec
		stamps[rec.ID] = nowMs
		meta[rec.ID] = recordMeta{hash: p.hash, timestamp: nowMs}
	}

	if err := col.Apply(ctx, puts, nil); err != nil {
		// The vectors are still usable for this process.
		c.logger.Error().Err(err).Str("tier", string(tier)).Int("records", len(puts)).Msg("storage write failed, keeping batch in memory only")
	}

	c.stateMu.Lock()
	for id, m := range meta {
		c.meta[tier][id] = m
	}
	c.stateMu.Unlock()
	c.vectors.mergeStamped(tier, fresh, stamps)

	if tier == TierCatalog {
		c.feedSink(fresh)
	}

	metrics.RecordEmbeddingBatch(string(tier), c.now().Sub(started), len(fresh))
	return len(fresh), nil
}

func (c *Cache) feedSink(fresh map[string][]float32) {
	c.sinkMu.RLock()
	sink := c.sink
	c.sinkMu.RUnlock()
	if sink == nil || len(fresh) == 0 {
		return
	}

	entries := make([]vector.Entry, 0, len(fresh))
	for id, vec := range fresh {
		entries = append(entries, vector.Entry{ID: id, Vector: vec})
	}
	sink.AddVectors(entries)
}

// Status summarizes the cache for health endpoints.
type Status struct {
	Available      bool   `json:"available"`
	BackendVersion string `json:"backendVersion,omitempty"`
	LibraryVectors int    `json:"libraryVectors"`
	CatalogVectors int    `json:"catalogVectors"`
}

// Status returns the current cache summary without probing the backend.
func (c *Cache) Status() Status {
	c.availMu.Lock()
	available, version := c.available, c.version
	c.availMu.Unlock()

	return Status{
		Available:      available,
		BackendVersion: version,
		LibraryVectors: c.vectors.Len(TierLibrary),
		CatalogVectors: c.vectors.Len(TierCatalog),
	}
}
