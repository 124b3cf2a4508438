// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package embedding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/kvstore"
	"github.com/tomtom215/shelfwise/internal/kvstore/migrate"
	"github.com/tomtom215/shelfwise/internal/vector"
)

// fakeBackend embeds text into a 3-dim vector derived from its length.
type fakeBackend struct {
	mu        sync.Mutex
	running   bool
	ready     bool
	fail      error
	drop      map[string]bool
	calls     int
	embedded  []string
	probeHits int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{running: true, ready: true, drop: map[string]bool{}}
}

func (f *fakeBackend) HealthCheck(context.Context) (Health, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeHits++
	return Health{Running: f.running, Version: "0.5.0"}, nil
}

func (f *fakeBackend) Setup(context.Context) (SetupResult, error) {
	return SetupResult{ModelReady: f.ready}, nil
}

func (f *fakeBackend) GenerateEmbeddings(_ context.Context, items []Item) (map[string][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	out := make(map[string][]float32, len(items))
	for _, it := range items {
		if f.drop[it.ID] {
			continue
		}
		f.embedded = append(f.embedded, it.ID)
		out[it.ID] = []float32{float32(len(it.Text)), 1, 0}
	}
	return out, nil
}

type fakeSink struct {
	mu      sync.Mutex
	entries []vector.Entry
}

func (s *fakeSink) AddVectors(entries []vector.Entry) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return len(entries)
}

func newTestCache(t *testing.T, backend Backend) (*Cache, *kvstore.Store) {
	t.Helper()
	store, err := kvstore.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	return NewCache(cfg, backend, store, zerolog.Nop()), store
}

func docs(n int) []Document {
	out := make([]Document, n)
	for i := range out {
		out[i] = Document{
			ID:     "steam-" + strings.Repeat("1", i+1),
			Name:   "Game " + strings.Repeat("x", i),
			Genres: []string{"RPG"},
		}
	}
	return out
}

func TestGenerateMissingIsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newTestCache(t, backend)
	ctx := context.Background()

	var progress [][2]int
	n, err := c.GenerateMissing(ctx, docs(5), TierLibrary, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})
	if err != nil {
		t.Fatalf("GenerateMissing() error = %v", err)
	}
	if n != 5 {
		t.Fatalf("first GenerateMissing() = %d, want 5", n)
	}
	want := [][2]int{{2, 5}, {4, 5}, {5, 5}}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, progress[i], want[i])
		}
	}

	n, err = c.GenerateMissing(ctx, docs(5), TierLibrary, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second GenerateMissing() = %d, want 0", n)
	}
}

func TestGenerateMissingRegeneratesOnTextChange(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newTestCache(t, backend)
	ctx := context.Background()

	d := docs(2)
	if _, err := c.GenerateMissing(ctx, d, TierLibrary, nil); err != nil {
		t.Fatal(err)
	}

	d[1].Notes = "Loved the soundtrack"
	n, _ := c.GenerateMissing(ctx, d, TierLibrary, nil)
	if n != 1 {
		t.Errorf("GenerateMissing() after notes edit = %d, want 1", n)
	}

	// Catalog text ignores notes, so the catalog tier sees no change.
	if _, err := c.GenerateMissing(ctx, docs(2), TierCatalog, nil); err != nil {
		t.Fatal(err)
	}
	n, _ = c.GenerateMissing(ctx, d, TierCatalog, nil)
	if n != 0 {
		t.Errorf("catalog GenerateMissing() after notes edit = %d, want 0", n)
	}
}

func TestLoadCachedRespectsTTL(t *testing.T) {
	tests := []struct {
		name string
		tier Tier
		age  time.Duration
		want int
	}{
		{name: "fresh library", tier: TierLibrary, age: time.Hour, want: 1},
		{name: "library at ttl", tier: TierLibrary, age: 7 * 24 * time.Hour, want: 0},
		{name: "library past ttl", tier: TierLibrary, age: 8 * 24 * time.Hour, want: 0},
		{name: "catalog within ttl", tier: TierCatalog, age: 30 * 24 * time.Hour, want: 1},
		{name: "catalog at ttl", tier: TierCatalog, age: 90 * 24 * time.Hour, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, store := newTestCache(t, newFakeBackend())
			ctx := context.Background()
			now := time.Unix(1_750_000_000, 0)
			c.now = func() time.Time { return now }

			rec := Record{ID: "steam-1", Vector: []float32{1, 0}, TextHash: "h", Timestamp: now.Add(-tt.age).UnixMilli()}
			if err := store.Collection(tt.tier.Collection()).Put(ctx, rec.ID, rec); err != nil {
				t.Fatal(err)
			}

			got, err := c.LoadCached(ctx, tt.tier, false)
			if err != nil {
				t.Fatalf("LoadCached() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("LoadCached() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLiveVectorsExpireWithTTL(t *testing.T) {
	c, _ := newTestCache(t, newFakeBackend())
	ctx := context.Background()
	now := time.Unix(1_750_000_000, 0)
	c.now = func() time.Time { return now }

	d := docs(2)
	if n, err := c.GenerateMissing(ctx, d, TierLibrary, nil); err != nil || n != 2 {
		t.Fatalf("GenerateMissing() = %d, %v", n, err)
	}
	if _, ok := c.Vectors().Get(d[0].ID); !ok {
		t.Fatal("fresh vector not served")
	}

	now = now.Add(DefaultConfig().LibraryTTL + time.Hour)

	if _, ok := c.Vectors().Get(d[0].ID); ok {
		t.Error("Get() served a vector past its TTL")
	}
	if c.Vectors().Has(d[1].ID) {
		t.Error("Has() reported a vector past its TTL")
	}
	if snap := c.Vectors().Snapshot(); len(snap) != 0 {
		t.Errorf("Snapshot() = %d entries, want 0", len(snap))
	}
	if n, err := c.LoadCached(ctx, TierLibrary, false); err != nil || n != 0 {
		t.Errorf("LoadCached() = %d, %v, want 0", n, err)
	}
	if n, err := c.LoadCached(ctx, TierLibrary, true); err != nil || n != 0 {
		t.Errorf("forced LoadCached() = %d, %v, want 0", n, err)
	}
	if _, ok := c.Vectors().GetTier(TierLibrary, d[0].ID); ok {
		t.Error("GetTier() hit after reload")
	}

	// Expired records are pending again.
	n, err := c.GenerateMissing(ctx, d, TierLibrary, nil)
	if err != nil || n != 2 {
		t.Fatalf("GenerateMissing() after expiry = %d, %v, want 2", n, err)
	}
	if _, ok := c.Vectors().Get(d[0].ID); !ok {
		t.Error("regenerated vector not served")
	}
}

func TestVectorsPrune(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	v := newVectors(map[Tier]time.Duration{TierCatalog: time.Hour}, func() time.Time { return now })
	v.mergeStamped(TierCatalog,
		map[string][]float32{"old": {1}, "new": {2}},
		map[string]int64{"old": now.Add(-time.Hour).UnixMilli(), "new": now.Add(-time.Minute).UnixMilli()})
	v.Merge(TierLibrary, map[string][]float32{"lib": {3}})

	if got := v.Len(TierCatalog); got != 1 {
		t.Errorf("Len(catalog) = %d, want 1", got)
	}
	if got := v.Prune(TierCatalog); got != 1 {
		t.Errorf("Prune(catalog) = %d, want 1", got)
	}
	if got := v.Prune(TierLibrary); got != 0 {
		t.Errorf("Prune(library) = %d, want 0 for a tier without TTL", got)
	}
	if _, ok := v.Get("new"); !ok {
		t.Error("live catalog entry dropped")
	}
}

func TestLoadCachedDiscardsCorruptRecords(t *testing.T) {
	c, store := newTestCache(t, newFakeBackend())
	ctx := context.Background()
	col := store.Collection(TierCatalog.Collection())

	good := Record{ID: "steam-2", Vector: []float32{0, 1}, TextHash: "h", Timestamp: time.Now().UnixMilli()}
	if err := col.Put(ctx, good.ID, good); err != nil {
		t.Fatal(err)
	}
	if err := col.PutRaw(ctx, "steam-3", []byte("{broken")); err != nil {
		t.Fatal(err)
	}

	n, err := c.LoadCached(ctx, TierCatalog, false)
	if err != nil {
		t.Fatalf("LoadCached() error = %v", err)
	}
	if n != 1 {
		t.Errorf("LoadCached() = %d, want 1", n)
	}
	if _, ok := c.Vectors().Get("steam-2"); !ok {
		t.Error("expected steam-2 in live map")
	}
}

func TestUnavailableBackendDegrades(t *testing.T) {
	tests := []struct {
		name    string
		backend Backend
	}{
		{name: "no backend", backend: nil},
		{name: "not running", backend: &fakeBackend{running: false, drop: map[string]bool{}}},
		{name: "model missing", backend: &fakeBackend{running: true, ready: false, drop: map[string]bool{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache(t, tt.backend)
			n, err := c.GenerateMissing(context.Background(), docs(3), TierCatalog, nil)
			if err != nil || n != 0 {
				t.Errorf("GenerateMissing() = %d, %v; want 0, nil", n, err)
			}
		})
	}
}

func TestAvailabilityIsCachedAndResettable(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newTestCache(t, backend)
	ctx := context.Background()

	c.IsAvailable(ctx)
	c.IsAvailable(ctx)
	if backend.probeHits != 1 {
		t.Errorf("probe ran %d times, want 1", backend.probeHits)
	}

	c.ResetAvailability()
	c.IsAvailable(ctx)
	if backend.probeHits != 2 {
		t.Errorf("probe ran %d times after reset, want 2", backend.probeHits)
	}
}

func TestBackendUnavailableMidRun(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newTestCache(t, backend)
	ctx := context.Background()

	if !c.IsAvailable(ctx) {
		t.Fatal("expected backend available")
	}
	backend.fail = ErrUnavailable

	n, err := c.GenerateMissing(ctx, docs(4), TierLibrary, nil)
	if err != nil || n != 0 {
		t.Errorf("GenerateMissing() = %d, %v; want 0, nil", n, err)
	}
	if c.IsAvailable(ctx) {
		t.Error("expected backend to be marked unavailable")
	}
}

func TestFailedBatchIsSkipped(t *testing.T) {
	backend := newFakeBackend()
	backend.drop["steam-1"] = true
	c, _ := newTestCache(t, backend)

	n, err := c.GenerateMissing(context.Background(), docs(3), TierLibrary, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("GenerateMissing() = %d, want 2 (partial batch)", n)
	}
	if c.Vectors().Has("steam-1") {
		t.Error("dropped item must stay vector-less")
	}
}

func TestCatalogGenerationFeedsSinkAndCancels(t *testing.T) {
	backend := newFakeBackend()
	c, store := newTestCache(t, backend)
	sink := &fakeSink{}
	c.SetSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	n, err := c.GenerateMissing(ctx, docs(6), TierCatalog, func(done, _ int) {
		if done >= 2 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("GenerateMissing() error = %v, want context.Canceled", err)
	}
	if n != 2 {
		t.Errorf("GenerateMissing() = %d, want 2 before cancellation", n)
	}
	if len(sink.entries) != 2 {
		t.Errorf("sink received %d vectors, want 2", len(sink.entries))
	}

	count, _ := store.Collection(TierCatalog.Collection()).Count(context.Background())
	if count != 2 {
		t.Errorf("persisted %d records, want 2 kept after cancellation", count)
	}

	// Resuming only embeds what is left.
	n, err = c.GenerateMissing(context.Background(), docs(6), TierCatalog, nil)
	if err != nil || n != 4 {
		t.Errorf("resumed GenerateMissing() = %d, %v; want 4, nil", n, err)
	}
}

func TestVectorsPreferLibraryTier(t *testing.T) {
	v := NewVectors()
	v.Merge(TierCatalog, map[string][]float32{"a": {0, 1}, "b": {1, 1}})
	v.Merge(TierLibrary, map[string][]float32{"a": {1, 0}})

	got, _ := v.Get("a")
	if got[0] != 1 {
		t.Errorf("Get(a) = %v, want library vector", got)
	}
	snap := v.Snapshot()
	if len(snap) != 2 || snap["a"][0] != 1 {
		t.Errorf("Snapshot() = %v", snap)
	}

	v.Merge(TierCatalog, map[string][]float32{"c": {0, 0}})
	if v.Len(TierCatalog) != 3 {
		t.Errorf("merge must not replace existing entries, Len = %d", v.Len(TierCatalog))
	}
}

func TestCanonicalText(t *testing.T) {
	doc := Document{
		ID:        "steam-1",
		Name:      "  Hollow   Knight ",
		Genres:    []string{"Action", "Metroidvania"},
		Developer: "Team Cherry",
		Publisher: "Team Cherry",
		Notes:     "abcdefghij",
	}

	lib := CanonicalText(doc, TierLibrary, 4)
	if !strings.HasPrefix(lib, "Hollow Knight\n") {
		t.Errorf("library text = %q", lib)
	}
	if !strings.HasSuffix(lib, "Notes: abcd") {
		t.Errorf("library text notes not truncated: %q", lib)
	}
	if strings.Contains(lib, "Publisher") {
		t.Errorf("publisher equal to developer must be omitted: %q", lib)
	}

	cat := CanonicalText(doc, TierCatalog, 4)
	if strings.Contains(cat, "Notes") {
		t.Errorf("catalog text must not include notes: %q", cat)
	}
	if TextHash(lib) == TextHash(cat) {
		t.Error("tier texts should hash differently")
	}
	if TextHash("") != "45h" {
		t.Errorf("TextHash(\"\") = %q, want djb2 seed 5381 in base 36", TextHash(""))
	}
}

func TestMigrateV1ToV2(t *testing.T) {
	store, err := kvstore.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	col := store.Collection(TierLibrary.Collection())
	legacy := legacyRecord{ID: "steam-9", Vector: []float64{0.5, 0.25}, TextHash: "abc", Timestamp: 1_700_000_000}
	raw, _ := json.Marshal(legacy)
	if err := col.PutRaw(ctx, "steam-9", raw); err != nil {
		t.Fatal(err)
	}

	r := migrate.NewRegistry(zerolog.Nop())
	RegisterMigrations(r)
	if err := r.Run(ctx, store); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var rec Record
	if err := col.Get(ctx, "steam-9", &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Timestamp != 1_700_000_000_000 {
		t.Errorf("Timestamp = %d, want milliseconds", rec.Timestamp)
	}
	if len(rec.Vector) != 2 || rec.Vector[0] != 0.5 {
		t.Errorf("Vector = %v", rec.Vector)
	}
	if v, _ := col.Version(ctx); v != 2 {
		t.Errorf("Version() = %d, want 2", v)
	}
}
