// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package app

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/bandit"
	"github.com/tomtom215/shelfwise/internal/catalog"
	"github.com/tomtom215/shelfwise/internal/config"
	"github.com/tomtom215/shelfwise/internal/embedding"
	"github.com/tomtom215/shelfwise/internal/reco"
)

// fakeSource serves apps 1..n, all visible and well reviewed.
type fakeSource struct {
	n int
}

func (f *fakeSource) GetAppIDs(context.Context) ([]catalog.AppRef, error) {
	out := make([]catalog.AppRef, f.n)
	for i := range out {
		out[i] = catalog.AppRef{AppID: i + 1, Name: "Game"}
	}
	return out, nil
}

func (f *fakeSource) FetchBatch(_ context.Context, ids []int) ([]catalog.RawItem, error) {
	out := make([]catalog.RawItem, len(ids))
	for i, id := range ids {
		genre := "RPG"
		if id%2 == 0 {
			genre = "Strategy"
		}
		out[i] = catalog.RawItem{
			AppID:   id,
			Success: true,
			Visible: true,
			Data: catalog.Entry{
				Name:             "Game",
				Genres:           []string{genre},
				Developer:        "Studio",
				ReviewCount:      500 + id,
				ReviewPositivity: 0.9,
				TagIDs:           []int{1},
			},
		}
	}
	return out, nil
}

func (f *fakeSource) GetTagList(context.Context) ([]catalog.Tag, error) {
	return []catalog.Tag{{ID: 1, Name: "Souls-like"}}, nil
}

// fakeBackend derives a stable 8-dim vector from each item id.
type fakeBackend struct {
	calls atomic.Int32
}

func (f *fakeBackend) HealthCheck(context.Context) (embedding.Health, error) {
	return embedding.Health{Running: true, Version: "test"}, nil
}

func (f *fakeBackend) Setup(context.Context) (embedding.SetupResult, error) {
	return embedding.SetupResult{ModelReady: true}, nil
}

func (f *fakeBackend) GenerateEmbeddings(_ context.Context, items []embedding.Item) (map[string][]float32, error) {
	f.calls.Add(1)
	out := make(map[string][]float32, len(items))
	for _, it := range items {
		h := fnv.New64a()
		_, _ = h.Write([]byte(it.ID))
		seed := h.Sum64()
		v := make([]float32, 8)
		for i := range v {
			v[i] = float32((seed>>(i*8))&0xff)/255 + 0.01
		}
		out[it.ID] = v
	}
	return out, nil
}

func writeLibrary(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "library.json")
	data := `[
		{"id": "steam-1", "name": "Owned RPG", "genres": ["RPG"], "hoursPlayed": 40, "rating": 4.5, "status": "Completed"},
		{"id": "local-7", "name": "Side Project", "genres": ["RPG"], "hoursPlayed": 3}
	]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write library: %v", err)
	}
	return path
}

func testConfig(t *testing.T, dataDir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	if dataDir == "" {
		cfg.Storage.InMemory = true
	} else {
		cfg.Storage.Path = dataDir
	}
	cfg.Storage.LibraryFile = writeLibrary(t, t.TempDir())
	cfg.Catalog.BatchSize = 10
	cfg.Catalog.Concurrency = 2
	cfg.Catalog.ProgressInterval = 0
	cfg.Reco.WorkerIdleTimeout = 5 * time.Second
	cfg.Worker.MinShelfGames = 1
	cfg.Bandit.Seed = 7
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, opts Options) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestApp_SyncEmbedCompute(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	a := newApp(t, testConfig(t, ""), Options{Source: &fakeSource{n: 25}, Backend: backend})
	defer func() {
		if err := a.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	if n, err := a.Warm(ctx); err != nil || n != 0 {
		t.Fatalf("Warm() on empty store = %d, %v; want 0, nil", n, err)
	}

	st, err := a.Catalog.Sync(ctx, true, nil)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if st.TotalEntries != 25 {
		t.Fatalf("TotalEntries = %d, want 25", st.TotalEntries)
	}

	n, err := a.EmbedCatalog(ctx)
	if err != nil {
		t.Fatalf("EmbedCatalog() error = %v", err)
	}
	if n != 25 {
		t.Errorf("EmbedCatalog() = %d, want 25", n)
	}
	if !a.Index.IsReady() || a.Index.Size() != 25 {
		t.Errorf("index ready=%t size=%d, want ready with 25", a.Index.IsReady(), a.Index.Size())
	}

	// Unchanged text is never re-embedded.
	calls := backend.calls.Load()
	if n, _ := a.EmbedCatalog(ctx); n != 0 {
		t.Errorf("second EmbedCatalog() = %d, want 0", n)
	}
	if backend.calls.Load() != calls {
		t.Error("second EmbedCatalog() called the backend")
	}

	if err := a.Dismissed.Dismiss(ctx, "steam-2"); err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}
	if err := a.Orchestrator.Compute(ctx); err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	rs := a.Orchestrator.Status()
	if rs.State != reco.StateDone || rs.Result == nil {
		t.Fatalf("status = %+v, want done with a result", rs)
	}
	if rs.Result.LibraryCount != 2 {
		t.Errorf("LibraryCount = %d, want 2", rs.Result.LibraryCount)
	}
	for _, shelf := range rs.Result.Shelves {
		for _, g := range shelf.Games {
			if g.ID == "steam-1" || g.ID == "steam-2" {
				t.Errorf("shelf %q contains excluded game %s", shelf.ID, g.ID)
			}
		}
	}
	if rs.Result.TasteProfile.EmbeddingCoverage != 1 {
		t.Errorf("EmbeddingCoverage = %v, want 1", rs.Result.TasteProfile.EmbeddingCoverage)
	}

	status := a.Status(ctx)
	if status.Reco.Result != nil {
		t.Error("Status() carries the full result")
	}
	if !status.Embedding.Available || status.Embedding.CatalogVectors != 25 {
		t.Errorf("embedding status = %+v", status.Embedding)
	}
	if status.Catalog.TotalEntries != 25 {
		t.Errorf("catalog status = %+v", status.Catalog)
	}
}

func TestApp_WithoutBackendOrSource(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "")
	cfg.Embedding.Enabled = false
	a := newApp(t, cfg, Options{})
	defer a.Close()

	if n, err := a.EmbedCatalog(ctx); err != nil || n != 0 {
		t.Errorf("EmbedCatalog() = %d, %v; want 0, nil", n, err)
	}
	if _, err := a.Catalog.Sync(ctx, true, nil); err == nil {
		t.Error("Sync() without a source succeeded")
	}
	if err := a.Orchestrator.Compute(ctx); err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if rs := a.Orchestrator.Status(); rs.Result.TasteProfile.EmbeddingCoverage != 0 {
		t.Errorf("EmbeddingCoverage = %v, want 0", rs.Result.TasteProfile.EmbeddingCoverage)
	}
}

func TestApp_RestartRestoresState(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	a := newApp(t, testConfig(t, dataDir), Options{Source: &fakeSource{n: 12}, Backend: &fakeBackend{}})
	if _, err := a.Catalog.Sync(ctx, true, nil); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if _, err := a.EmbedCatalog(ctx); err != nil {
		t.Fatalf("EmbedCatalog() error = %v", err)
	}
	if err := a.Bandit.RecordReward(ctx, "trending", 1); err != nil {
		t.Fatalf("RecordReward() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	b := newApp(t, testConfig(t, dataDir), Options{Backend: &fakeBackend{}})
	defer b.Close()

	if !b.Index.IsReady() || b.Index.Size() != 12 {
		t.Errorf("reloaded index ready=%t size=%d, want ready with 12", b.Index.IsReady(), b.Index.Size())
	}
	if n, err := b.Warm(ctx); err != nil || n != 0 {
		t.Errorf("Warm() with a loaded index = %d, %v; want 0, nil", n, err)
	}
	if got := b.Embeddings.Vectors().Len(embedding.TierCatalog); got != 12 {
		t.Errorf("catalog vectors after Warm() = %d, want 12", got)
	}
	if arm := b.Bandit.Arm("trending"); arm.Alpha != 2 {
		t.Errorf("trending alpha = %v, want 2", arm.Alpha)
	}
}

func TestApp_WarmBackfillsLostIndex(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	a := newApp(t, testConfig(t, dataDir), Options{Source: &fakeSource{n: 8}, Backend: &fakeBackend{}})
	if _, err := a.Catalog.Sync(ctx, true, nil); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if _, err := a.EmbedCatalog(ctx); err != nil {
		t.Fatalf("EmbedCatalog() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	cfg := testConfig(t, dataDir)
	if err := os.Remove(cfg.ANNPath()); err != nil {
		t.Fatalf("remove index artifact: %v", err)
	}

	b := newApp(t, cfg, Options{})
	defer b.Close()
	if b.Index.IsReady() {
		t.Fatal("index ready without an artifact")
	}
	n, err := b.Warm(ctx)
	if err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if n != 8 || !b.Index.IsReady() {
		t.Errorf("Warm() = %d, ready=%t; want 8, true", n, b.Index.IsReady())
	}
}

func TestMigrations_Targets(t *testing.T) {
	r := Migrations(zerolog.Nop())
	tests := []struct {
		collection string
		want       int
	}{
		{bandit.Collection, 2},
		{embedding.TierCatalog.Collection(), 2},
		{embedding.TierLibrary.Collection(), 2},
		{reco.DismissedCollection, 1},
	}
	for _, tt := range tests {
		t.Run(tt.collection, func(t *testing.T) {
			if got := r.Target(tt.collection); got != tt.want {
				t.Errorf("Target(%q) = %d, want %d", tt.collection, got, tt.want)
			}
		})
	}
}

func TestFileLibrary(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		want    int
		wantErr bool
	}{
		{"no path", "", 0, false},
		{"missing file", filepath.Join(dir, "missing.json"), 0, false},
		{"valid", writeLibrary(t, dir), 2, false},
		{"malformed", bad, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			games, err := NewFileLibrary(tt.path).Games(ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Games() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(games) != tt.want {
				t.Errorf("Games() returned %d games, want %d", len(games), tt.want)
			}
		})
	}
}
