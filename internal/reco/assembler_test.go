// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package reco

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/ann"
	"github.com/tomtom215/shelfwise/internal/catalog"
	"github.com/tomtom215/shelfwise/internal/embedding"
)

func testFilter() catalog.FilterConfig {
	f := catalog.DefaultConfig().Filter
	f.TopGenres = 2
	return f
}

func librarySnaps(withVectors bool) []Snapshot {
	snaps := []Snapshot{
		{Game: UserGame{ID: "steam-1", Genres: []string{"RPG", "Action"}, Developer: "Studio A", Rating: 5}},
		{Game: UserGame{ID: "steam-2", Genres: []string{"rpg"}, Developer: "Studio B", Rating: 2}},
		{Game: UserGame{ID: "steam-3", Genres: []string{"Puzzle"}}},
	}
	if withVectors {
		snaps[0].Vector = []float32{1, 0}
		snaps[1].Vector = []float32{0.8, 0.2}
	}
	return snaps
}

func sourcesByID(pool *Pool) map[string]string {
	out := make(map[string]string, len(pool.Candidates))
	for _, c := range pool.Candidates {
		out[c.ID] = c.Source
	}
	return out
}

func TestAssemble_DedupPriority(t *testing.T) {
	cat := &fakeCatalog{entries: []catalog.Entry{
		entry(10, "Ten", "RPG"),
		entry(20, "Twenty", "RPG"),
		entry(30, "Thirty", "Action"),
	}}
	index := &fakeIndex{ready: true, neighbors: []ann.Neighbor{
		{ID: "steam-30", Distance: 0.2},
		{ID: "steam-20", Distance: 0.1},
	}}
	browse := &fakeBrowse{entries: []catalog.Entry{entry(10, "Ten", "RPG"), entry(40, "Forty")}}

	// The catalog cannot return steam-40 here, so ANN retrieval only adds
	// what the browse list and the pre-filter did not.
	a := NewAssembler(cat, index, browse, nil, testFilter(), 10, zerolog.Nop())
	pool := a.Assemble(context.Background(), librarySnaps(true), nil)

	got := sourcesByID(pool)
	want := map[string]string{
		"steam-10": SourceBrowse,
		"steam-40": SourceBrowse,
		"steam-20": SourceCatalog,
		"steam-30": SourceCatalog,
	}
	if len(got) != len(want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	for id, src := range want {
		if got[id] != src {
			t.Errorf("source of %s = %q, want %q", id, got[id], src)
		}
	}
	if len(pool.Candidates) != 4 {
		t.Errorf("len(Candidates) = %d, want 4 with no duplicates", len(pool.Candidates))
	}
	if !pool.SemanticUsed {
		t.Error("SemanticUsed = false, want true")
	}
	if pool.Sources[SourceANN] != 0 {
		t.Errorf("Sources[ann] = %d, want 0", pool.Sources[SourceANN])
	}
}

func TestAssemble_SemanticOnly(t *testing.T) {
	cat := &fakeCatalog{entries: []catalog.Entry{entry(50, "Fifty"), entry(60, "Sixty")}}
	cat.queryErr = errFakeSource
	index := &fakeIndex{ready: true, neighbors: []ann.Neighbor{
		{ID: "steam-60", Distance: 0.05},
		{ID: "steam-50", Distance: 0.3},
		{ID: "not-a-game", Distance: 0.01},
	}}

	a := NewAssembler(cat, index, nil, nil, testFilter(), 10, zerolog.Nop())
	pool := a.Assemble(context.Background(), librarySnaps(true), nil)

	if len(pool.Failed) != 1 || pool.Failed[0] != SourceCatalog {
		t.Errorf("Failed = %v, want [catalog]", pool.Failed)
	}
	if len(pool.Candidates) != 2 {
		t.Fatalf("Candidates = %+v, want 2 semantic candidates", pool.Candidates)
	}
	first := pool.Candidates[0]
	if first.ID != "steam-60" || !first.SemanticRetrieved {
		t.Errorf("first = %s retrieved=%v, want nearest steam-60 retrieved", first.ID, first.SemanticRetrieved)
	}
	if first.SemanticScore < 0.949 || first.SemanticScore > 0.951 {
		t.Errorf("SemanticScore = %v, want 0.95", first.SemanticScore)
	}
}

func TestAssemble_SourceFailuresIsolated(t *testing.T) {
	cat := &fakeCatalog{entries: []catalog.Entry{entry(10, "Ten", "RPG")}}
	index := &fakeIndex{ready: true, err: errFakeSource}
	browse := &fakeBrowse{err: errFakeSource}

	a := NewAssembler(cat, index, browse, nil, testFilter(), 10, zerolog.Nop())
	pool := a.Assemble(context.Background(), librarySnaps(true), nil)

	if len(pool.Candidates) != 1 || pool.Candidates[0].ID != "steam-10" {
		t.Errorf("Candidates = %+v, want catalog candidate only", pool.Candidates)
	}
	failed := make(map[string]bool)
	for _, s := range pool.Failed {
		failed[s] = true
	}
	if !failed[SourceBrowse] || !failed[SourceANN] || failed[SourceCatalog] {
		t.Errorf("Failed = %v, want browse and ann", pool.Failed)
	}
}

func TestAssemble_SemanticSkipped(t *testing.T) {
	tests := []struct {
		name    string
		ready   bool
		vectors bool
	}{
		{"index not ready", false, true},
		{"no library vectors", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := &fakeCatalog{entries: []catalog.Entry{entry(10, "Ten", "RPG")}}
			index := &fakeIndex{ready: tt.ready, neighbors: []ann.Neighbor{{ID: "steam-99"}}}

			a := NewAssembler(cat, index, nil, nil, testFilter(), 10, zerolog.Nop())
			pool := a.Assemble(context.Background(), librarySnaps(tt.vectors), nil)

			if pool.SemanticUsed {
				t.Error("SemanticUsed = true")
			}
			if index.queryCount() != 0 {
				t.Errorf("index queried %d times, want 0", index.queryCount())
			}
		})
	}
}

func TestAssemble_ExcludeAndVectors(t *testing.T) {
	vectors := embedding.NewVectors()
	vectors.Merge(embedding.TierCatalog, map[string][]float32{"steam-20": {0, 1}})

	cat := &fakeCatalog{entries: []catalog.Entry{entry(10, "Ten"), entry(20, "Twenty"), entry(730, "Dismissed")}}
	browse := &fakeBrowse{entries: []catalog.Entry{entry(730, "Dismissed")}}
	exclude := map[string]struct{}{"steam-730": {}, "steam-1": {}}

	a := NewAssembler(cat, nil, browse, vectors, testFilter(), 10, zerolog.Nop())
	pool := a.Assemble(context.Background(), librarySnaps(false), exclude)

	got := sourcesByID(pool)
	if _, ok := got["steam-730"]; ok {
		t.Error("excluded steam-730 returned")
	}
	for _, c := range pool.Candidates {
		switch c.ID {
		case "steam-20":
			if len(c.Vector) != 2 {
				t.Errorf("steam-20 vector = %v, want cached vector", c.Vector)
			}
		default:
			if c.Vector != nil {
				t.Errorf("%s vector = %v, want nil", c.ID, c.Vector)
			}
		}
	}

	q := cat.lastQuery()
	if _, ok := q.ExcludeIDs["steam-730"]; !ok {
		t.Error("catalog query did not carry the exclude set")
	}
}

func TestDeriveFilters(t *testing.T) {
	genres, loyal := DeriveFilters(librarySnaps(false), 2, 3.5)
	if len(genres) != 2 || genres[0] != "RPG" || genres[1] != "Action" {
		t.Errorf("topGenres = %v, want [RPG Action]", genres)
	}
	if len(loyal) != 1 || loyal[0] != "Studio A" {
		t.Errorf("loyalDevelopers = %v, want [Studio A]", loyal)
	}

	genres, loyal = DeriveFilters(nil, 5, 3.5)
	if genres != nil || loyal != nil {
		t.Errorf("DeriveFilters(nil) = %v, %v; want nil, nil", genres, loyal)
	}
}

func TestCapCandidates(t *testing.T) {
	in := []Candidate{
		{ID: "a", Source: SourceCatalog},
		{ID: "b", Source: SourceCatalog},
		{ID: "c", Source: SourceBrowse},
		{ID: "d", Source: SourceCatalog},
		{ID: "e", Source: SourceANN},
	}
	got := capCandidates(in, 3)
	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	want := []string{"a", "c", "e"}
	if len(ids) != len(want) {
		t.Fatalf("capCandidates() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("capCandidates() = %v, want %v", ids, want)
			break
		}
	}
	if got := capCandidates(in, 0); len(got) != len(in) {
		t.Errorf("capCandidates(limit 0) len = %d, want %d", len(got), len(in))
	}
}
