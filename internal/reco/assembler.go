// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package reco

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/ann"
	"github.com/tomtom215/shelfwise/internal/catalog"
	"github.com/tomtom215/shelfwise/internal/embedding"
	"github.com/tomtom215/shelfwise/internal/logging"
	"github.com/tomtom215/shelfwise/internal/metrics"
)

// CatalogSource is the part of the catalog store the assembler reads.
type CatalogSource interface {
	QueryForCandidates(ctx context.Context, q catalog.Query) ([]catalog.Entry, error)
	GetEntries(ctx context.Context, appIDs []int) ([]catalog.Entry, error)
}

// SemanticIndex is the part of the ANN index the assembler reads.
type SemanticIndex interface {
	IsReady() bool
	Query(ctx context.Context, centroid []float32, k int) ([]ann.Neighbor, error)
}

// BrowseSource supplies the recent browse list.
type BrowseSource interface {
	Entries(ctx context.Context) ([]catalog.Entry, error)
}

// Pool is an assembled candidate set.
type Pool struct {
	Candidates []Candidate

	// Sources counts kept candidates per source.
	Sources map[string]int

	// Failed lists sources that errored and contributed nothing.
	Failed []string

	// SemanticUsed reports whether ANN retrieval ran.
	SemanticUsed bool
}

// Assembler merges candidates from the browse list, the catalog pre-filter,
// and ANN retrieval. Sources are consulted in that order; the first source
// to offer an id wins.
type Assembler struct {
	catalog CatalogSource
	index   SemanticIndex
	browse  BrowseSource
	vectors *embedding.Vectors
	filter  catalog.FilterConfig
	topK    int
	logger  zerolog.Logger
}

// NewAssembler creates an assembler. index, browse, and vectors may be nil.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewAssembler(cat CatalogSource, index SemanticIndex, browse BrowseSource, vectors *embedding.Vectors,
	filter catalog.FilterConfig, topK int, logger zerolog.Logger) *Assembler {
	return &Assembler{
		catalog: cat,
		index:   index,
		browse:  browse,
		vectors: vectors,
		filter:  filter,
		topK:    topK,
		logger:  logger.With().Str("component", "assembler").Logger(),
	}
}

// Assemble builds the candidate pool for snaps. exclude holds ids that must
// never be returned (owned and dismissed games).
func (a *Assembler) Assemble(ctx context.Context, snaps []Snapshot, exclude map[string]struct{}) *Pool {
	log := logging.Ctx(ctx).With().Str("component", "assembler").Logger()
	start := time.Now()

	pool := &Pool{Sources: make(map[string]int, 3)}
	seen := make(map[string]struct{})
	add := func(e catalog.Entry, source string, semantic float64) bool {
		id := e.GameID()
		if _, skip := exclude[id]; skip {
			return false
		}
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
		c := NewCandidate(e, source)
		if source == SourceANN {
			c.SemanticRetrieved = true
			c.SemanticScore = semantic
		}
		if a.vectors != nil {
			if v, ok := a.vectors.Get(id); ok {
				c.Vector = v
			}
		}
		pool.Candidates = append(pool.Candidates, c)
		pool.Sources[source]++
		return true
	}
	fail := func(source string, err error) {
		pool.Failed = append(pool.Failed, source)
		metrics.CandidateSourceFailures.WithLabelValues(source).Inc()
		log.Warn().Err(err).Str("source", source).Msg("candidate source failed, continuing without it")
	}

	if a.browse != nil {
		entries, err := a.browse.Entries(ctx)
		if err != nil {
			fail(SourceBrowse, err)
		}
		for i := range entries {
			add(entries[i], SourceBrowse, 0)
		}
	}

	if a.catalog != nil {
		topGenres, loyal := DeriveFilters(snaps, a.filter.TopGenres, a.filter.LoyalRating)
		entries, err := a.catalog.QueryForCandidates(ctx, catalog.Query{
			TopGenres:       topGenres,
			LoyalDevelopers: loyal,
			ExcludeIDs:      exclude,
			MinReviews:      a.filter.MinReviews,
			MinPositivity:   a.filter.MinPositivity,
			MaxResults:      a.filter.MaxResults,
		})
		if err != nil {
			fail(SourceCatalog, err)
		}
		for i := range entries {
			add(entries[i], SourceCatalog, 0)
		}
	}

	centroid := TasteCentroid(WeightedVectors(snaps))
	if a.index != nil && a.catalog != nil && a.index.IsReady() && HasDirection(centroid) {
		pool.SemanticUsed = true
		if err := a.semantic(ctx, centroid, add); err != nil {
			fail(SourceANN, err)
		}
	}

	for source, n := range pool.Sources {
		metrics.CandidatesAssembled.WithLabelValues(source).Add(float64(n))
	}
	log.Debug().
		Int("candidates", len(pool.Candidates)).
		Int("browse", pool.Sources[SourceBrowse]).
		Int("catalog", pool.Sources[SourceCatalog]).
		Int("ann", pool.Sources[SourceANN]).
		Bool("semantic", pool.SemanticUsed).
		Dur("duration", time.Since(start)).
		Msg("candidates assembled")
	return pool
}

func (a *Assembler) semantic(ctx context.Context, centroid []float32,
	add func(catalog.Entry, string, float64) bool) error {
	neighbors, err := a.index.Query(ctx, centroid, a.topK)
	if err != nil {
		return fmt.Errorf("ann query: %w", err)
	}

	similarity := make(map[int]float64, len(neighbors))
	order := make([]int, 0, len(neighbors))
	for _, n := range neighbors {
		appID, ok := catalog.ParseGameID(n.ID)
		if !ok {
			continue
		}
		if _, dup := similarity[appID]; dup {
			continue
		}
		similarity[appID] = 1 - n.Distance
		order = append(order, appID)
	}

	entries, err := a.catalog.GetEntries(ctx, order)
	if err != nil {
		return fmt.Errorf("resolve ann ids: %w", err)
	}
	// GetEntries does not preserve order; restore nearest first.
	sort.SliceStable(entries, func(i, j int) bool {
		return similarity[entries[i].AppID] > similarity[entries[j].AppID]
	})
	for i := range entries {
		add(entries[i], SourceANN, similarity[entries[i].AppID])
	}
	return nil
}

// DeriveFilters returns the topN genres by frequency across the library and
// the developers of any game rated at least loyalRating.
func DeriveFilters(snaps []Snapshot, topN int, loyalRating float64) (topGenres, loyalDevelopers []string) {
	counts := make(map[string]int)
	display := make(map[string]string)
	devs := make(map[string]struct{})
	for i := range snaps {
		g := &snaps[i].Game
		for _, genre := range g.Genres {
			key := strings.ToLower(strings.TrimSpace(genre))
			if key == "" {
				continue
			}
			if _, ok := display[key]; !ok {
				display[key] = strings.TrimSpace(genre)
			}
			counts[key]++
		}
		if g.Developer != "" && g.Rating >= loyalRating {
			if _, ok := devs[g.Developer]; !ok {
				devs[g.Developer] = struct{}{}
				loyalDevelopers = append(loyalDevelopers, g.Developer)
			}
		}
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if topN > 0 && len(keys) > topN {
		keys = keys[:topN]
	}
	for _, k := range keys {
		topGenres = append(topGenres, display[k])
	}
	sort.Strings(loyalDevelopers)
	return topGenres, loyalDevelopers
}

// capCandidates keeps every browse and semantic candidate and fills the rest
// of limit with catalog candidates in pool order.
func capCandidates(in []Candidate, limit int) []Candidate {
	if limit <= 0 || len(in) <= limit {
		return in
	}
	keep := make([]bool, len(in))
	n := 0
	for i := range in {
		if in[i].Source != SourceCatalog && n < limit {
			keep[i] = true
			n++
		}
	}
	for i := range in {
		if n >= limit {
			break
		}
		if !keep[i] {
			keep[i] = true
			n++
		}
	}
	out := make([]Candidate, 0, limit)
	for i := range in {
		if keep[i] {
			out = append(out, in[i])
		}
	}
	return out
}
