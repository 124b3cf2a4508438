// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package worker

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/tomtom215/shelfwise/internal/reco"
	"github.com/tomtom215/shelfwise/internal/reco/reranking"
)

// Shelf categories. Categories are bandit arm keys.
const (
	CategoryHero            = "hero"
	CategoryBecauseYouLoved = "because-you-loved"
	CategoryGenreAffinity   = "genre-affinity"
	CategoryLoyalDevelopers = "loyal-developers"
	CategorySemantic        = "semantic-matches"
	CategoryHiddenGems      = "hidden-gems"
	CategoryTrending        = "trending"
	CategoryNewReleases     = "new-releases"
	CategoryFreeToPlay      = "free-to-play"
	CategoryTimeOfDay       = "time-of-day"
)

const (
	// poolFactor is how many candidates per slot MMR chooses from.
	poolFactor = 3

	trendingWindow  = 365 * 24 * time.Hour
	trendingReviews = 1000
)

type timeSlot struct {
	id     string
	title  string
	genres []string
}

// slotFor maps an hour of day to a play-mood slot.
func slotFor(hour int) timeSlot {
	switch {
	case hour >= 5 && hour < 12:
		return timeSlot{"morning", "Morning picks", []string{"puzzle", "casual", "strategy", "card game"}}
	case hour >= 12 && hour < 18:
		return timeSlot{"afternoon", "Afternoon action", []string{"action", "sports", "racing", "shooter"}}
	case hour >= 18 && hour < 23:
		return timeSlot{"evening", "Evening adventures", []string{"rpg", "adventure", "story rich", "open world"}}
	default:
		return timeSlot{"late-night", "Late-night wind-down", []string{"indie", "simulation", "casual", "relaxing"}}
	}
}

// shelfBuilder fills shelves from one scored list. A game appears on at
// most one shelf.
type shelfBuilder struct {
	w       *Worker
	ctx     context.Context
	scored  []scored
	used    map[string]struct{}
	shelves []reco.Shelf
}

// add runs MMR over the unused games of ranked and appends the shelf when
// it has enough games. ranked must already be in relevance order.
func (b *shelfBuilder) add(shelf reco.Shelf, ranked []scored, relevance func(*scored) float64, size, minGames int) {
	items := make([]reranking.Item, 0, min(len(ranked), size*poolFactor))
	byID := make(map[string]*scored, cap(items))
	for i := range ranked {
		if len(items) >= size*poolFactor {
			break
		}
		s := &ranked[i]
		if _, taken := b.used[s.c.ID]; taken {
			continue
		}
		items = append(items, reranking.Item{
			ID:     s.c.ID,
			Score:  relevance(s),
			Genres: s.c.Genres,
			Vector: s.c.Vector,
		})
		byID[s.c.ID] = s
	}
	if len(items) < minGames {
		return
	}

	picked := b.w.mmr.Rerank(b.ctx, items, size)
	if len(picked) < minGames {
		return
	}
	for _, it := range picked {
		s := byID[it.ID]
		b.used[it.ID] = struct{}{}
		shelf.Games = append(shelf.Games, reco.ScoredGame{
			ID:                s.c.ID,
			AppID:             s.c.AppID,
			Name:              s.c.Name,
			Score:             s.score,
			Reasons:           s.reasons,
			SemanticRetrieved: s.c.SemanticRetrieved,
		})
	}
	b.shelves = append(b.shelves, shelf)
}

func (b *shelfBuilder) filter(keep func(*scored) bool) []scored {
	var out []scored
	for i := range b.scored {
		if keep(&b.scored[i]) {
			out = append(out, b.scored[i])
		}
	}
	return out
}

func byScore(s *scored) float64 { return s.score }

func (w *Worker) buildShelves(ctx context.Context, job *reco.Job, prof *profile, all []scored, now time.Time) []reco.Shelf {
	b := &shelfBuilder{w: w, ctx: ctx, scored: all, used: make(map[string]struct{})}
	size, minGames := w.cfg.ShelfSize, w.cfg.MinShelfGames

	b.add(reco.Shelf{ID: CategoryHero, Category: CategoryHero, Title: "Top pick for you", Pinned: true},
		all, byScore, 1, 1)

	if a := prof.anchor; a != nil {
		anchor := reranking.Item{ID: a.Game.ID, Genres: a.Game.Genres, Vector: a.Vector}
		ranked := append([]scored(nil), all...)
		rel := make(map[string]float64, len(ranked))
		for i := range ranked {
			s := &ranked[i]
			sim := reranking.Similarity(anchor, reranking.Item{Genres: s.c.Genres, Vector: s.c.Vector})
			rel[s.c.ID] = 0.6*sim + 0.4*s.score
		}
		sortBy(ranked, func(s *scored) float64 { return rel[s.c.ID] })
		b.add(reco.Shelf{
			ID:       CategoryBecauseYouLoved,
			Category: CategoryBecauseYouLoved,
			Title:    "Because you loved " + a.Game.Name,
			Reason:   a.Game.ID,
		}, ranked, func(s *scored) float64 { return rel[s.c.ID] }, size, minGames)
	}

	for _, g := range prof.genres.top(w.cfg.GenreShelves) {
		key := normalizeTerm(g.Name)
		ranked := b.filter(func(s *scored) bool { return hasTerm(s.c.Genres, key) })
		b.add(reco.Shelf{
			ID:       CategoryGenreAffinity + ":" + slug(g.Name),
			Category: CategoryGenreAffinity,
			Title:    "More " + g.Name,
			Reason:   g.Name,
		}, ranked, byScore, size, minGames)
	}

	if len(prof.loyal) > 0 {
		ranked := b.filter(func(s *scored) bool {
			_, ok := prof.loyal[normalizeTerm(s.c.Developer)]
			return ok
		})
		b.add(reco.Shelf{ID: CategoryLoyalDevelopers, Category: CategoryLoyalDevelopers, Title: "From developers you love"},
			ranked, byScore, size, minGames)
	}

	if reco.HasDirection(job.TasteCentroid) {
		ranked := b.filter(func(s *scored) bool { return s.semantic >= 0 })
		sortBy(ranked, func(s *scored) float64 { return s.semantic })
		b.add(reco.Shelf{ID: CategorySemantic, Category: CategorySemantic, Title: "Matches your taste"},
			ranked, func(s *scored) float64 { return s.semantic }, size, minGames)
	}

	ranked := b.filter(func(s *scored) bool {
		return s.c.ReviewCount > 0 && s.c.ReviewCount < w.cfg.HiddenGemMaxReviews &&
			s.c.ReviewPositivity >= w.cfg.HiddenGemMinPositivity
	})
	b.add(reco.Shelf{ID: CategoryHiddenGems, Category: CategoryHiddenGems, Title: "Hidden gems"},
		ranked, byScore, size, minGames)

	ranked = b.filter(func(s *scored) bool { return s.c.Source == reco.SourceBrowse })
	if len(ranked) < minGames {
		ranked = b.filter(func(s *scored) bool {
			r := s.c.Released()
			return !r.IsZero() && now.Sub(r) <= trendingWindow && s.c.ReviewCount >= trendingReviews
		})
		sortBy(ranked, func(s *scored) float64 { return float64(s.c.ReviewCount) * s.c.ReviewPositivity })
	}
	b.add(reco.Shelf{ID: CategoryTrending, Category: CategoryTrending, Title: "Trending now"},
		ranked, byScore, size, minGames)

	ranked = b.filter(func(s *scored) bool {
		r := s.c.Released()
		return !r.IsZero() && !r.After(now) && now.Sub(r) <= w.cfg.NewReleaseWindow
	})
	b.add(reco.Shelf{ID: CategoryNewReleases, Category: CategoryNewReleases, Title: "New releases"},
		ranked, byScore, size, minGames)

	ranked = b.filter(func(s *scored) bool { return s.c.IsFree })
	b.add(reco.Shelf{ID: CategoryFreeToPlay, Category: CategoryFreeToPlay, Title: "Free to play"},
		ranked, byScore, size, minGames)

	slot := slotFor(job.CurrentHour)
	ranked = b.filter(func(s *scored) bool {
		for _, g := range slot.genres {
			if hasTerm(s.c.Genres, g) || hasTerm(s.c.Themes, g) {
				return true
			}
		}
		return false
	})
	b.add(reco.Shelf{ID: CategoryTimeOfDay + ":" + slot.id, Category: CategoryTimeOfDay, Title: slot.title, Reason: slot.id},
		ranked, byScore, size, minGames)

	return b.shelves
}

// sortBy orders ranked by key, highest first, with ids breaking ties.
func sortBy(ranked []scored, key func(*scored) float64) {
	sort.SliceStable(ranked, func(i, j int) bool {
		ki, kj := key(&ranked[i]), key(&ranked[j])
		if ki != kj {
			return ki > kj
		}
		return ranked[i].c.ID < ranked[j].c.ID
	})
}

func hasTerm(values []string, key string) bool {
	for _, v := range values {
		if normalizeTerm(v) == key {
			return true
		}
	}
	return false
}

func slug(s string) string {
	return strings.ReplaceAll(normalizeTerm(s), " ", "-")
}
