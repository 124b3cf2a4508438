// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package worker

import (
	"sort"
	"strings"

	"github.com/tomtom215/shelfwise/internal/reco"
)

const profileTopTerms = 10

// patternFactor scales a game's profile weight by how the user played it.
var patternFactor = map[reco.EngagementPattern]float64{
	reco.PatternBingeDrop: 0.6,
	reco.PatternHoneymoon: 0.8,
	reco.PatternSlowBurn:  1.15,
	reco.PatternLongTail:  1.25,
	reco.PatternUnknown:   1,
}

// terms accumulates weights keyed by lowercase term.
type terms struct {
	weight  map[string]float64
	display map[string]string
	max     float64
}

func newTerms() *terms {
	return &terms{weight: make(map[string]float64), display: make(map[string]string)}
}

func (t *terms) add(name string, w float64) {
	key := normalizeTerm(name)
	if key == "" {
		return
	}
	if _, ok := t.display[key]; !ok {
		t.display[key] = strings.TrimSpace(name)
	}
	t.weight[key] += w
	if t.weight[key] > t.max {
		t.max = t.weight[key]
	}
}

// affinity returns the normalized weight of name in [0, 1].
func (t *terms) affinity(name string) float64 {
	if t.max == 0 {
		return 0
	}
	return t.weight[normalizeTerm(name)] / t.max
}

// overlap scores a term list against the profile, in [0, 1]. The best match
// counts fully and further matches add a diminishing bonus.
func (t *terms) overlap(names []string) (score float64, best string) {
	var values []float64
	bestValue := 0.0
	for _, n := range names {
		a := t.affinity(n)
		if a <= 0 {
			continue
		}
		values = append(values, a)
		if a > bestValue {
			bestValue = a
			best = t.display[normalizeTerm(n)]
		}
	}
	if len(values) == 0 {
		return 0, ""
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
	score = values[0]
	for i, v := range values[1:] {
		score += v / float64(4*(i+1))
	}
	return min(score, 1), best
}

func (t *terms) top(n int) []reco.WeightedTerm {
	keys := make([]string, 0, len(t.weight))
	for k := range t.weight {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if t.weight[keys[i]] != t.weight[keys[j]] {
			return t.weight[keys[i]] > t.weight[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	out := make([]reco.WeightedTerm, 0, len(keys))
	for _, k := range keys {
		out = append(out, reco.WeightedTerm{Name: t.display[k], Weight: t.weight[k] / t.max})
	}
	return out
}

func normalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// profile is the library summary scoring works from.
type profile struct {
	genres     *terms
	themes     *terms
	developers *terms
	modes      *terms

	// loyal holds lowercase developers of games rated at or above the loyal rating.
	loyal map[string]struct{}

	// owned holds every library id.
	owned map[string]struct{}

	patterns   map[reco.EngagementPattern]int
	avgSession float64

	// anchor is the most loved library game, or nil for an empty library.
	anchor *reco.Snapshot
}

func buildProfile(snaps []reco.Snapshot, loyalRating float64) *profile {
	p := &profile{
		genres:     newTerms(),
		themes:     newTerms(),
		developers: newTerms(),
		modes:      newTerms(),
		loyal:      make(map[string]struct{}),
		owned:      make(map[string]struct{}, len(snaps)),
		patterns:   make(map[reco.EngagementPattern]int),
	}

	var sessionSum float64
	sessionGames := 0
	bestAnchor := -1.0
	for i := range snaps {
		s := &snaps[i]
		g := &s.Game
		p.owned[g.ID] = struct{}{}
		p.patterns[s.Pattern]++

		w := reco.GameWeight(g)
		if f, ok := patternFactor[s.Pattern]; ok {
			w *= f
		}
		if g.Status == reco.StatusDropped {
			w *= 0.5
		}

		for _, x := range g.Genres {
			p.genres.add(x, w)
		}
		for _, x := range g.Themes {
			p.themes.add(x, w)
		}
		for _, x := range g.Modes {
			p.modes.add(x, w)
		}
		if g.Developer != "" {
			p.developers.add(g.Developer, w)
			if g.Rating >= loyalRating {
				p.loyal[normalizeTerm(g.Developer)] = struct{}{}
			}
		}

		if s.SessionCount > 0 {
			sessionSum += s.AvgSessionMinutes
			sessionGames++
		}

		if g.Status != reco.StatusDropped && w > bestAnchor {
			bestAnchor = w
			p.anchor = s
		}
	}
	if sessionGames > 0 {
		p.avgSession = sessionSum / float64(sessionGames)
	}
	return p
}

func (p *profile) tasteProfile(coverage float64) reco.TasteProfile {
	return reco.TasteProfile{
		TopGenres:           p.genres.top(profileTopTerms),
		TopThemes:           p.themes.top(profileTopTerms),
		TopDevelopers:       p.developers.top(profileTopTerms),
		TopModes:            p.modes.top(profileTopTerms),
		PatternDistribution: p.patterns,
		AvgSessionMinutes:   p.avgSession,
		EmbeddingCoverage:   coverage,
	}
}
