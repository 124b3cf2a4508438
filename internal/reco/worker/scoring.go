// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package worker

import (
	"context"
	"math"
	"sort"

	"github.com/tomtom215/shelfwise/internal/reco"
	"github.com/tomtom215/shelfwise/internal/vector"
)

// Blend weights. Without a semantic signal the remaining weights are used.
const (
	wSemantic = 0.35
	wGenre    = 0.25
	wTheme    = 0.10
	wDev      = 0.10
	wQuality  = 0.20

	wGenreNoSem   = 0.40
	wThemeNoSem   = 0.15
	wDevNoSem     = 0.15
	wQualityNoSem = 0.30
)

// noSemantic marks a candidate without any semantic signal.
const noSemantic = -1.0

type scored struct {
	c        *reco.Candidate
	score    float64
	semantic float64
	reasons  []string
}

// score rates every eligible candidate and returns them best first.
func (w *Worker) score(ctx context.Context, job *reco.Job, prof *profile) []scored {
	dismissed := make(map[string]struct{}, len(job.DismissedGameIDs))
	for _, id := range job.DismissedGameIDs {
		dismissed[id] = struct{}{}
	}
	centroid := job.TasteCentroid
	if !reco.HasDirection(centroid) {
		centroid = nil
	}

	out := make([]scored, 0, len(job.Candidates))
	seen := make(map[string]struct{}, len(job.Candidates))
	for i := range job.Candidates {
		if i%512 == 0 && ctx.Err() != nil {
			return nil
		}
		c := &job.Candidates[i]
		if _, skip := dismissed[c.ID]; skip {
			continue
		}
		if _, skip := prof.owned[c.ID]; skip {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, rate(c, prof, centroid))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].c.ID < out[j].c.ID
	})
	return out
}

func rate(c *reco.Candidate, prof *profile, centroid []float32) scored {
	genre, bestGenre := prof.genres.overlap(c.Genres)
	theme, _ := prof.themes.overlap(c.Themes)
	dev := prof.developers.affinity(c.Developer)
	_, loyal := prof.loyal[normalizeTerm(c.Developer)]
	if loyal {
		dev = math.Max(dev, 0.75)
	}
	q := quality(c)
	sem := semanticScore(c, centroid)

	var total float64
	if sem >= 0 {
		total = wSemantic*sem + wGenre*genre + wTheme*theme + wDev*dev + wQuality*q
	} else {
		total = wGenreNoSem*genre + wThemeNoSem*theme + wDevNoSem*dev + wQualityNoSem*q
	}

	var reasons []string
	if sem >= 0.6 {
		reasons = append(reasons, "Similar to games you love")
	}
	if bestGenre != "" && genre >= 0.5 {
		reasons = append(reasons, "Matches your taste in "+bestGenre)
	}
	if loyal {
		reasons = append(reasons, "From "+c.Developer+", a developer you rate highly")
	}
	if c.ReviewPositivity >= 0.9 && c.ReviewCount >= 1000 {
		reasons = append(reasons, "Highly rated by players")
	}
	return scored{c: c, score: total, semantic: sem, reasons: reasons}
}

// quality is review positivity damped by review volume, in [0, 1].
func quality(c *reco.Candidate) float64 {
	if c.ReviewCount <= 0 {
		return 0
	}
	volume := math.Min(math.Log10(1+float64(c.ReviewCount))/4, 1)
	return math.Max(0, math.Min(c.ReviewPositivity, 1)) * volume
}

// semanticScore is the cosine to the centroid clamped at 0, the retrieval
// similarity for ANN candidates without a vector, or noSemantic. A missing
// vector never scores as a zero vector.
func semanticScore(c *reco.Candidate, centroid []float32) float64 {
	if centroid != nil && len(c.Vector) == len(centroid) {
		return math.Max(0, vector.Cosine(c.Vector, centroid))
	}
	if c.SemanticRetrieved {
		return math.Max(0, math.Min(c.SemanticScore, 1))
	}
	return noSemantic
}
