// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

// Package reranking diversifies scored shelf candidates.
package reranking

import (
	"context"
	"strings"

	"github.com/tomtom215/shelfwise/internal/vector"
)

// maxRerankSize bounds the similarity matrix.
const maxRerankSize = 2000

// Item is one scored candidate. Vector may be nil when the game has no
// embedding; similarity then falls back to genre overlap.
type Item struct {
	ID     string
	Score  float64
	Genres []string
	Vector []float32
}

// MMR implements Maximal Marginal Relevance reranking:
//
//	MMR = argmax[lambda * score(i) - (1-lambda) * max(sim(i, s)) for s in selected]
//
// Lambda 1 is pure relevance, 0 is pure diversity.
//
// Carbonell, J., & Goldstein, J. (1998). "The Use of MMR, Diversity-Based
// Reranking for Reordering Documents and Producing Summaries." SIGIR 1998.
type MMR struct {
	lambda float64
}

// NewMMR creates an MMR reranker. Lambda is clamped to [0, 1].
func NewMMR(lambda float64) *MMR {
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}
	return &MMR{lambda: lambda}
}

// Name returns the reranker identifier.
func (m *MMR) Name() string {
	return "mmr"
}

// Lambda returns the relevance weight.
func (m *MMR) Lambda() float64 {
	return m.lambda
}

// Rerank selects up to k items from items, which should be sorted by score.
// Cancellation stops selection early and returns what was picked so far.
func (m *MMR) Rerank(ctx context.Context, items []Item, k int) []Item {
	if len(items) == 0 || k <= 0 {
		return items
	}
	if len(items) > maxRerankSize {
		items = items[:maxRerankSize]
	}
	if k > len(items) {
		k = len(items)
	}

	if m.lambda >= 1.0 {
		return items[:k]
	}

	sims := buildSimilarityMatrix(items)

	selected := make([]Item, 0, k)
	picked := make([]bool, len(items))
	// maxSim[i] is the highest similarity of item i to anything selected.
	maxSim := make([]float64, len(items))

	for len(selected) < k {
		if ctx.Err() != nil {
			break
		}

		bestIdx := -1
		bestMMR := 0.0
		for i := range items {
			if picked[i] {
				continue
			}
			score := m.lambda*items[i].Score - (1-m.lambda)*maxSim[i]
			if bestIdx < 0 || score > bestMMR {
				bestMMR = score
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}

		selected = append(selected, items[bestIdx])
		picked[bestIdx] = true
		for i := range items {
			if s := sims[i][bestIdx]; s > maxSim[i] {
				maxSim[i] = s
			}
		}
	}

	return selected
}

func buildSimilarityMatrix(items []Item) [][]float64 {
	n := len(items)
	sims := make([][]float64, n)
	for i := range sims {
		sims[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := Similarity(items[i], items[j])
			sims[i][j] = s
			sims[j][i] = s
		}
	}
	return sims
}

// Similarity is the embedding cosine of a and b clamped to [0, 1] when both
// have vectors, otherwise the Jaccard similarity of their genres.
func Similarity(a, b Item) float64 {
	if len(a.Vector) > 0 && len(a.Vector) == len(b.Vector) {
		s := vector.Cosine(a.Vector, b.Vector)
		if s < 0 {
			return 0
		}
		return s
	}
	return genreSimilarity(a.Genres, b.Genres)
}

func genreSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(a))
	for _, g := range a {
		setA[strings.ToLower(g)] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, g := range b {
		setB[strings.ToLower(g)] = struct{}{}
	}

	intersection := 0
	for g := range setA {
		if _, ok := setB[g]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
