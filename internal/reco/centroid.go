// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package reco

import (
	"math"

	"github.com/tomtom215/shelfwise/internal/vector"
)

// WeightedVector is one centroid input.
type WeightedVector struct {
	Vector []float32
	Weight float64
}

// GameWeight scores how strongly a library game should pull the centroid:
// 1 + min(hours/20, 3) + rating/5*2, plus 1 when completed.
func GameWeight(g *UserGame) float64 {
	w := 1 + math.Min(math.Max(g.HoursPlayed, 0)/20, 3)
	if g.Rating > 0 {
		w += math.Min(g.Rating, 5) / 5 * 2
	}
	if g.Status == StatusCompleted {
		w++
	}
	return w
}

// WeightedVectors pairs every snapshot that has a vector with its weight.
func WeightedVectors(snaps []Snapshot) []WeightedVector {
	out := make([]WeightedVector, 0, len(snaps))
	for i := range snaps {
		if len(snaps[i].Vector) == 0 {
			continue
		}
		out = append(out, WeightedVector{Vector: snaps[i].Vector, Weight: GameWeight(&snaps[i].Game)})
	}
	return out
}

// TasteCentroid returns the L2-normalized weighted mean of the inputs.
//
// It returns nil when no input has a vector. Inputs whose length differs from
// the first vector, or whose weight is not positive, are ignored. When the
// weighted sum is the zero vector (for example two opposite vectors of equal
// weight) the result is a zero vector of the input dimension; it has no
// direction and callers treat it like no taste signal.
func TasteCentroid(inputs []WeightedVector) []float32 {
	var sum []float64
	for _, in := range inputs {
		if len(in.Vector) == 0 || in.Weight <= 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(in.Vector))
		}
		if len(in.Vector) != len(sum) {
			continue
		}
		for i, x := range in.Vector {
			sum[i] += float64(x) * in.Weight
		}
	}
	if sum == nil {
		return nil
	}

	var norm float64
	for _, x := range sum {
		norm += x * x
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(sum))
	if norm < 1e-12 {
		return out
	}
	for i, x := range sum {
		out[i] = float32(x / norm)
	}
	return out
}

// HasDirection reports whether a centroid can drive semantic retrieval.
func HasDirection(centroid []float32) bool {
	return len(centroid) > 0 && vector.Norm(centroid) > 1e-9
}
