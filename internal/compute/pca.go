// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package compute

import (
	"context"
	"math"
)

// Projection is the result of a principal component analysis.
type Projection struct {
	// Points holds each input row projected onto the components.
	Points [][]float64 `json:"points"`

	// Components are unit-length principal axes, strongest first.
	Components [][]float64 `json:"-"`

	// Variance is the variance captured by each component.
	Variance []float64 `json:"variance"`

	// Backend names the backend that produced the projection.
	Backend string `json:"backend"`
}

// mulFunc computes out = Xᵀ(X v) for the centered data matrix X.
type mulFunc func(ctx context.Context, v, out []float64) error

// powerPCA extracts k components by power iteration with deflation.
// The start vector is fixed so every backend converges to the same axes.
func powerPCA(ctx context.Context, x *centered, k, iterations int, mul mulFunc) (*Projection, error) {
	d := x.dims
	if k > d {
		k = d
	}
	comps := make([][]float64, 0, k)
	variance := make([]float64, 0, k)
	w := make([]float64, d)

	for c := 0; c < k; c++ {
		v := startVector(d, c)
		deflate(v, comps)
		if normalize(v) == 0 {
			break
		}

		var lambda float64
		for it := 0; it < iterations; it++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := mul(ctx, v, w); err != nil {
				return nil, err
			}
			deflate(w, comps)
			lambda = normalize(w)
			if lambda == 0 {
				break
			}
			delta := 0.0
			for i := range v {
				delta += math.Abs(w[i] - v[i])
				v[i] = w[i]
			}
			if delta < 1e-9 {
				break
			}
		}
		if lambda == 0 {
			break
		}
		orient(v)
		comps = append(comps, v)
		variance = append(variance, lambda/math.Max(float64(x.rows()-1), 1))
	}

	points := make([][]float64, x.rows())
	for r := range points {
		p := make([]float64, len(comps))
		for c, comp := range comps {
			p[c] = x.dot(r, comp)
		}
		points[r] = p
	}
	return &Projection{Points: points, Components: comps, Variance: variance}, nil
}

// centered is a row-major data matrix with its column means subtracted.
type centered struct {
	data [][]float64
	dims int
}

func center(rows [][]float32) (*centered, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyInput
	}
	d := len(rows[0])
	if d == 0 {
		return nil, ErrEmptyInput
	}
	mean := make([]float64, d)
	for _, row := range rows {
		if len(row) != d {
			return nil, ErrRaggedInput
		}
		for i, x := range row {
			mean[i] += float64(x)
		}
	}
	for i := range mean {
		mean[i] /= float64(len(rows))
	}

	data := make([][]float64, len(rows))
	for r, row := range rows {
		out := make([]float64, d)
		for i, x := range row {
			out[i] = float64(x) - mean[i]
		}
		data[r] = out
	}
	return &centered{data: data, dims: d}, nil
}

func (c *centered) rows() int { return len(c.data) }

func (c *centered) dot(r int, v []float64) float64 {
	var s float64
	for i, x := range c.data[r] {
		s += x * v[i]
	}
	return s
}

// accumulate adds (x_r · v) x_r into out for rows [lo, hi).
func (c *centered) accumulate(lo, hi int, v, out []float64) {
	for r := lo; r < hi; r++ {
		s := c.dot(r, v)
		if s == 0 {
			continue
		}
		for i, x := range c.data[r] {
			out[i] += s * x
		}
	}
}

func startVector(d, component int) []float64 {
	v := make([]float64, d)
	for i := range v {
		v[i] = 1 + float64((i*7+component*13)%11)/10
	}
	return v
}

// deflate removes the projection of v onto every basis vector.
func deflate(v []float64, basis [][]float64) {
	for _, b := range basis {
		var p float64
		for i := range v {
			p += v[i] * b[i]
		}
		for i := range v {
			v[i] -= p * b[i]
		}
	}
}

// normalize scales v to unit length and returns its previous norm.
func normalize(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	n := math.Sqrt(s)
	if n < 1e-12 {
		return 0
	}
	for i := range v {
		v[i] /= n
	}
	return n
}

// orient flips v so its largest-magnitude coordinate is positive.
func orient(v []float64) {
	best := 0
	for i := range v {
		if math.Abs(v[i]) > math.Abs(v[best]) {
			best = i
		}
	}
	if v[best] < 0 {
		for i := range v {
			v[i] = -v[i]
		}
	}
}
