// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package vector

import (
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Cosine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Run("unit length", func(t *testing.T) {
		v := []float32{3, 4}
		n := Normalize(v)
		if math.Abs(Norm(n)-1) > 1e-6 {
			t.Errorf("Norm(Normalize(v)) = %v, want 1", Norm(n))
		}
		if v[0] != 3 {
			t.Error("Normalize modified its input")
		}
	})

	t.Run("zero vector stays zero", func(t *testing.T) {
		n := Normalize([]float32{0, 0, 0})
		for i, x := range n {
			if x != 0 || math.IsNaN(float64(x)) {
				t.Errorf("n[%d] = %v, want 0", i, x)
			}
		}
	})
}
