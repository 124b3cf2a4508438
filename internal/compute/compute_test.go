// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package compute

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
)

// lineData lies along (1, 2, 0) with a small spread along (0, 0, 1).
func lineData() [][]float32 {
	rows := make([][]float32, 0, 40)
	for i := 0; i < 40; i++ {
		t := float32(i - 20)
		z := float32(i%3-1) * 0.1
		rows = append(rows, []float32{t, 2 * t, z})
	}
	return rows
}

func TestPCA_Backends(t *testing.T) {
	backends := []Backend{
		NewCPU(200),
		NewParallel(Config{Workers: 4, MaxElements: 1 << 20, Iterations: 200}),
	}

	for _, b := range backends {
		t.Run(b.Name(), func(t *testing.T) {
			p, err := b.PCA(context.Background(), lineData(), 2)
			if err != nil {
				t.Fatalf("PCA() error = %v", err)
			}
			if p.Backend != b.Name() {
				t.Errorf("Backend = %q, want %q", p.Backend, b.Name())
			}
			if len(p.Components) != 2 {
				t.Fatalf("components = %d, want 2", len(p.Components))
			}

			first := p.Components[0]
			want := []float64{1 / math.Sqrt(5), 2 / math.Sqrt(5), 0}
			for i := range want {
				if math.Abs(first[i]-want[i]) > 1e-3 {
					t.Errorf("component[0] = %v, want %v", first, want)
					break
				}
			}
			if p.Variance[0] <= p.Variance[1] {
				t.Errorf("variance not descending: %v", p.Variance)
			}
			if len(p.Points) != 40 || len(p.Points[0]) != 2 {
				t.Errorf("points shape = %dx%d", len(p.Points), len(p.Points[0]))
			}
		})
	}
}

func TestPCA_BackendsAgree(t *testing.T) {
	rows := lineData()
	cpu, err := NewCPU(200).PCA(context.Background(), rows, 2)
	if err != nil {
		t.Fatal(err)
	}
	par, err := NewParallel(Config{Workers: 3, MaxElements: 1 << 20, Iterations: 200}).PCA(context.Background(), rows, 2)
	if err != nil {
		t.Fatal(err)
	}
	for r := range rows {
		for c := 0; c < 2; c++ {
			if math.Abs(cpu.Points[r][c]-par.Points[r][c]) > 1e-6 {
				t.Fatalf("point %d differs: cpu %v, parallel %v", r, cpu.Points[r], par.Points[r])
			}
		}
	}
}

func TestPCA_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		rows [][]float32
		want error
	}{
		{"empty", nil, ErrEmptyInput},
		{"zero dims", [][]float32{{}}, ErrEmptyInput},
		{"ragged", [][]float32{{1, 2}, {1}}, ErrRaggedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCPU(10).PCA(context.Background(), tt.rows, 2); !errors.Is(err, tt.want) {
				t.Errorf("PCA() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPCA_IdenticalRows(t *testing.T) {
	rows := [][]float32{{1, 1}, {1, 1}, {1, 1}}
	p, err := NewCPU(10).PCA(context.Background(), rows, 2)
	if err != nil {
		t.Fatalf("PCA() error = %v", err)
	}
	if len(p.Components) != 0 {
		t.Errorf("components = %d, want 0 for zero variance", len(p.Components))
	}
	if len(p.Points) != 3 {
		t.Errorf("points = %d, want 3", len(p.Points))
	}
}

func TestParallel_Probe(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		rows    int
		dims    int
		wantErr bool
	}{
		{"fits", Config{Workers: 2, MaxElements: 100}, 10, 10, false},
		{"too large", Config{Workers: 2, MaxElements: 99}, 10, 10, true},
		{"single worker", Config{Workers: 1, MaxElements: 100}, 1, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewParallel(tt.cfg).Probe(tt.rows, tt.dims)
			if (err != nil) != tt.wantErr {
				t.Errorf("Probe() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnsupported) {
				t.Errorf("Probe() error = %v, want ErrUnsupported", err)
			}
		})
	}
}

type failingBackend struct {
	probeErr error
	err      error
	calls    int
}

func (f *failingBackend) Name() string         { return "failing" }
func (f *failingBackend) Probe(_, _ int) error { return f.probeErr }
func (f *failingBackend) PCA(_ context.Context, _ [][]float32, _ int) (*Projection, error) {
	f.calls++
	return nil, f.err
}

func TestEngine_Fallback(t *testing.T) {
	t.Run("unsupported input keeps backend enabled", func(t *testing.T) {
		accel := &failingBackend{probeErr: ErrUnsupported}
		e := NewEngineWith(accel, NewCPU(50), zerolog.Nop())

		p, err := e.PCA(context.Background(), lineData(), 2)
		if err != nil {
			t.Fatalf("PCA() error = %v", err)
		}
		if p.Backend != "cpu" {
			t.Errorf("Backend = %q, want cpu", p.Backend)
		}
		if accel.calls != 0 {
			t.Errorf("accelerated PCA called %d times after failed probe", accel.calls)
		}
		if !e.Accelerated() {
			t.Error("probe failure disabled the accelerated backend")
		}
	})

	t.Run("runtime failure disables backend", func(t *testing.T) {
		accel := &failingBackend{err: errors.New("device lost")}
		e := NewEngineWith(accel, NewCPU(50), zerolog.Nop())

		for i := 0; i < 2; i++ {
			p, err := e.PCA(context.Background(), lineData(), 2)
			if err != nil {
				t.Fatalf("PCA() error = %v", err)
			}
			if p.Backend != "cpu" {
				t.Errorf("Backend = %q, want cpu", p.Backend)
			}
		}
		if accel.calls != 1 {
			t.Errorf("accelerated PCA called %d times, want 1", accel.calls)
		}
		if e.Accelerated() {
			t.Error("Accelerated() = true after runtime failure")
		}
	})

	t.Run("no accelerated backend", func(t *testing.T) {
		e := NewEngine(Config{Accelerated: false, Iterations: 50}, zerolog.Nop())
		p, err := e.PCA(context.Background(), lineData(), 1)
		if err != nil {
			t.Fatalf("PCA() error = %v", err)
		}
		if p.Backend != "cpu" || len(p.Components) != 1 {
			t.Errorf("got backend %q with %d components", p.Backend, len(p.Components))
		}
	})
}
