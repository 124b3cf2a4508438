// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package embedding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// fakeOllama serves the subset of the Ollama API the backend uses.
type fakeOllama struct {
	modelStatus int
	pulls       atomic.Int32
	embedStatus int
	short       bool
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"version": "0.5.1"})
	})
	mux.HandleFunc("POST /api/show", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(f.modelStatus)
	})
	mux.HandleFunc("POST /api/pull", func(w http.ResponseWriter, _ *http.Request) {
		f.pulls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/embed", func(w http.ResponseWriter, r *http.Request) {
		if f.embedStatus != 0 && f.embedStatus != http.StatusOK {
			http.Error(w, "model crashed", f.embedStatus)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode embed request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		n := len(req.Input)
		if f.short && n > 0 {
			n--
		}
		resp := ollamaEmbedResponse{Embeddings: make([][]float32, n)}
		for i := 0; i < n; i++ {
			resp.Embeddings[i] = []float32{float32(len(req.Input[i])), 1, 0}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func newOllama(t *testing.T, f *fakeOllama, autoPull bool) *OllamaBackend {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	cfg := DefaultOllamaConfig()
	cfg.URL = srv.URL + "/"
	cfg.AutoPull = autoPull
	return NewOllamaBackend(cfg, zerolog.Nop())
}

func TestOllamaHealthCheck(t *testing.T) {
	o := newOllama(t, &fakeOllama{modelStatus: http.StatusOK}, false)

	h, err := o.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if !h.Running || h.Version != "0.5.1" {
		t.Errorf("HealthCheck() = %+v, want running 0.5.1", h)
	}
}

func TestOllamaHealthCheckUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := DefaultOllamaConfig()
	cfg.URL = url
	o := NewOllamaBackend(cfg, zerolog.Nop())

	if _, err := o.HealthCheck(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("HealthCheck() error = %v, want ErrUnavailable", err)
	}
}

func TestOllamaSetup(t *testing.T) {
	tests := []struct {
		name        string
		modelStatus int
		autoPull    bool
		wantReady   bool
		wantPulls   int32
	}{
		{name: "model present", modelStatus: http.StatusOK, wantReady: true},
		{name: "missing without auto pull", modelStatus: http.StatusNotFound, wantReady: false},
		{name: "missing with auto pull", modelStatus: http.StatusNotFound, autoPull: true, wantReady: true, wantPulls: 1},
		{name: "bad request is not pulled", modelStatus: http.StatusBadRequest, autoPull: true, wantReady: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeOllama{modelStatus: tt.modelStatus}
			o := newOllama(t, f, tt.autoPull)

			res, err := o.Setup(context.Background())
			if err != nil {
				t.Fatalf("Setup() error = %v", err)
			}
			if res.ModelReady != tt.wantReady {
				t.Errorf("ModelReady = %v, want %v (error %q)", res.ModelReady, tt.wantReady, res.Error)
			}
			if !tt.wantReady && res.Error == "" {
				t.Error("expected a setup error message")
			}
			if got := f.pulls.Load(); got != tt.wantPulls {
				t.Errorf("pulls = %d, want %d", got, tt.wantPulls)
			}
		})
	}
}

func TestOllamaGenerateEmbeddings(t *testing.T) {
	items := []Item{{ID: "a", Text: "x"}, {ID: "b", Text: "yy"}, {ID: "c", Text: "zzz"}}

	t.Run("maps vectors by position", func(t *testing.T) {
		o := newOllama(t, &fakeOllama{modelStatus: http.StatusOK}, false)
		out, err := o.GenerateEmbeddings(context.Background(), items)
		if err != nil {
			t.Fatalf("GenerateEmbeddings() error = %v", err)
		}
		if len(out) != 3 {
			t.Fatalf("got %d vectors, want 3", len(out))
		}
		if out["c"][0] != 3 {
			t.Errorf("vector for c = %v, want first component 3", out["c"])
		}
	})

	t.Run("partial batch", func(t *testing.T) {
		o := newOllama(t, &fakeOllama{modelStatus: http.StatusOK, short: true}, false)
		out, err := o.GenerateEmbeddings(context.Background(), items)
		if err != nil {
			t.Fatalf("GenerateEmbeddings() error = %v", err)
		}
		if _, ok := out["c"]; ok || len(out) != 2 {
			t.Errorf("got %v, want a and b only", out)
		}
	})

	t.Run("server error", func(t *testing.T) {
		o := newOllama(t, &fakeOllama{modelStatus: http.StatusOK, embedStatus: http.StatusInternalServerError}, false)
		if _, err := o.GenerateEmbeddings(context.Background(), items); err == nil {
			t.Error("expected error for 500 response")
		}
	})

	t.Run("empty input", func(t *testing.T) {
		o := newOllama(t, &fakeOllama{modelStatus: http.StatusOK}, false)
		out, err := o.GenerateEmbeddings(context.Background(), nil)
		if err != nil || len(out) != 0 {
			t.Errorf("GenerateEmbeddings(nil) = %v, %v", out, err)
		}
	})
}

func TestOllamaBackendFeedsCache(t *testing.T) {
	o := newOllama(t, &fakeOllama{modelStatus: http.StatusOK}, false)
	c, _ := newTestCache(t, o)
	ctx := context.Background()

	if !c.IsAvailable(ctx) {
		t.Fatal("IsAvailable() = false, want true")
	}
	n, err := c.GenerateMissing(ctx, docs(4), TierCatalog, nil)
	if err != nil {
		t.Fatalf("GenerateMissing() error = %v", err)
	}
	if n != 4 {
		t.Errorf("generated = %d, want 4", n)
	}
}
