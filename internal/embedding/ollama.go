// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/breaker"
)

// OllamaConfig configures the Ollama HTTP backend.
type OllamaConfig struct {
	// URL is the Ollama base URL.
	URL string `koanf:"url" validate:"required,url"`

	// Model is the embedding model name.
	Model string `koanf:"model" validate:"required"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `koanf:"timeout" validate:"min=0"`

	// AutoPull pulls the model during Setup when it is missing.
	AutoPull bool `koanf:"auto_pull"`

	// Breaker guards every call to the backend.
	Breaker breaker.Settings `koanf:"breaker"`
}

// DefaultOllamaConfig targets a local Ollama with nomic-embed-text.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		URL:      "http://127.0.0.1:11434",
		Model:    "nomic-embed-text",
		Timeout:  60 * time.Second,
		AutoPull: false,
		Breaker:  breaker.DefaultSettings(),
	}
}

// OllamaBackend talks to an Ollama server over its REST API.
//
// Thread Safety: safe to call from multiple goroutines.
type OllamaBackend struct {
	cfg    OllamaConfig
	client *http.Client
	cb     *breaker.Breaker
	logger zerolog.Logger
}

// NewOllamaBackend creates a backend client.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewOllamaBackend(cfg OllamaConfig, logger zerolog.Logger) *OllamaBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OllamaBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cb:     breaker.New("embedding-backend", cfg.Breaker, logger),
		logger: logger.With().Str("component", "ollama").Logger(),
	}
}

type ollamaVersionResponse struct {
	Version string `json:"version"`
}

type ollamaModelRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// HealthCheck calls GET /api/version.
func (o *OllamaBackend) HealthCheck(ctx context.Context) (Health, error) {
	var resp ollamaVersionResponse
	status, err := o.do(ctx, http.MethodGet, "/api/version", nil, &resp)
	if err != nil {
		return Health{}, err
	}
	if status != http.StatusOK {
		return Health{}, fmt.Errorf("%w: version probe returned %d", ErrUnavailable, status)
	}
	return Health{Running: true, Version: resp.Version}, nil
}

// Setup checks the model with POST /api/show and pulls it if allowed.
func (o *OllamaBackend) Setup(ctx context.Context) (SetupResult, error) {
	status, err := o.do(ctx, http.MethodPost, "/api/show", ollamaModelRequest{Model: o.cfg.Model}, nil)
	if err != nil {
		return SetupResult{}, err
	}
	if status == http.StatusOK {
		return SetupResult{ModelReady: true}, nil
	}
	if status != http.StatusNotFound || !o.cfg.AutoPull {
		return SetupResult{Error: fmt.Sprintf("model %q not available (status %d)", o.cfg.Model, status)}, nil
	}

	o.logger.Info().Str("model", o.cfg.Model).Msg("pulling embedding model")
	status, err = o.do(ctx, http.MethodPost, "/api/pull", ollamaModelRequest{Model: o.cfg.Model, Stream: false}, nil)
	if err != nil {
		return SetupResult{}, err
	}
	if status != http.StatusOK {
		return SetupResult{Error: fmt.Sprintf("pull %q returned %d", o.cfg.Model, status)}, nil
	}
	return SetupResult{ModelReady: true}, nil
}

// GenerateEmbeddings calls POST /api/embed with every item text in one request.
func (o *OllamaBackend) GenerateEmbeddings(ctx context.Context, items []Item) (map[string][]float32, error) {
	if len(items) == 0 {
		return map[string][]float32{}, nil
	}

	req := ollamaEmbedRequest{Model: o.cfg.Model, Input: make([]string, len(items))}
	for i, it := range items {
		req.Input[i] = it.Text
	}

	var resp ollamaEmbedResponse
	status, err := o.do(ctx, http.MethodPost, "/api/embed", req, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("embed returned status %d", status)
	}

	out := make(map[string][]float32, len(items))
	for i, it := range items {
		if i >= len(resp.Embeddings) {
			break
		}
		if v := resp.Embeddings[i]; len(v) > 0 {
			out[it.ID] = v
		}
	}
	if len(out) < len(items) {
		o.logger.Warn().Int("requested", len(items)).Int("returned", len(out)).Msg("partial embedding batch")
	}
	return out, nil
}

// do sends one JSON request through the breaker. Transport failures and 5xx
// responses count against the breaker; other statuses are returned to the caller.
func (o *OllamaBackend) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	status, err := breaker.Do(o.cb, func() (int, error) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return 0, fmt.Errorf("marshal request: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		url := strings.TrimRight(o.cfg.URL, "/") + path
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return 0, fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := o.client.Do(req)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return resp.StatusCode, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(msg))
		}
		if resp.StatusCode == http.StatusOK && out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, fmt.Errorf("decode response: %w", err)
			}
		}
		return resp.StatusCode, nil
	})
	if breaker.IsRejected(err) {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return status, err
}
