// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package catalog

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
	"golang.org/x/time/rate"

	"github.com/tomtom215/shelfwise/internal/breaker"
)

// AppRef is one row of the full catalog id list.
type AppRef struct {
	AppID int    `json:"appId"`
	Name  string `json:"name"`
}

// RawItem is one fetched catalog item. Only items that both succeeded and are
// visible enter the store.
type RawItem struct {
	AppID   int   `json:"appId"`
	Success bool  `json:"success"`
	Visible bool  `json:"visible"`
	Data    Entry `json:"data"`
}

// Tag is one tag dictionary row.
type Tag struct {
	ID   int    `json:"tagId"`
	Name string `json:"name"`
}

// Source is the external catalog data source.
type Source interface {
	GetAppIDs(ctx context.Context) ([]AppRef, error)
	FetchBatch(ctx context.Context, appIDs []int) ([]RawItem, error)
	GetTagList(ctx context.Context) ([]Tag, error)
}

// SourceConfig configures the HTTP catalog source.
type SourceConfig struct {
	// URL is the catalog service base URL.
	URL string `koanf:"url" validate:"omitempty,url"`

	// RequestsPerSecond caps outbound requests across all sync workers.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gt=0"`

	// Burst is the limiter bucket size.
	Burst int `koanf:"burst" validate:"min=1"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `koanf:"timeout" validate:"min=0"`

	// UserAgent is sent with every request.
	UserAgent string `koanf:"user_agent"`

	Breaker breaker.Settings `koanf:"breaker"`
}

// DefaultSourceConfig returns conservative client defaults.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		URL:               "",
		RequestsPerSecond: 20,
		Burst:             50,
		Timeout:           30 * time.Second,
		UserAgent:         "shelfwise/1.0",
		Breaker:           breaker.DefaultSettings(),
	}
}

// HTTPSource reads the catalog from a JSON HTTP service:
//
//	GET  /apps        -> []AppRef
//	POST /apps/batch  -> []RawItem   body: {"appIds": [...]}
//	GET  /tags        -> []Tag
type HTTPSource struct {
	cfg     SourceConfig
	client  *http.Client
	limiter *rate.Limiter
	cb      *breaker.Breaker
	logger  zerolog.Logger
}

// NewHTTPSource creates a rate-limited, breaker-guarded catalog client.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewHTTPSource(cfg SourceConfig, logger zerolog.Logger) *HTTPSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &HTTPSource{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cb:      breaker.New("catalog-source", cfg.Breaker, logger),
		logger:  logger.With().Str("component", "catalog-source").Logger(),
	}
}

// GetAppIDs fetches the full id list.
func (s *HTTPSource) GetAppIDs(ctx context.Context) ([]AppRef, error) {
	var out []AppRef
	if err := s.call(ctx, http.MethodGet, "/apps", nil, &out); err != nil {
		return nil, fmt.Errorf("get app ids: %w", err)
	}
	return out, nil
}

// FetchBatch fetches full records for appIDs.
func (s *HTTPSource) FetchBatch(ctx context.Context, appIDs []int) ([]RawItem, error) {
	var out []RawItem
	body := struct {
		AppIDs []int `json:"appIds"`
	}{AppIDs: appIDs}
	if err := s.call(ctx, http.MethodPost, "/apps/batch", body, &out); err != nil {
		return nil, fmt.Errorf("fetch batch of %d: %w", len(appIDs), err)
	}
	return out, nil
}

// GetTagList fetches the tag dictionary.
func (s *HTTPSource) GetTagList(ctx context.Context) ([]Tag, error) {
	var out []Tag
	if err := s.call(ctx, http.MethodGet, "/tags", nil, &out); err != nil {
		return nil, fmt.Errorf("get tag list: %w", err)
	}
	return out, nil
}

func (s *HTTPSource) call(ctx context.Context, method, path string, body, out interface{}) error {
	if s.cfg.URL == "" {
		return fmt.Errorf("catalog source url not configured")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("marshal request: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.cfg.URL, "/")+path, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if s.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", s.cfg.UserAgent)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(msg))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	return err
}
