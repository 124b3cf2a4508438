// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}

	if cfg.Reco.ResultTTL != 15*time.Minute {
		t.Errorf("Reco.ResultTTL = %v, want 15m", cfg.Reco.ResultTTL)
	}
	if cfg.Reco.BrowseTTL != 7*24*time.Hour {
		t.Errorf("Reco.BrowseTTL = %v, want 168h", cfg.Reco.BrowseTTL)
	}
	if cfg.Embedding.LibraryTTL != 7*24*time.Hour || cfg.Embedding.CatalogTTL != 90*24*time.Hour {
		t.Errorf("embedding TTLs = %v/%v, want 168h/2160h", cfg.Embedding.LibraryTTL, cfg.Embedding.CatalogTTL)
	}
	if cfg.Catalog.FreshFor != 24*time.Hour {
		t.Errorf("Catalog.FreshFor = %v, want 24h", cfg.Catalog.FreshFor)
	}
	if cfg.ANN.TopK != 5000 {
		t.Errorf("ANN.TopK = %d, want 5000", cfg.ANN.TopK)
	}
	if cfg.Server.Addr() != "127.0.0.1:7373" {
		t.Errorf("Server.Addr() = %q, want 127.0.0.1:7373", cfg.Server.Addr())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"in memory without path", func(c *Config) { c.Storage.Path = ""; c.Storage.InMemory = true }, ""},
		{"missing path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"mmr lambda", func(c *Config) { c.Worker.MMRLambda = 1.5 }, "worker.mmr_lambda"},
		{"zero result ttl", func(c *Config) { c.Reco.ResultTTL = 0 }, "reco.result_ttl"},
		{"bad catalog url", func(c *Config) { c.Catalog.Source.URL = "nope" }, "catalog.source.url"},
		{"ollama url required", func(c *Config) { c.Embedding.Ollama.URL = "" }, "embedding.ollama.url"},
		{"shelf minimum above size", func(c *Config) { c.Worker.MinShelfGames = 20 }, "worker.min_shelf_games"},
		{"ef construction below m", func(c *Config) { c.ANN.HNSW.EfConstruction = 4 }, "ann.hnsw.ef_construction"},
		{"negative sync interval", func(c *Config) { c.Catalog.SyncInterval = -time.Second }, "catalog.sync_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %s", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to mention %s", err, tt.wantErr)
			}
		})
	}
}

func TestANNPath(t *testing.T) {
	cfg := Default()
	cfg.Storage.Path = "/data"
	if got := cfg.ANNPath(); got != filepath.Join("/data", "ann", "index.json.zst") {
		t.Errorf("ANNPath() = %q", got)
	}

	cfg.ANN.Path = "/abs/index.zst"
	if got := cfg.ANNPath(); got != "/abs/index.zst" {
		t.Errorf("ANNPath() absolute = %q", got)
	}

	cfg.ANN.Path = "ann.zst"
	cfg.Storage.InMemory = true
	if got := cfg.ANNPath(); got != "" {
		t.Errorf("ANNPath() in memory = %q, want empty", got)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SHELFWISE_LOG_LEVEL", "logging.level"},
		{"SHELFWISE_OLLAMA_URL", "embedding.ollama.url"},
		{"SHELFWISE_CATALOG_MIN_REVIEWS", "catalog.filter.min_reviews"},
		{"SHELFWISE_WORKER_IDLE_TIMEOUT", "reco.worker_idle_timeout"},
		{"SHELFWISE_SOMETHING_ELSE", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := envTransformFunc(tt.in); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shelfwise.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadFrom_Layers(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: /tmp/shelfwise-test
logging:
  level: debug
reco:
  result_ttl: 30m
catalog:
  source:
    url: https://catalog.example.com
  filter:
    min_reviews: 25
`)
	t.Setenv("SHELFWISE_LOG_LEVEL", "warn")
	t.Setenv("SHELFWISE_HTTP_PORT", "8080")
	t.Setenv("SHELFWISE_BANDIT_SEED", "99")
	t.Setenv("SHELFWISE_GC_INTERVAL", "30m")
	t.Setenv("SHELFWISE_NOT_MAPPED", "ignored")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want env override warn", cfg.Logging.Level)
	}
	if cfg.Storage.Path != "/tmp/shelfwise-test" {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Reco.ResultTTL != 30*time.Minute {
		t.Errorf("Reco.ResultTTL = %v, want 30m", cfg.Reco.ResultTTL)
	}
	if cfg.Catalog.Source.URL != "https://catalog.example.com" {
		t.Errorf("Catalog.Source.URL = %q", cfg.Catalog.Source.URL)
	}
	if cfg.Catalog.Filter.MinReviews != 25 {
		t.Errorf("Catalog.Filter.MinReviews = %d, want 25", cfg.Catalog.Filter.MinReviews)
	}
	if cfg.Catalog.Filter.MaxResults != 25000 {
		t.Errorf("Catalog.Filter.MaxResults = %d, want default 25000", cfg.Catalog.Filter.MaxResults)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.GCInterval != 30*time.Minute {
		t.Errorf("Storage.GCInterval = %v, want 30m", cfg.Storage.GCInterval)
	}
	if cfg.Bandit.Seed != 99 {
		t.Errorf("Bandit.Seed = %d, want 99", cfg.Bandit.Seed)
	}
	if cfg.Logging.Output == nil {
		t.Error("Logging.Output not set")
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	path := writeConfig(t, "worker:\n  mmr_lambda: 3\n")
	if _, err := LoadFrom(path); err == nil || !strings.Contains(err.Error(), "worker.mmr_lambda") {
		t.Errorf("LoadFrom() error = %v, want mmr_lambda validation error", err)
	}

	bad := writeConfig(t, "storage: [unclosed\n")
	if _, err := LoadFrom(bad); err == nil {
		t.Error("LoadFrom() with malformed YAML returned nil error")
	}
}

func TestLoad_ConfigPathEnv(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9191\n")
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}

	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("Load() with a missing SHELFWISE_CONFIG file returned nil error")
	}
}
