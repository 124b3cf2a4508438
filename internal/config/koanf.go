// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "SHELFWISE_CONFIG"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHELFWISE_"

// DefaultConfigPaths are searched in order when ConfigPathEnvVar is unset.
var DefaultConfigPaths = []string{
	"shelfwise.yaml",
	"shelfwise.yml",
	"/etc/shelfwise/shelfwise.yaml",
}

// Load reads defaults, then the config file, then the environment, and
// validates the result.
func Load() (*Config, error) {
	path, err := findConfigFile()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit config file. An empty path skips the
// file layer.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	// Not loadable from any source.
	cfg.Logging.Output = os.Stderr

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the file to load, or "" when none exists. A path
// named by ConfigPathEnvVar must exist.
func findConfigFile() (string, error) {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config file from %s: %w", ConfigPathEnvVar, err)
		}
		return p, nil
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// envMappings maps lower-cased variable names, without the prefix, to koanf
// keys.
var envMappings = map[string]string{
	"data_dir":         "storage.path",
	"in_memory":        "storage.in_memory",
	"migrate_on_start": "storage.migrate_on_start",
	"library_file":     "storage.library_file",
	"gc_interval":      "storage.gc_interval",

	"http_enabled":          "server.enabled",
	"http_addr":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",

	"embedding_enabled":      "embedding.enabled",
	"embedding_batch_size":   "embedding.batch_size",
	"embedding_library_ttl":  "embedding.library_ttl",
	"embedding_catalog_ttl":  "embedding.catalog_ttl",
	"embedding_notes_max":    "embedding.notes_max_chars",
	"ollama_url":             "embedding.ollama.url",
	"ollama_model":           "embedding.ollama.model",
	"ollama_timeout":         "embedding.ollama.timeout",
	"ollama_auto_pull":       "embedding.ollama.auto_pull",
	"ollama_breaker_timeout": "embedding.ollama.breaker.timeout",

	"ann_path":                 "ann.path",
	"ann_top_k":                "ann.top_k",
	"ann_backfill_batch_size":  "ann.backfill_batch_size",
	"ann_save_interval":        "ann.save_interval",
	"ann_hnsw_m":               "ann.hnsw.m",
	"ann_hnsw_ef_construction": "ann.hnsw.ef_construction",
	"ann_hnsw_ef_search":       "ann.hnsw.ef_search",
	"ann_hnsw_seed":            "ann.hnsw.seed",

	"catalog_fresh_for":                 "catalog.fresh_for",
	"catalog_batch_size":                "catalog.batch_size",
	"catalog_concurrency":               "catalog.concurrency",
	"catalog_sync_interval":             "catalog.sync_interval",
	"catalog_min_reviews":               "catalog.filter.min_reviews",
	"catalog_min_positivity":            "catalog.filter.min_positivity",
	"catalog_max_results":               "catalog.filter.max_results",
	"catalog_popularity_escape_reviews": "catalog.filter.popularity_escape_reviews",
	"catalog_top_genres":                "catalog.filter.top_genres",
	"catalog_url":                       "catalog.source.url",
	"catalog_rps":                       "catalog.source.requests_per_second",
	"catalog_burst":                     "catalog.source.burst",
	"catalog_timeout":                   "catalog.source.timeout",

	"result_ttl":            "reco.result_ttl",
	"browse_ttl":            "reco.browse_ttl",
	"worker_idle_timeout":   "reco.worker_idle_timeout",
	"enrichment_cap":        "reco.enrichment_cap",
	"max_worker_candidates": "reco.max_worker_candidates",

	"shelf_size":      "worker.shelf_size",
	"min_shelf_games": "worker.min_shelf_games",
	"mmr_lambda":      "worker.mmr_lambda",
	"genre_shelves":   "worker.genre_shelves",

	"bandit_seed":           "bandit.seed",
	"bandit_impression_ttl": "bandit.impression_ttl",

	"compute_accelerated": "compute.accelerated",
	"compute_workers":     "compute.workers",
}

func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
