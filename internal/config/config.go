// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tomtom215/shelfwise/internal/ann"
	"github.com/tomtom215/shelfwise/internal/bandit"
	"github.com/tomtom215/shelfwise/internal/catalog"
	"github.com/tomtom215/shelfwise/internal/compute"
	"github.com/tomtom215/shelfwise/internal/embedding"
	"github.com/tomtom215/shelfwise/internal/logging"
	"github.com/tomtom215/shelfwise/internal/reco"
	"github.com/tomtom215/shelfwise/internal/reco/worker"
	"github.com/tomtom215/shelfwise/internal/supervisor"
)

// Config is the complete shelfd configuration. It is immutable after Load
// and safe for concurrent reads.
type Config struct {
	Storage    StorageConfig         `koanf:"storage"`
	Server     ServerConfig          `koanf:"server"`
	Logging    logging.Config        `koanf:"logging"`
	Supervisor supervisor.TreeConfig `koanf:"supervisor"`
	Embedding  embedding.Config      `koanf:"embedding"`
	ANN        ann.Config            `koanf:"ann"`
	Catalog    catalog.Config        `koanf:"catalog"`
	Reco       reco.Config           `koanf:"reco"`
	Worker     worker.Config         `koanf:"worker"`
	Bandit     bandit.Config         `koanf:"bandit"`
	Compute    compute.Config        `koanf:"compute"`
}

// StorageConfig locates the persistent store.
type StorageConfig struct {
	// Path is the badger directory. Relative artifact paths (the ANN index)
	// resolve against it.
	Path string `koanf:"path"`

	// InMemory keeps everything in memory. Nothing survives a restart.
	InMemory bool `koanf:"in_memory"`

	// MigrateOnStart runs pending collection migrations before serving.
	MigrateOnStart bool `koanf:"migrate_on_start"`

	// LibraryFile is a JSON array of library games read on every compute.
	// Empty means an empty library.
	LibraryFile string `koanf:"library_file"`

	// GCInterval is how often badger value-log GC runs. Zero disables it.
	GCInterval time.Duration `koanf:"gc_interval" validate:"min=0"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port" validate:"min=1,max=65535"`

	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ANNPath returns the ANN artifact path, resolved against the storage path
// when relative. It is empty for in-memory storage with a relative path.
func (c *Config) ANNPath() string {
	p := c.ANN.Path
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if c.Storage.InMemory {
		return ""
	}
	return filepath.Join(c.Storage.Path, p)
}

// String summarizes the configuration for the startup log.
func (c *Config) String() string {
	return fmt.Sprintf("storage=%s in_memory=%t server=%s embedding=%t catalog_source=%t",
		c.Storage.Path, c.Storage.InMemory, c.Server.Addr(), c.Embedding.Enabled, c.Catalog.Source.URL != "")
}

// defaultConfig returns the defaults every other source overrides.
func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:           "/var/lib/shelfwise",
			MigrateOnStart: true,
			GCInterval:     time.Hour,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            7373,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging:    logging.DefaultConfig(),
		Supervisor: supervisor.DefaultTreeConfig(),
		Embedding:  embedding.DefaultConfig(),
		ANN:        ann.DefaultConfig(),
		Catalog:    catalog.DefaultConfig(),
		Reco:       reco.DefaultConfig(),
		Worker:     worker.DefaultConfig(),
		Bandit:     bandit.DefaultConfig(),
		Compute:    compute.DefaultConfig(),
	}
}

// Default returns the default configuration without reading any source.
func Default() *Config {
	return defaultConfig()
}
