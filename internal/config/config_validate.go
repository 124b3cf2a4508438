// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package config

import (
	"errors"
	"fmt"

	"github.com/tomtom215/shelfwise/internal/validation"
)

// Validate checks struct tags on every section, then the rules that span
// fields.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	checks := []func() error{
		c.validateStorage,
		c.validateWorker,
		c.validateANN,
		c.validateCatalog,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return errors.New("storage.path is required unless storage.in_memory is set")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.MinShelfGames > c.Worker.ShelfSize {
		return fmt.Errorf("worker.min_shelf_games (%d) must not exceed worker.shelf_size (%d)",
			c.Worker.MinShelfGames, c.Worker.ShelfSize)
	}
	return nil
}

func (c *Config) validateANN() error {
	if c.ANN.HNSW.EfConstruction < c.ANN.HNSW.M {
		return fmt.Errorf("ann.hnsw.ef_construction (%d) must be at least ann.hnsw.m (%d)",
			c.ANN.HNSW.EfConstruction, c.ANN.HNSW.M)
	}
	return nil
}

func (c *Config) validateCatalog() error {
	if c.Catalog.SyncInterval < 0 {
		return errors.New("catalog.sync_interval must not be negative")
	}
	if c.Catalog.SyncInterval > 0 && c.Catalog.SyncInterval < c.Catalog.ProgressInterval {
		return errors.New("catalog.sync_interval must be longer than catalog.progress_interval")
	}
	return nil
}
