// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

// Package kvstore is the embedded, versioned, multi-collection key-value
// store every Shelfwise component persists into. It is a thin layer over
// BadgerDB: a collection is a key prefix, scans are forward iterator cursors,
// and each collection carries its own schema version.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrCorrupt wraps decode failures of a stored record.
	ErrCorrupt = errors.New("kvstore: corrupt record")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("kvstore: store closed")
)

const (
	keySeparator  = "/"
	schemaPrefix  = "__schema" + keySeparator
	reservedStart = "__"
)

// Options configures the underlying BadgerDB instance.
type Options struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string `koanf:"path"`

	// InMemory keeps all data in RAM. Used by tests.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites fsyncs every write.
	SyncWrites bool `koanf:"sync_writes"`

	// Compression enables Snappy block compression.
	Compression bool `koanf:"compression"`
}

// Store is the persistent store handle. It is safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
	closed atomic.Bool
}

// Open opens (or creates) a store.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func Open(opts Options, logger zerolog.Logger) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, fmt.Errorf("kvstore: path is required")
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts.SyncWrites = opts.SyncWrites
	if opts.Compression {
		bopts.Compression = options.Snappy
	}
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logger.Info().
		Str("path", opts.Path).
		Bool("in_memory", opts.InMemory).
		Msg("kvstore opened")

	return &Store{db: db, logger: logger.With().Str("component", "kvstore").Logger()}, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true}, zerolog.Nop())
}

// Close flushes and closes the store. Subsequent calls are no-ops.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// Collection returns a handle to a named collection. Names must not start
// with "__" or contain the key separator.
func (s *Store) Collection(name string) *Collection {
	if name == "" || strings.HasPrefix(name, reservedStart) || strings.Contains(name, keySeparator) {
		panic(fmt.Sprintf("kvstore: invalid collection name %q", name))
	}
	return &Collection{store: s, name: name, prefix: []byte(name + keySeparator)}
}

// RunGC runs one round of value-log garbage collection.
// badger.ErrNoRewrite means there was nothing to collect.
func (s *Store) RunGC(discardRatio float64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// Record is a raw key/value pair within one collection.
type Record struct {
	Key   string
	Value []byte
}

// Collection is a keyed namespace inside the store.
type Collection struct {
	store  *Store
	name   string
	prefix []byte
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) key(k string) []byte {
	out := make([]byte, 0, len(c.prefix)+len(k))
	out = append(out, c.prefix...)
	return append(out, k...)
}

func (c *Collection) check(ctx context.Context) error {
	if c.store.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// GetRaw returns the stored bytes for key, or ErrNotFound.
func (c *Collection) GetRaw(ctx context.Context, key string) ([]byte, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	var out []byte
	err := c.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get decodes the JSON record stored under key into v.
func (c *Collection) Get(ctx context.Context, key string, v interface{}) error {
	raw, err := c.GetRaw(ctx, key)
	if err != nil {
		return err
	}
	return Decode(key, raw, v)
}

// Put JSON-encodes v and stores it under key.
func (c *Collection) Put(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", c.name, key, err)
	}
	return c.PutRaw(ctx, key, data)
}

// PutRaw stores raw bytes under key.
func (c *Collection) PutRaw(ctx context.Context, key string, value []byte) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(c.key(key), value)
	})
}

// PutMany JSON-encodes and stores every value in one write batch.
func (c *Collection) PutMany(ctx context.Context, values map[string]interface{}) error {
	records := make([]Record, 0, len(values))
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s/%s: %w", c.name, k, err)
		}
		records = append(records, Record{Key: k, Value: data})
	}
	return c.Apply(ctx, records, nil)
}

// Apply writes puts and deletes through a single BadgerDB write batch.
// Batches larger than one transaction are split transparently.
func (c *Collection) Apply(ctx context.Context, puts []Record, deletes []string) error {
	if err := c.check(ctx); err != nil {
		return err
	}

	wb := c.store.db.NewWriteBatch()
	defer wb.Cancel()

	for _, r := range puts {
		if err := wb.Set(c.key(r.Key), r.Value); err != nil {
			return fmt.Errorf("batch set %s/%s: %w", c.name, r.Key, err)
		}
	}
	for _, k := range deletes {
		if err := wb.Delete(c.key(k)); err != nil {
			return fmt.Errorf("batch delete %s/%s: %w", c.name, k, err)
		}
	}
	return wb.Flush()
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Collection) Delete(ctx context.Context, key string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.store.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(c.key(key))
	})
}

// Scan walks the collection in key order with a forward cursor. fn receives
// a copy of each value; returning false stops the scan early.
func (c *Collection) Scan(ctx context.Context, fn func(key string, value []byte) (bool, error)) error {
	if err := c.check(ctx); err != nil {
		return err
	}

	return c.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = c.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			key := string(item.Key()[len(c.prefix):])
			cont, err := fn(key, val)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// Keys returns every key in the collection without reading values.
func (c *Collection) Keys(ctx context.Context) ([]string, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	var keys []string
	err := c.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = c.prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(c.prefix):]))
		}
		return nil
	})
	return keys, err
}

// Count returns the number of records in the collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	keys, err := c.Keys(ctx)
	return len(keys), err
}

// Clear removes every record in the collection. The schema version is kept.
func (c *Collection) Clear(ctx context.Context) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.store.db.DropPrefix(c.prefix)
}

// Version returns the collection's schema version, or 0 if never stamped.
func (c *Collection) Version(ctx context.Context) (int, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}

	var version int
	err := c.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaPrefix + c.name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := strconv.Atoi(string(val))
			if err != nil {
				return fmt.Errorf("%w: schema version for %s", ErrCorrupt, c.name)
			}
			version = v
			return nil
		})
	})
	return version, err
}

// SetVersion stamps the collection's schema version.
func (c *Collection) SetVersion(ctx context.Context, version int) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaPrefix+c.name), []byte(strconv.Itoa(version)))
	})
}

// Decode unmarshals a stored JSON record, tagging failures with ErrCorrupt
// so callers can discard the single record instead of aborting a load.
func Decode(key string, raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}
