// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/kvstore"
)

func newStore(t *testing.T) *kvstore.Store {
	t.Helper()
	s, err := kvstore.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func upperCase(_ context.Context, in []kvstore.Record) ([]kvstore.Record, error) {
	out := make([]kvstore.Record, len(in))
	for i, r := range in {
		out[i] = kvstore.Record{Key: r.Key, Value: []byte(`"` + r.Key + `-v2"`)}
	}
	return out, nil
}

func TestRunStampsEmptyCollection(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	r := NewRegistry(zerolog.Nop())
	r.Register("arms", 1, upperCase)

	if err := r.Run(ctx, s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if v, _ := s.Collection("arms").Version(ctx); v != 2 {
		t.Errorf("Version() = %d, want 2", v)
	}
}

func TestRunMigratesLegacyData(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	col := s.Collection("arms")
	if err := col.PutRaw(ctx, "hero", []byte(`"old"`)); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(zerolog.Nop())
	r.Register("arms", 1, upperCase)
	if err := r.Run(ctx, s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	raw, err := col.GetRaw(ctx, "hero")
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `"hero-v2"` {
		t.Errorf("migrated value = %s", raw)
	}

	// A second run is a no-op.
	calls := 0
	r2 := NewRegistry(zerolog.Nop())
	r2.Register("arms", 1, func(ctx context.Context, in []kvstore.Record) ([]kvstore.Record, error) {
		calls++
		return in, nil
	})
	if err := r2.Run(ctx, s); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("migration ran %d times on an up-to-date collection", calls)
	}
}

func TestRunNeverResavesEmptyResult(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	col := s.Collection("embeddings")
	if err := col.PutRaw(ctx, "steam-1", []byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := col.SetVersion(ctx, 1); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(zerolog.Nop())
	r.Register("embeddings", 1, func(context.Context, []kvstore.Record) ([]kvstore.Record, error) {
		return nil, nil
	})

	err := r.Run(ctx, s)
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("Run() error = %v, want ErrEmptyResult", err)
	}
	if n, _ := col.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want original record kept", n)
	}
	if v, _ := col.Version(ctx); v != 1 {
		t.Errorf("Version() = %d, want unchanged 1", v)
	}
}

func TestRunKeepsDataOnFailure(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	col := s.Collection("catalog")
	if err := col.PutRaw(ctx, "10", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(zerolog.Nop())
	r.Register("catalog", 1, func(context.Context, []kvstore.Record) ([]kvstore.Record, error) {
		return nil, errors.New("bad shape")
	})
	r.Declare("other")

	if err := r.Run(ctx, s); err == nil {
		t.Fatal("Run() error = nil, want failure")
	}
	if raw, err := col.GetRaw(ctx, "10"); err != nil || string(raw) != `{}` {
		t.Errorf("record changed after failed migration: %s, %v", raw, err)
	}
	if v, _ := s.Collection("other").Version(ctx); v != LegacyVersion {
		t.Errorf("independent collection Version() = %d, want %d", v, LegacyVersion)
	}
}
