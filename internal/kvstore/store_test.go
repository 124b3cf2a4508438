// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type testRecord struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCollectionGetPut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	col := s.Collection("things")

	t.Run("missing key returns ErrNotFound", func(t *testing.T) {
		var rec testRecord
		if err := col.Get(ctx, "nope", &rec); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("round trips a record", func(t *testing.T) {
		if err := col.Put(ctx, "a", testRecord{Name: "alpha", Count: 3}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		var rec testRecord
		if err := col.Get(ctx, "a", &rec); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if rec.Name != "alpha" || rec.Count != 3 {
			t.Errorf("Get() = %+v", rec)
		}
	})

	t.Run("corrupt record is tagged", func(t *testing.T) {
		if err := col.PutRaw(ctx, "bad", []byte("{not json")); err != nil {
			t.Fatalf("PutRaw() error = %v", err)
		}
		var rec testRecord
		if err := col.Get(ctx, "bad", &rec); !errors.Is(err, ErrCorrupt) {
			t.Errorf("Get() error = %v, want ErrCorrupt", err)
		}
	})
}

func TestCollectionsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := s.Collection("catalog")
	b := s.Collection("catalog_meta")

	if err := a.Put(ctx, "1", testRecord{Name: "one"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Put(ctx, "state", testRecord{Name: "meta"}); err != nil {
		t.Fatal(err)
	}

	if n, _ := a.Count(ctx); n != 1 {
		t.Errorf("catalog Count() = %d, want 1", n)
	}
	if err := a.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := a.Count(ctx); n != 0 {
		t.Errorf("catalog Count() after Clear = %d, want 0", n)
	}
	if n, _ := b.Count(ctx); n != 1 {
		t.Errorf("catalog_meta Count() = %d, want 1 (must survive sibling Clear)", n)
	}
}

func TestScanEarlyExit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	col := s.Collection("scan")

	values := make(map[string]interface{})
	for i := 0; i < 10; i++ {
		values[fmt.Sprintf("k%02d", i)] = testRecord{Count: i}
	}
	if err := col.PutMany(ctx, values); err != nil {
		t.Fatalf("PutMany() error = %v", err)
	}

	var seen []string
	err := col.Scan(ctx, func(key string, _ []byte) (bool, error) {
		seen = append(seen, key)
		return len(seen) < 3, nil
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("Scan() visited %d keys, want 3", len(seen))
	}
	if seen[0] != "k00" || seen[2] != "k02" {
		t.Errorf("Scan() order = %v, want ascending keys", seen)
	}
}

func TestVersionStamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	col := s.Collection("versioned")

	if v, err := col.Version(ctx); err != nil || v != 0 {
		t.Fatalf("Version() = %d, %v; want 0, nil", v, err)
	}
	if err := col.SetVersion(ctx, 4); err != nil {
		t.Fatal(err)
	}
	if err := col.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if v, _ := col.Version(ctx); v != 4 {
		t.Errorf("Version() after Clear = %d, want 4", v)
	}
}

func TestClosedStore(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	col := s.Collection("x")
	_ = s.Close()

	if err := col.Put(context.Background(), "a", 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Put() on closed store error = %v, want ErrClosed", err)
	}
	if err := s.RunGC(0.5); !errors.Is(err, ErrClosed) {
		t.Errorf("RunGC() on closed store error = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRunGCInMemory(t *testing.T) {
	s := newTestStore(t)
	if err := s.RunGC(0.5); err != nil {
		t.Errorf("RunGC() in memory error = %v, want nil", err)
	}
}
