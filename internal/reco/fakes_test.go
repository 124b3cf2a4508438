// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package reco

import (
	"context"
	"errors"
	"sync"

	"github.com/tomtom215/shelfwise/internal/ann"
	"github.com/tomtom215/shelfwise/internal/catalog"
)

var errFakeSource = errors.New("fake source failure")

type fakeCatalog struct {
	mu       sync.Mutex
	entries  []catalog.Entry
	queryErr error
	getErr   error
	queries  []catalog.Query
}

func (f *fakeCatalog) QueryForCandidates(_ context.Context, q catalog.Query) ([]catalog.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []catalog.Entry
	for _, e := range f.entries {
		if _, skip := q.ExcludeIDs[e.GameID()]; skip {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeCatalog) GetEntries(_ context.Context, appIDs []int) ([]catalog.Entry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	want := make(map[int]bool, len(appIDs))
	for _, id := range appIDs {
		want[id] = true
	}
	// Catalog order, not request order.
	var out []catalog.Entry
	for _, e := range f.entries {
		if want[e.AppID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeCatalog) lastQuery() catalog.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return catalog.Query{}
	}
	return f.queries[len(f.queries)-1]
}

type fakeIndex struct {
	ready     bool
	neighbors []ann.Neighbor
	err       error

	mu      sync.Mutex
	queries int
}

func (f *fakeIndex) IsReady() bool { return f.ready }

func (f *fakeIndex) Query(_ context.Context, _ []float32, k int) ([]ann.Neighbor, error) {
	f.mu.Lock()
	f.queries++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if k > 0 && len(f.neighbors) > k {
		return f.neighbors[:k], nil
	}
	return f.neighbors, nil
}

func (f *fakeIndex) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

type fakeBrowse struct {
	entries []catalog.Entry
	err     error
}

func (f *fakeBrowse) Entries(context.Context) ([]catalog.Entry, error) {
	return f.entries, f.err
}

func entry(appID int, name string, genres ...string) catalog.Entry {
	return catalog.Entry{AppID: appID, Name: name, Genres: genres, ReviewCount: 500, ReviewPositivity: 0.9}
}
