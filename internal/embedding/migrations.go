// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package embedding

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfwise/internal/kvstore"
	"github.com/tomtom215/shelfwise/internal/kvstore/migrate"
)

// secondsCutoff separates epoch-second timestamps from epoch-millisecond ones.
const secondsCutoff = 1_000_000_000_000

type legacyRecord struct {
	ID        string    `json:"id"`
	Vector    []float64 `json:"vector"`
	TextHash  string    `json:"textHash"`
	Timestamp float64   `json:"timestamp"`
}

// RegisterMigrations adds the embedding collection migrations to r.
func RegisterMigrations(r *migrate.Registry) {
	for _, t := range Tiers {
		r.Register(t.Collection(), 1, migrateV1ToV2)
	}
}

// migrateV1ToV2 converts second-resolution timestamps to milliseconds and
// float64 vectors to float32. Unreadable records are dropped.
func migrateV1ToV2(_ context.Context, in []kvstore.Record) ([]kvstore.Record, error) {
	out := make([]kvstore.Record, 0, len(in))
	for _, r := range in {
		var old legacyRecord
		if err := json.Unmarshal(r.Value, &old); err != nil || len(old.Vector) == 0 {
			continue
		}

		ts := int64(old.Timestamp)
		if ts < secondsCutoff {
			ts *= 1000
		}
		vec := make([]float32, len(old.Vector))
		for i, x := range old.Vector {
			vec[i] = float32(x)
		}
		id := old.ID
		if id == "" {
			id = r.Key
		}

		data, err := json.Marshal(Record{ID: id, Vector: vec, TextHash: old.TextHash, Timestamp: ts})
		if err != nil {
			return nil, err
		}
		out = append(out, kvstore.Record{Key: id, Value: data})
	}
	return out, nil
}
