// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package bandit

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfwise/internal/kvstore"
	"github.com/tomtom215/shelfwise/internal/kvstore/migrate"
)

type legacyArm struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

// RegisterMigrations adds the arm-state migrations to r.
func RegisterMigrations(r *migrate.Registry) {
	r.Register(Collection, 1, migrateV1ToV2)
}

// migrateV1ToV2 turns win/loss counters into Beta posteriors with a
// uniform prior.
func migrateV1ToV2(_ context.Context, in []kvstore.Record) ([]kvstore.Record, error) {
	out := make([]kvstore.Record, 0, len(in))
	for _, r := range in {
		var old legacyArm
		if err := json.Unmarshal(r.Value, &old); err != nil || old.Wins < 0 || old.Losses < 0 {
			continue
		}
		data, err := json.Marshal(Arm{
			Alpha:       float64(old.Wins) + 1,
			Beta:        float64(old.Losses) + 1,
			Impressions: old.Wins + old.Losses,
			Clicks:      old.Wins,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, kvstore.Record{Key: r.Key, Value: data})
	}
	return out, nil
}
