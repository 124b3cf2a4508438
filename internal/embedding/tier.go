// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package embedding

import "fmt"

// Tier selects one of the two embedding caches.
type Tier string

const (
	// TierLibrary holds personalized embeddings of owned games, notes included.
	TierLibrary Tier = "library"

	// TierCatalog holds generic metadata-only embeddings of catalog games.
	TierCatalog Tier = "catalog"
)

// Tiers lists every tier in lookup priority order.
var Tiers = []Tier{TierLibrary, TierCatalog}

// Collection returns the store collection backing the tier.
func (t Tier) Collection() string {
	return "embeddings_" + string(t)
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierLibrary || t == TierCatalog
}

// ParseTier converts a string into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown embedding tier %q", s)
	}
	return t, nil
}

// Record is one persisted embedding. It is valid while now-Timestamp < TTL.
type Record struct {
	ID        string    `json:"id"`
	Vector    []float32 `json:"vector"`
	TextHash  string    `json:"textHash"`
	Timestamp int64     `json:"timestamp"` // epoch ms
}
