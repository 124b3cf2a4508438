// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package embedding

import (
	"sync"
	"time"

	"github.com/tomtom215/shelfwise/internal/metrics"
)

type liveVector struct {
	vec []float32

	// stampMs is the record timestamp in epoch ms.
	stampMs int64
}

// Vectors is the live id -> vector map shared by every consumer of the
// embedding cache. Writers always merge; nothing replaces the map wholesale,
// so concurrent generation and enrichment runs cannot clobber each other.
//
// A tier with a TTL hides entries whose record is at least that old: every
// read treats them as absent, and Prune drops them.
type Vectors struct {
	mu    sync.RWMutex
	tiers map[Tier]map[string]liveVector
	ttl   map[Tier]time.Duration
	now   func() time.Time
}

// NewVectors creates an empty handle whose entries never expire.
func NewVectors() *Vectors {
	return newVectors(nil, time.Now)
}

func newVectors(ttl map[Tier]time.Duration, now func() time.Time) *Vectors {
	v := &Vectors{
		tiers: make(map[Tier]map[string]liveVector, len(Tiers)),
		ttl:   ttl,
		now:   now,
	}
	for _, t := range Tiers {
		v.tiers[t] = make(map[string]liveVector)
	}
	return v
}

// cutoffs returns, per tier, the oldest live timestamp. Zero means no expiry.
// Caller must hold v.mu.
func (v *Vectors) cutoffs() map[Tier]int64 {
	out := make(map[Tier]int64, len(Tiers))
	if len(v.ttl) == 0 {
		return out
	}
	nowMs := v.now().UnixMilli()
	for t, ttl := range v.ttl {
		if ttl > 0 {
			// live while now - stamp < ttl
			out[t] = nowMs - ttl.Milliseconds() + 1
		}
	}
	return out
}

func live(e liveVector, cutoff int64) bool {
	return cutoff == 0 || e.stampMs >= cutoff
}

// Get returns the vector for id, preferring the library tier.
func (v *Vectors) Get(id string) ([]float32, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	cut := v.cutoffs()
	for _, t := range Tiers {
		if e, ok := v.tiers[t][id]; ok && live(e, cut[t]) {
			return e.vec, true
		}
	}
	return nil, false
}

// GetTier returns the vector for id from one tier only.
func (v *Vectors) GetTier(tier Tier, id string) ([]float32, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.tiers[tier][id]
	if !ok || !live(e, v.cutoffs()[tier]) {
		return nil, false
	}
	return e.vec, true
}

// Merge adds or overwrites entries of one tier, stamped now.
func (v *Vectors) Merge(tier Tier, entries map[string][]float32) {
	if len(entries) == 0 {
		return
	}
	nowMs := v.now().UnixMilli()
	stamps := make(map[string]int64, len(entries))
	for id := range entries {
		stamps[id] = nowMs
	}
	v.mergeStamped(tier, entries, stamps)
}

// mergeStamped adds entries with their record timestamps.
func (v *Vectors) mergeStamped(tier Tier, entries map[string][]float32, stamps map[string]int64) {
	if len(entries) == 0 {
		return
	}
	v.mu.Lock()
	m := v.tiers[tier]
	for id, vec := range entries {
		m[id] = liveVector{vec: vec, stampMs: stamps[id]}
	}
	n := len(m)
	v.mu.Unlock()

	metrics.EmbeddingsCached.WithLabelValues(string(tier)).Set(float64(n))
}

// Prune deletes expired entries of tier and returns how many were removed.
func (v *Vectors) Prune(tier Tier) int {
	v.mu.Lock()
	cut := v.cutoffs()[tier]
	removed := 0
	m := v.tiers[tier]
	for id, e := range m {
		if !live(e, cut) {
			delete(m, id)
			removed++
		}
	}
	n := len(m)
	v.mu.Unlock()

	if removed > 0 {
		metrics.EmbeddingsCached.WithLabelValues(string(tier)).Set(float64(n))
	}
	return removed
}

// Snapshot returns a copy of the merged live view; library entries win over
// catalog entries for the same id. Vectors themselves are shared, not copied,
// and must be treated as read-only.
func (v *Vectors) Snapshot() map[string][]float32 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	cut := v.cutoffs()
	out := make(map[string][]float32, len(v.tiers[TierLibrary])+len(v.tiers[TierCatalog]))
	for i := len(Tiers) - 1; i >= 0; i-- {
		t := Tiers[i]
		for id, e := range v.tiers[t] {
			if live(e, cut[t]) {
				out[id] = e.vec
			}
		}
	}
	return out
}

// TierSnapshot returns a copy of one tier's live entries.
func (v *Vectors) TierSnapshot(tier Tier) map[string][]float32 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	cut := v.cutoffs()[tier]
	out := make(map[string][]float32, len(v.tiers[tier]))
	for id, e := range v.tiers[tier] {
		if live(e, cut) {
			out[id] = e.vec
		}
	}
	return out
}

// Len returns the number of live vectors held for tier.
func (v *Vectors) Len(tier Tier) int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	cut := v.cutoffs()[tier]
	if cut == 0 {
		return len(v.tiers[tier])
	}
	n := 0
	for _, e := range v.tiers[tier] {
		if live(e, cut) {
			n++
		}
	}
	return n
}

// Has reports whether any tier holds a live vector for id.
func (v *Vectors) Has(id string) bool {
	_, ok := v.Get(id)
	return ok
}
