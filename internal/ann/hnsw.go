// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package ann

import (
	"container/heap"
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/tomtom215/shelfwise/internal/vector"
)

// HNSWConfig holds the graph construction and search parameters.
type HNSWConfig struct {
	// M is the maximum number of links per node per layer.
	M int `koanf:"m" validate:"min=2,max=128"`

	// EfConstruction is the candidate list size used while inserting.
	EfConstruction int `koanf:"ef_construction" validate:"min=1"`

	// EfSearch is the minimum candidate list size used while searching.
	// Queries widen it to k when k is larger.
	EfSearch int `koanf:"ef_search" validate:"min=1"`

	// Seed makes level assignment reproducible. Zero picks a fixed default.
	Seed int64 `koanf:"seed"`
}

// DefaultHNSWConfig returns the usual M=16 / efConstruction=200 setup.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{
		M:              16,
		EfConstruction: 200,
		EfSearch:       100,
		Seed:           42,
	}
}

type node struct {
	id        string
	vec       []float32
	level     int
	neighbors [][]int32
}

// HNSW is a hierarchical navigable small world graph over cosine distance.
// Vectors are L2-normalized on insert so distance is 1 - dot product.
//
// Nodes are addressed by slice position; string ids map onto them. Inserts
// take the write lock, searches the read lock.
type HNSW struct {
	cfg       HNSWConfig
	dims      int
	levelMult float64

	mu         sync.RWMutex
	nodes      []*node
	ids        map[string]int32
	entryPoint int32
	maxLevel   int
	rng        *rand.Rand
}

// NewHNSW creates an empty graph for vectors of dims dimensions.
func NewHNSW(dims int, cfg HNSWConfig) *HNSW {
	if cfg.M < 2 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 100
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 42
	}
	return &HNSW{
		cfg:        cfg,
		dims:       dims,
		levelMult:  1.0 / math.Log(float64(cfg.M)),
		ids:        make(map[string]int32),
		entryPoint: -1,
		rng:        rand.New(rand.NewSource(seed)), //nolint:gosec // level assignment is not security sensitive
	}
}

// Dims returns the vector dimensionality.
func (h *HNSW) Dims() int {
	return h.dims
}

// Len returns the number of indexed vectors.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Contains reports whether id is indexed.
func (h *HNSW) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.ids[id]
	return ok
}

// Add inserts id. Re-adding an existing id replaces its vector in place and
// keeps its links. Returns false if the dimension does not match or the
// vector is all zeros.
func (h *HNSW) Add(id string, vec []float32) bool {
	if len(vec) != h.dims || vector.Norm(vec) == 0 {
		return false
	}
	normalized := vector.Normalize(vec)

	h.mu.Lock()
	defer h.mu.Unlock()

	if idx, ok := h.ids[id]; ok {
		h.nodes[idx].vec = normalized
		return true
	}

	level := h.randomLevel()
	n := &node{id: id, vec: normalized, level: level, neighbors: make([][]int32, level+1)}
	for i := range n.neighbors {
		n.neighbors[i] = make([]int32, 0, h.cfg.M)
	}
	idx := int32(len(h.nodes))
	h.nodes = append(h.nodes, n)
	h.ids[id] = idx

	if h.entryPoint < 0 {
		h.entryPoint = idx
		h.maxLevel = level
		return true
	}

	ep := h.entryPoint
	for l := h.maxLevel; l > level; l-- {
		ep = h.greedy(normalized, ep, l)
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(normalized, ep, h.cfg.EfConstruction, l)
		neighbors := h.selectNeighbors(normalized, candidates, h.cfg.M)
		n.neighbors[l] = neighbors

		for _, nb := range neighbors {
			other := h.nodes[nb]
			if len(other.neighbors) <= l {
				continue
			}
			links := append(other.neighbors[l], idx)
			if len(links) > h.cfg.M {
				links = h.selectNeighbors(other.vec, links, h.cfg.M)
			}
			other.neighbors[l] = links
		}

		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}

	if level > h.maxLevel {
		h.entryPoint = idx
		h.maxLevel = level
	}
	return true
}

// Neighbor is one search hit.
type Neighbor struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

// Search returns up to k nearest neighbors of query sorted by ascending
// cosine distance.
func (h *HNSW) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if len(query) != h.dims {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.nodes) == 0 {
		return []Neighbor{}, nil
	}

	normalized := vector.Normalize(query)
	ep := h.entryPoint
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedy(normalized, ep, l)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ef := h.cfg.EfSearch
	if k > ef {
		ef = k
	}
	candidates := h.searchLayer(normalized, ep, ef, 0)

	out := make([]Neighbor, 0, min(k, len(candidates)))
	for _, c := range candidates {
		out = append(out, Neighbor{ID: h.nodes[c].id, Distance: h.distance(normalized, c)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (h *HNSW) distance(q []float32, idx int32) float64 {
	return 1.0 - vector.Dot(q, h.nodes[idx].vec)
}

func (h *HNSW) greedy(q []float32, entry int32, level int) int32 {
	current := entry
	currentDist := h.distance(q, current)
	for {
		changed := false
		for _, nb := range h.nodes[current].neighbors[level] {
			if d := h.distance(q, nb); d < currentDist {
				current, currentDist, changed = nb, d, true
			}
		}
		if !changed {
			return current
		}
	}
}

// searchLayer returns up to ef nodes closest to q on level, nearest first.
func (h *HNSW) searchLayer(q []float32, entry int32, ef, level int) []int32 {
	visited := map[int32]struct{}{entry: {}}

	entryDist := h.distance(q, entry)
	candidates := &distHeap{}
	results := &distHeap{max: true}
	heap.Push(candidates, distItem{idx: entry, dist: entryDist})
	heap.Push(results, distItem{idx: entry, dist: entryDist})

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(distItem)
		if results.Len() >= ef && closest.dist > results.items[0].dist {
			break
		}

		n := h.nodes[closest.idx]
		if len(n.neighbors) <= level {
			continue
		}
		for _, nb := range n.neighbors[level] {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}

			d := h.distance(q, nb)
			if results.Len() < ef || d < results.items[0].dist {
				heap.Push(candidates, distItem{idx: nb, dist: d})
				heap.Push(results, distItem{idx: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]int32, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(distItem).idx
	}
	return out
}

func (h *HNSW) selectNeighbors(q []float32, candidates []int32, m int) []int32 {
	if len(candidates) <= m {
		return append([]int32(nil), candidates...)
	}

	type scored struct {
		idx  int32
		dist float64
	}
	ds := make([]scored, len(candidates))
	for i, c := range candidates {
		ds[i] = scored{idx: c, dist: h.distance(q, c)}
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].dist < ds[j].dist })

	out := make([]int32, m)
	for i := range out {
		out[i] = ds[i].idx
	}
	return out
}

func (h *HNSW) randomLevel() int {
	r := h.rng.Float64()
	if r == 0 {
		r = math.SmallestNonzeroFloat64
	}
	return int(-math.Log(r) * h.levelMult)
}

type distItem struct {
	idx  int32
	dist float64
}

// distHeap is a min-heap by distance, or a max-heap when max is set.
type distHeap struct {
	items []distItem
	max   bool
}

func (d *distHeap) Len() int { return len(d.items) }
func (d *distHeap) Less(i, j int) bool {
	if d.max {
		return d.items[i].dist > d.items[j].dist
	}
	return d.items[i].dist < d.items[j].dist
}
func (d *distHeap) Swap(i, j int)      { d.items[i], d.items[j] = d.items[j], d.items[i] }
func (d *distHeap) Push(x interface{}) { d.items = append(d.items, x.(distItem)) }
func (d *distHeap) Pop() interface{} {
	n := len(d.items)
	x := d.items[n-1]
	d.items = d.items[:n-1]
	return x
}
