// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package ann

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

// artifactVersion is bumped whenever the on-disk layout changes.
const artifactVersion = 1

type nodeState struct {
	ID        string    `json:"id"`
	Vector    []float32 `json:"v"`
	Level     int       `json:"l"`
	Neighbors [][]int32 `json:"n"`
}

type graphState struct {
	Version    int         `json:"version"`
	Dims       int         `json:"dims"`
	Config     HNSWConfig  `json:"config"`
	EntryPoint int32       `json:"entryPoint"`
	MaxLevel   int         `json:"maxLevel"`
	Nodes      []nodeState `json:"nodes"`
}

func (h *HNSW) export() graphState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := graphState{
		Version:    artifactVersion,
		Dims:       h.dims,
		Config:     h.cfg,
		EntryPoint: h.entryPoint,
		MaxLevel:   h.maxLevel,
		Nodes:      make([]nodeState, len(h.nodes)),
	}
	for i, n := range h.nodes {
		links := make([][]int32, len(n.neighbors))
		for l := range n.neighbors {
			links[l] = append([]int32(nil), n.neighbors[l]...)
		}
		st.Nodes[i] = nodeState{ID: n.id, Vector: n.vec, Level: n.level, Neighbors: links}
	}
	return st
}

func importGraph(st graphState) (*HNSW, error) {
	if st.Version != artifactVersion {
		return nil, fmt.Errorf("unsupported artifact version %d", st.Version)
	}
	if st.Dims <= 0 {
		return nil, fmt.Errorf("invalid dimensions %d", st.Dims)
	}

	h := NewHNSW(st.Dims, st.Config)
	count := int32(len(st.Nodes))
	if count > 0 && (st.EntryPoint < 0 || st.EntryPoint >= count) {
		return nil, fmt.Errorf("entry point %d out of range", st.EntryPoint)
	}

	h.nodes = make([]*node, len(st.Nodes))
	for i, ns := range st.Nodes {
		if len(ns.Vector) != st.Dims {
			return nil, fmt.Errorf("node %q: %w", ns.ID, ErrDimensionMismatch)
		}
		if len(ns.Neighbors) != ns.Level+1 {
			return nil, fmt.Errorf("node %q: %d link layers for level %d", ns.ID, len(ns.Neighbors), ns.Level)
		}
		for _, layer := range ns.Neighbors {
			for _, nb := range layer {
				if nb < 0 || nb >= count {
					return nil, fmt.Errorf("node %q: neighbor %d out of range", ns.ID, nb)
				}
			}
		}
		h.nodes[i] = &node{id: ns.ID, vec: ns.Vector, level: ns.Level, neighbors: ns.Neighbors}
		h.ids[ns.ID] = int32(i)
	}
	if count > 0 {
		h.entryPoint = st.EntryPoint
		h.maxLevel = st.MaxLevel
	}
	// Continue the level sequence instead of replaying it from the seed.
	h.rng = rand.New(rand.NewSource(h.cfg.Seed + int64(count))) //nolint:gosec // level assignment is not security sensitive
	return h, nil
}

// writeArtifact writes st as zstd-compressed JSON to a temp file in the same
// directory, then renames it over path.
func writeArtifact(path string, st graphState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(st); err != nil {
		_ = enc.Close()
		_ = tmp.Close()
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush zstd: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

func readArtifact(path string) (graphState, error) {
	var st graphState

	f, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return st, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return st, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	if err := json.NewDecoder(dec).Decode(&st); err != nil {
		return st, fmt.Errorf("decode artifact: %w", err)
	}
	return st, nil
}
