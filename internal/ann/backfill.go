// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package ann

import (
	"context"
	"sort"

	"github.com/tomtom215/shelfwise/internal/embedding"
	"github.com/tomtom215/shelfwise/internal/vector"
)

// BackfillProgress is called after every batch with sent and total counts.
type BackfillProgress func(sent, total int)

// Backfill streams every cached vector into an empty index, library tier
// first, catalog tier second, deduplicated by id, then saves. It is a no-op
// when a healthy index already holds vectors. A degraded index is reset and
// rebuilt, and the save replaces the broken artifact. Returns the number of
// vectors added.
func (x *Index) Backfill(ctx context.Context, vectors *embedding.Vectors, onProgress BackfillProgress) (int, error) {
	x.mu.RLock()
	size, degraded := x.sizeLocked(), x.degraded
	x.mu.RUnlock()
	if degraded == nil && size > 0 {
		return 0, nil
	}

	entries := make([]vector.Entry, 0, vectors.Len(embedding.TierLibrary)+vectors.Len(embedding.TierCatalog))
	seen := make(map[string]struct{})
	for _, tier := range embedding.Tiers {
		snap := vectors.TierSnapshot(tier)
		ids := make([]string, 0, len(snap))
		for id := range snap {
			if _, dup := seen[id]; !dup {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		for _, id := range ids {
			seen[id] = struct{}{}
			entries = append(entries, vector.Entry{ID: id, Vector: snap[id]})
		}
	}

	total := len(entries)
	if total == 0 {
		return 0, nil
	}
	if degraded != nil {
		x.logger.Warn().Err(degraded).Msg("rebuilding degraded ann index from embedding cache")
		x.Reset()
	}
	x.logger.Info().Int("vectors", total).Msg("backfilling ann index from embedding cache")

	added := 0
	for start := 0; start < total; start += x.cfg.BackfillBatchSize {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		end := start + x.cfg.BackfillBatchSize
		if end > total {
			end = total
		}
		added += x.AddVectors(entries[start:end])
		if onProgress != nil {
			onProgress(end, total)
		}
	}

	x.Save()
	return added, nil
}
