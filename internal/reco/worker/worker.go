// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

// Package worker scores candidates and builds shelves for one job. It is
// the Handler the orchestrator runs behind its message boundary; it reads
// only the job and never touches stores.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/compute"
	"github.com/tomtom215/shelfwise/internal/reco"
	"github.com/tomtom215/shelfwise/internal/reco/reranking"
)

// Config configures scoring and shelf building.
type Config struct {
	// ShelfSize is the number of games per shelf.
	ShelfSize int `koanf:"shelf_size" validate:"min=1"`

	// MinShelfGames drops shelves with fewer games.
	MinShelfGames int `koanf:"min_shelf_games" validate:"min=1"`

	// MMRLambda balances relevance against diversity within a shelf.
	MMRLambda float64 `koanf:"mmr_lambda" validate:"min=0,max=1"`

	// GenreShelves is the number of genre-affinity shelves.
	GenreShelves int `koanf:"genre_shelves" validate:"min=0"`

	// NewReleaseWindow is how recent a release must be for new-releases.
	NewReleaseWindow time.Duration `koanf:"new_release_window" validate:"gt=0"`

	// HiddenGemMaxReviews and HiddenGemMinPositivity bound hidden gems.
	HiddenGemMaxReviews    int     `koanf:"hidden_gem_max_reviews" validate:"min=1"`
	HiddenGemMinPositivity float64 `koanf:"hidden_gem_min_positivity" validate:"min=0,max=1"`

	// LoyalRating is the minimum rating that makes a developer loyal.
	LoyalRating float64 `koanf:"loyal_rating" validate:"min=0,max=5"`

	// TasteMapMinGames is the smallest embedded library that gets a taste map.
	TasteMapMinGames int `koanf:"taste_map_min_games" validate:"min=2"`
}

// DefaultConfig returns the default worker settings.
func DefaultConfig() Config {
	return Config{
		ShelfSize:              12,
		MinShelfGames:          3,
		MMRLambda:              0.7,
		GenreShelves:           3,
		NewReleaseWindow:       90 * 24 * time.Hour,
		HiddenGemMaxReviews:    1000,
		HiddenGemMinPositivity: 0.85,
		LoyalRating:            3.5,
		TasteMapMinGames:       3,
	}
}

// Projector computes the taste map projection.
type Projector interface {
	PCA(ctx context.Context, rows [][]float32, k int) (*compute.Projection, error)
}

// Worker implements reco.Handler.
type Worker struct {
	cfg       Config
	projector Projector
	mmr       *reranking.MMR
	logger    zerolog.Logger
}

// New creates a worker. projector may be nil, which disables the taste map.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg Config, projector Projector, logger zerolog.Logger) *Worker {
	if cfg.ShelfSize <= 0 {
		cfg.ShelfSize = 12
	}
	if cfg.MinShelfGames <= 0 {
		cfg.MinShelfGames = 1
	}
	return &Worker{
		cfg:       cfg,
		projector: projector,
		mmr:       reranking.NewMMR(cfg.MMRLambda),
		logger:    logger.With().Str("component", "scoring_worker").Logger(),
	}
}

// Handle scores job and builds its shelves.
func (w *Worker) Handle(ctx context.Context, job *reco.Job, progress reco.ProgressFunc) (*reco.WorkerResult, error) {
	start := time.Now()
	now := time.UnixMilli(job.Now)

	progress("profile", 10)
	prof := buildProfile(job.UserGames, w.cfg.LoyalRating)

	progress("scoring", 30)
	scored := w.score(ctx, job, prof)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress("shelves", 60)
	shelves := w.buildShelves(ctx, job, prof, scored, now)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress("taste-map", 85)
	taste := prof.tasteProfile(job.EmbeddingCoverage)
	w.tasteMap(ctx, job.UserGames, &taste)

	progress("done", 100)
	w.logger.Debug().
		Str("job_id", job.JobID).
		Int("candidates", len(scored)).
		Int("shelves", len(shelves)).
		Msg("job scored")

	return &reco.WorkerResult{
		TasteProfile:  taste,
		Shelves:       shelves,
		ComputeTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// tasteMap projects embedded library games to 2-D. Failures leave the map empty.
func (w *Worker) tasteMap(ctx context.Context, snaps []reco.Snapshot, taste *reco.TasteProfile) {
	if w.projector == nil {
		return
	}
	var rows [][]float32
	var games []*reco.UserGame
	dims := 0
	for i := range snaps {
		v := snaps[i].Vector
		if len(v) == 0 || (dims != 0 && len(v) != dims) {
			continue
		}
		dims = len(v)
		rows = append(rows, v)
		games = append(games, &snaps[i].Game)
	}
	if len(rows) < w.cfg.TasteMapMinGames {
		return
	}

	proj, err := w.projector.PCA(ctx, rows, 2)
	if err != nil {
		w.logger.Warn().Err(err).Msg("taste map projection failed")
		return
	}
	points := make([]reco.MapPoint, 0, len(proj.Points))
	for i, p := range proj.Points {
		pt := reco.MapPoint{ID: games[i].ID, Name: games[i].Name}
		if len(p) > 0 {
			pt.X = p[0]
		}
		if len(p) > 1 {
			pt.Y = p[1]
		}
		points = append(points, pt)
	}
	taste.TasteMap = points
	taste.TasteMapBackend = proj.Backend
}

var _ reco.Handler = (*Worker)(nil)
