// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package reco

import (
	"context"

	"github.com/tomtom215/shelfwise/internal/catalog"
	"github.com/tomtom215/shelfwise/internal/embedding"
)

// Library statuses with scoring meaning.
const (
	StatusPlaying   = "Playing"
	StatusCompleted = "Completed"
	StatusBacklog   = "Backlog"
	StatusDropped   = "Dropped"
)

// Session is one play session. Times are epoch ms.
type Session struct {
	Start   int64   `json:"start"`
	Minutes float64 `json:"minutes"`

	// ActiveMinutes is the non-idle part of Minutes. Zero means unknown.
	ActiveMinutes float64 `json:"activeMinutes,omitempty"`
}

// StatusChange records a library status transition.
type StatusChange struct {
	Status string `json:"status"`
	At     int64  `json:"at"`
}

// UserGame is one library item as the host reports it.
type UserGame struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Genres      []string `json:"genres,omitempty"`
	Themes      []string `json:"themes,omitempty"`
	Modes       []string `json:"modes,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Developer   string   `json:"developer,omitempty"`
	Publisher   string   `json:"publisher,omitempty"`
	Description string   `json:"description,omitempty"`
	Notes       string   `json:"notes,omitempty"`

	HoursPlayed float64 `json:"hoursPlayed"`

	// Rating is the user's 0-5 rating. Zero means unrated.
	Rating float64 `json:"rating,omitempty"`
	Status string  `json:"status,omitempty"`

	Sessions      []Session      `json:"sessions,omitempty"`
	StatusHistory []StatusChange `json:"statusHistory,omitempty"`
}

// Document converts the game into library-tier embedding input.
func (g *UserGame) Document() embedding.Document {
	return embedding.Document{
		ID:          g.ID,
		Name:        g.Name,
		Genres:      g.Genres,
		Themes:      g.Themes,
		Modes:       g.Modes,
		Tags:        g.Tags,
		Developer:   g.Developer,
		Publisher:   g.Publisher,
		Description: g.Description,
		Notes:       g.Notes,
	}
}

// Library supplies the user's games.
type Library interface {
	Games(ctx context.Context) ([]UserGame, error)
}

// LibraryFunc adapts a function to Library.
type LibraryFunc func(ctx context.Context) ([]UserGame, error)

// Games implements Library.
func (f LibraryFunc) Games(ctx context.Context) ([]UserGame, error) {
	return f(ctx)
}

// EngagementPattern classifies how a user played a game over time.
type EngagementPattern string

// Engagement patterns.
const (
	PatternBingeDrop EngagementPattern = "binge-drop"
	PatternSlowBurn  EngagementPattern = "slow-burn"
	PatternHoneymoon EngagementPattern = "honeymoon"
	PatternLongTail  EngagementPattern = "long-tail"
	PatternUnknown   EngagementPattern = "unknown"
)

// Snapshot is the per-compute view of one library game. It is rebuilt on
// every run and never persisted.
type Snapshot struct {
	Game              UserGame          `json:"game"`
	SessionCount      int               `json:"sessionCount"`
	AvgSessionMinutes float64           `json:"avgSessionMinutes"`
	ActiveRatio       float64           `json:"activeRatio"`
	Trajectory        []string          `json:"trajectory,omitempty"`
	Pattern           EngagementPattern `json:"pattern"`
	Vector            []float32         `json:"vector,omitempty"`
}

// Candidate sources, in dedup priority order.
const (
	SourceBrowse  = "browse"
	SourceCatalog = "catalog"
	SourceANN     = "ann"
)

// Candidate is a catalog or browse row considered for recommendation.
// Vector is nil when the game has no cached embedding; it is never a zero
// vector.
type Candidate struct {
	catalog.Entry
	ID                string    `json:"id"`
	Source            string    `json:"source"`
	SemanticRetrieved bool      `json:"semanticRetrieved"`
	SemanticScore     float64   `json:"semanticScore,omitempty"`
	Vector            []float32 `json:"vector,omitempty"`
}

// NewCandidate wraps a catalog entry.
func NewCandidate(e catalog.Entry, source string) Candidate {
	return Candidate{Entry: e, ID: e.GameID(), Source: source}
}

// ScoredGame is one game on a shelf.
type ScoredGame struct {
	ID                string   `json:"id"`
	AppID             int      `json:"appId"`
	Name              string   `json:"name"`
	Score             float64  `json:"score"`
	Reasons           []string `json:"reasons,omitempty"`
	SemanticRetrieved bool     `json:"semanticRetrieved,omitempty"`
}

// Shelf is one themed row of recommendations. Category is the bandit arm key;
// several shelves may share a category.
type Shelf struct {
	ID       string       `json:"id"`
	Category string       `json:"category"`
	Title    string       `json:"title"`
	Reason   string       `json:"reason,omitempty"`
	Pinned   bool         `json:"pinned,omitempty"`
	Games    []ScoredGame `json:"games"`
}

// WeightedTerm is a profile term with its normalized weight.
type WeightedTerm struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// MapPoint places one library game on the 2-D taste map.
type MapPoint struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// TasteProfile summarizes the library for display.
type TasteProfile struct {
	TopGenres           []WeightedTerm            `json:"topGenres"`
	TopThemes           []WeightedTerm            `json:"topThemes"`
	TopDevelopers       []WeightedTerm            `json:"topDevelopers"`
	TopModes            []WeightedTerm            `json:"topModes"`
	PatternDistribution map[EngagementPattern]int `json:"patternDistribution"`
	AvgSessionMinutes   float64                   `json:"avgSessionMinutes"`
	EmbeddingCoverage   float64                   `json:"embeddingCoverage"`
	TasteMap            []MapPoint                `json:"tasteMap,omitempty"`
	TasteMapBackend     string                    `json:"tasteMapBackend,omitempty"`
}

// Result is a finished computation. It is what the result cache stores.
type Result struct {
	Shelves        []Shelf      `json:"shelves"`
	TasteProfile   TasteProfile `json:"tasteProfile"`
	ComputeTimeMs  int64        `json:"computeTimeMs"`
	LastComputed   int64        `json:"lastComputed"`
	LibraryCount   int          `json:"libraryCount"`
	CandidateCount int          `json:"candidateCount"`
}
