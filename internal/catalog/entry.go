// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package catalog

import (
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/shelfwise/internal/embedding"
)

// GameIDPrefix prefixes catalog app ids to form game ids.
const GameIDPrefix = "steam-"

// Platforms lists the operating systems a game supports.
type Platforms struct {
	Windows bool `json:"windows"`
	Mac     bool `json:"mac"`
	Linux   bool `json:"linux"`
}

// Entry is one immutable catalog row keyed by AppID. Each sync replaces the
// whole row.
type Entry struct {
	AppID            int       `json:"appId"`
	Name             string    `json:"name"`
	Genres           []string  `json:"genres,omitempty"`
	Themes           []string  `json:"themes,omitempty"`
	Modes            []string  `json:"modes,omitempty"`
	Developer        string    `json:"developer,omitempty"`
	Publisher        string    `json:"publisher,omitempty"`
	ShortDescription string    `json:"shortDescription,omitempty"`
	ReleaseDate      int64     `json:"releaseDate,omitempty"` // epoch seconds
	ReviewScore      int       `json:"reviewScore,omitempty"`
	ReviewCount      int       `json:"reviewCount"`
	ReviewPositivity float64   `json:"reviewPositivity"`
	Platforms        Platforms `json:"platforms"`
	IsFree           bool      `json:"isFree"`
	PriceFormatted   string    `json:"priceFormatted,omitempty"`
	DiscountPercent  int       `json:"discountPercent,omitempty"`
	TagIDs           []int     `json:"tagIds,omitempty"`

	// SyncedAt is when the row was written, in epoch ms.
	SyncedAt int64 `json:"syncedAt,omitempty"`
}

// GameID returns the cross-source game id, e.g. "steam-730".
func (e *Entry) GameID() string {
	return GameID(e.AppID)
}

// Released returns the release date, or the zero time when unknown.
func (e *Entry) Released() time.Time {
	if e.ReleaseDate <= 0 {
		return time.Time{}
	}
	return time.Unix(e.ReleaseDate, 0)
}

// Document converts the entry into embedding input. tagNames resolves tag ids.
func (e *Entry) Document(tagNames map[int]string) embedding.Document {
	var tags []string
	for _, id := range e.TagIDs {
		if name, ok := tagNames[id]; ok {
			tags = append(tags, name)
		}
	}
	return embedding.Document{
		ID:          e.GameID(),
		Name:        e.Name,
		Genres:      e.Genres,
		Themes:      e.Themes,
		Modes:       e.Modes,
		Tags:        tags,
		Developer:   e.Developer,
		Publisher:   e.Publisher,
		Description: e.ShortDescription,
	}
}

// GameID formats an app id as a game id.
func GameID(appID int) string {
	return GameIDPrefix + strconv.Itoa(appID)
}

// ParseGameID extracts the app id from a catalog game id.
func ParseGameID(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, GameIDPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// SyncState tracks bulk sync progress. It is persisted after every throttled
// progress tick so an interrupted run can resume.
type SyncState struct {
	// LastSyncTimestamp is when the last sync completed, in epoch ms.
	LastSyncTimestamp int64 `json:"lastSyncTimestamp"`
	TotalEntries      int   `json:"totalEntries"`
	BatchesCompleted  int   `json:"batchesCompleted"`
	BatchesTotal      int   `json:"batchesTotal"`

	// StartedAt is when the current or last run started, in epoch ms.
	StartedAt int64 `json:"startedAt,omitempty"`

	// InProgress is true from the start of a run until it completes.
	InProgress bool `json:"inProgress,omitempty"`
}

// Fresh reports whether the last completed sync is younger than window and
// stored at least one entry.
func (s SyncState) Fresh(now time.Time, window time.Duration) bool {
	if s.LastSyncTimestamp <= 0 || s.TotalEntries <= 0 {
		return false
	}
	return now.UnixMilli()-s.LastSyncTimestamp < window.Milliseconds()
}

// Progress is published while a sync runs.
type Progress struct {
	BatchesCompleted int `json:"batchesCompleted"`
	BatchesTotal     int `json:"batchesTotal"`
	GamesStored      int `json:"gamesStored"`
	BatchesFailed    int `json:"batchesFailed"`
}
