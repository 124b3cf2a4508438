// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package reco

import (
	"sort"
	"time"

	"github.com/tomtom215/shelfwise/internal/embedding"
)

// Pattern thresholds.
const (
	minPatternSessions = 3
	bingeWindow        = 7 * 24 * time.Hour
	bingeShare         = 0.6
	droppedAfter       = 30 * 24 * time.Hour
	longTailSpan       = 90 * 24 * time.Hour
	recentlyPlayed     = 30 * 24 * time.Hour
	honeymoonRatio     = 0.5
	slowBurnRatio      = 1.5
)

// BuildSnapshots derives engagement statistics for every game and attaches
// cached vectors from vectors, which may be nil.
func BuildSnapshots(games []UserGame, vectors *embedding.Vectors, now time.Time) []Snapshot {
	out := make([]Snapshot, 0, len(games))
	for i := range games {
		g := games[i]
		s := Snapshot{Game: g, Pattern: PatternUnknown}

		sessions := sortedSessions(g.Sessions)
		s.SessionCount = len(sessions)
		var total, active float64
		for _, sess := range sessions {
			total += sess.Minutes
			if sess.ActiveMinutes > 0 {
				active += sess.ActiveMinutes
			} else {
				active += sess.Minutes
			}
		}
		if s.SessionCount > 0 {
			s.AvgSessionMinutes = total / float64(s.SessionCount)
		}
		if total > 0 {
			s.ActiveRatio = min(active/total, 1)
		}

		s.Trajectory = trajectory(&g)
		s.Pattern = classifyPattern(sessions, now)

		if vectors != nil {
			if v, ok := vectors.Get(g.ID); ok {
				s.Vector = v
			}
		}
		out = append(out, s)
	}
	return out
}

func sortedSessions(in []Session) []Session {
	out := make([]Session, 0, len(in))
	for _, s := range in {
		if s.Minutes > 0 {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// trajectory lists statuses in time order with repeats collapsed.
func trajectory(g *UserGame) []string {
	history := make([]StatusChange, len(g.StatusHistory))
	copy(history, g.StatusHistory)
	sort.SliceStable(history, func(i, j int) bool { return history[i].At < history[j].At })

	var out []string
	for _, h := range history {
		if h.Status == "" || (len(out) > 0 && out[len(out)-1] == h.Status) {
			continue
		}
		out = append(out, h.Status)
	}
	if len(out) == 0 && g.Status != "" {
		out = []string{g.Status}
	}
	return out
}

// classifyPattern expects sessions sorted by start and with positive length.
func classifyPattern(sessions []Session, now time.Time) EngagementPattern {
	n := len(sessions)
	if n < minPatternSessions {
		return PatternUnknown
	}

	first := time.UnixMilli(sessions[0].Start)
	last := time.UnixMilli(sessions[n-1].Start)

	var total, firstWeek float64
	for _, s := range sessions {
		total += s.Minutes
		if time.UnixMilli(s.Start).Sub(first) < bingeWindow {
			firstWeek += s.Minutes
		}
	}
	sinceLast := now.Sub(last)

	if total > 0 && firstWeek/total >= bingeShare && sinceLast > droppedAfter {
		return PatternBingeDrop
	}

	third := n / 3
	early := meanMinutes(sessions[:third])
	late := meanMinutes(sessions[n-third:])
	if early > 0 {
		if late < honeymoonRatio*early {
			return PatternHoneymoon
		}
		if late > slowBurnRatio*early {
			return PatternSlowBurn
		}
	}

	if last.Sub(first) >= longTailSpan && sinceLast <= recentlyPlayed {
		return PatternLongTail
	}
	return PatternUnknown
}

func meanMinutes(sessions []Session) float64 {
	if len(sessions) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sessions {
		sum += s.Minutes
	}
	return sum / float64(len(sessions))
}
