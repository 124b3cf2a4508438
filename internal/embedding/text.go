// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package embedding

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Document is the game metadata embedding text is built from.
type Document struct {
	ID          string
	Name        string
	Genres      []string
	Themes      []string
	Modes       []string
	Tags        []string
	Developer   string
	Publisher   string
	Description string

	// Notes are the user's own notes. Only the library tier embeds them.
	Notes string
}

// CanonicalText builds the text embedded for doc in tier. Whitespace is
// collapsed and empty fields are omitted so cosmetic changes do not alter the
// hash. notesMax bounds the notes field in runes.
func CanonicalText(doc Document, tier Tier, notesMax int) string {
	var b strings.Builder
	write := func(label, value string) {
		value = collapse(value)
		if value == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		if label != "" {
			b.WriteString(label)
			b.WriteString(": ")
		}
		b.WriteString(value)
	}

	write("", doc.Name)
	write("Genres", strings.Join(doc.Genres, ", "))
	write("Themes", strings.Join(doc.Themes, ", "))
	write("Modes", strings.Join(doc.Modes, ", "))
	write("Tags", strings.Join(doc.Tags, ", "))
	write("Developer", doc.Developer)
	if doc.Publisher != doc.Developer {
		write("Publisher", doc.Publisher)
	}
	write("About", doc.Description)
	if tier == TierLibrary {
		write("Notes", truncateRunes(collapse(doc.Notes), notesMax))
	}
	return b.String()
}

// TextHash is the djb2 hash of text, base-36 encoded.
func TextHash(text string) string {
	var h uint32 = 5381
	for i := 0; i < len(text); i++ {
		h = h<<5 + h + uint32(text[i])
	}
	return strconv.FormatUint(uint64(h), 36)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
