// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfwise/internal/reco"
)

// FileLibrary reads the library from a JSON array of games. The file is
// re-read on every call so a host can rewrite it between computes.
type FileLibrary struct {
	path string
}

// NewFileLibrary creates a library over path. An empty path is an empty
// library.
func NewFileLibrary(path string) *FileLibrary {
	return &FileLibrary{path: path}
}

// Games implements reco.Library. A missing file is an empty library.
func (f *FileLibrary) Games(ctx context.Context) ([]reco.UserGame, error) {
	if f.path == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read library: %w", err)
	}

	var games []reco.UserGame
	if err := json.Unmarshal(data, &games); err != nil {
		return nil, fmt.Errorf("decode library %s: %w", f.path, err)
	}
	return games, nil
}
