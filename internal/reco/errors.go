// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package reco

import (
	"errors"

	"github.com/tomtom215/shelfwise/internal/ann"
	"github.com/tomtom215/shelfwise/internal/catalog"
	"github.com/tomtom215/shelfwise/internal/embedding"
	"github.com/tomtom215/shelfwise/internal/kvstore"
)

var (
	// ErrBackendUnavailable covers an unavailable embedding backend or ANN index.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrSourceFetchFailed means one candidate source failed.
	ErrSourceFetchFailed = errors.New("candidate source failed")

	// ErrWorkerStalled means the worker exceeded its idle timeout.
	ErrWorkerStalled = errors.New("worker stalled")

	// ErrWorkerCrashed means the worker failed or sent a malformed message.
	ErrWorkerCrashed = errors.New("worker crashed")

	// ErrStorageWriteFailed means a persistent write failed.
	ErrStorageWriteFailed = errors.New("storage write failed")

	// ErrDataCorrupt means a stored record could not be decoded.
	ErrDataCorrupt = errors.New("data corrupt")

	// ErrAlreadyComputing is returned when a compute is already running.
	ErrAlreadyComputing = errors.New("recommendations are already computing")
)

// Classify maps an error from any component onto the taxonomy above.
// Unknown errors are returned unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrSourceFetchFailed),
		errors.Is(err, ErrWorkerStalled), errors.Is(err, ErrWorkerCrashed),
		errors.Is(err, ErrStorageWriteFailed), errors.Is(err, ErrDataCorrupt):
		return err
	case errors.Is(err, embedding.ErrUnavailable), errors.Is(err, ann.ErrNotReady),
		errors.Is(err, ann.ErrDimensionMismatch):
		return ErrBackendUnavailable
	case errors.Is(err, catalog.ErrSourceFetch):
		return ErrSourceFetchFailed
	case errors.Is(err, kvstore.ErrCorrupt):
		return ErrDataCorrupt
	default:
		return err
	}
}

// UserMessage returns the short message shown with the error state.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrWorkerStalled):
		return "Recommendation engine stalled. Try again."
	case errors.Is(err, ErrWorkerCrashed):
		return "Recommendation engine hit an error. Try again."
	default:
		return "Recommendations could not be computed. Try again."
	}
}
