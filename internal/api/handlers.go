// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/app"
	"github.com/tomtom215/shelfwise/internal/bandit"
	"github.com/tomtom215/shelfwise/internal/catalog"
	"github.com/tomtom215/shelfwise/internal/logging"
	"github.com/tomtom215/shelfwise/internal/reco"
)

// maxBrowseBody bounds the browse list upload.
const maxBrowseBody = 8 << 20

// Handler serves the daemon endpoints over one App.
type Handler struct {
	app    *app.App
	logger zerolog.Logger

	// background outlives requests; computes and syncs started over HTTP
	// run under it.
	background context.Context
}

// NewHandler creates the handler. Background work started by requests is
// cancelled with ctx.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewHandler(ctx context.Context, a *app.App, logger zerolog.Logger) *Handler {
	return &Handler{
		app:        a,
		logger:     logger.With().Str("component", "api").Logger(),
		background: ctx,
	}
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Status returns the component summary.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, h.app.Status(r.Context()))
}

// Recommendations returns the last finished result, from memory or from
// the result cache.
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	st := h.app.Orchestrator.Status()
	res, cached := st.Result, false
	if res == nil {
		res, cached = h.app.Results.Get(r.Context())
	}
	if res == nil {
		respondError(w, http.StatusNotFound, "NO_RESULT",
			"No recommendations yet (state "+string(st.State)+")", nil)
		return
	}
	respondJSON(w, http.StatusOK, &Response{
		Status: "success",
		Data:   res,
		Metadata: Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
			Cached:      cached,
		},
	})
}

// Compute starts a computation in the background.
func (h *Handler) Compute(w http.ResponseWriter, _ *http.Request) {
	if h.app.Orchestrator.Status().State == reco.StateComputing {
		respondError(w, http.StatusConflict, "ALREADY_COMPUTING", reco.ErrAlreadyComputing.Error(), nil)
		return
	}
	h.app.Orchestrator.Start(h.background)
	respondData(w, http.StatusAccepted, map[string]string{"state": string(reco.StateComputing)})
}

// Refresh drops the cached result and starts a fresh computation.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Orchestrator.Refresh(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "REFRESH_FAILED", "Failed to drop cached recommendations", err)
		return
	}
	h.app.Orchestrator.Start(h.background)
	respondData(w, http.StatusAccepted, map[string]string{"state": string(reco.StateComputing)})
}

// Dismissed lists dismissed game ids.
func (h *Handler) Dismissed(w http.ResponseWriter, r *http.Request) {
	ids, err := h.app.Dismissed.IDs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to read dismissed games", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondData(w, http.StatusOK, map[string][]string{"gameIds": ids})
}

// Dismiss hides a game from future recommendations.
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "gameID")
	if err := h.app.Dismissed.Dismiss(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to dismiss game", err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("game_id", sanitizeLogValue(id)).Msg("game dismissed")
	respondData(w, http.StatusOK, map[string]string{"gameId": id})
}

// Undismiss reverses Dismiss. Unknown ids succeed.
func (h *Handler) Undismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "gameID")
	if err := h.app.Dismissed.Undismiss(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to restore game", err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"gameId": id})
}

// SetBrowse replaces the browse list with the posted catalog entries.
func (h *Handler) SetBrowse(w http.ResponseWriter, r *http.Request) {
	var entries []catalog.Entry
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBrowseBody)).Decode(&entries); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Body must be a JSON array of catalog entries", err)
		return
	}
	for i := range entries {
		if entries[i].AppID <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_ENTRY",
				"Entry "+strconv.Itoa(i)+" has no appId", nil)
			return
		}
	}
	h.app.Browse.Set(r.Context(), entries)
	respondData(w, http.StatusOK, map[string]int{"entries": len(entries)})
}

// RecordImpression records a shelf view and returns the click token.
func (h *Handler) RecordImpression(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	token := h.app.Bandit.RecordImpression(r.Context(), category)
	respondData(w, http.StatusCreated, map[string]string{"token": token, "category": category})
}

// RecordClick redeems an impression token.
func (h *Handler) RecordClick(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	err := h.app.Bandit.RecordClickForImpression(r.Context(), token)
	switch {
	case errors.Is(err, bandit.ErrUnknownImpression):
		respondError(w, http.StatusNotFound, "UNKNOWN_IMPRESSION", "Impression token is unknown, used, or expired", nil)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "BANDIT_ERROR", "Failed to record click", err)
	default:
		respondData(w, http.StatusOK, map[string]string{"token": token})
	}
}

// SyncCatalog starts a catalog sync followed by catalog embedding.
func (h *Handler) SyncCatalog(w http.ResponseWriter, r *http.Request) {
	if h.app.Catalog.Syncing() {
		respondError(w, http.StatusConflict, "SYNC_IN_PROGRESS", catalog.ErrSyncInProgress.Error(), nil)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	go func() {
		ctx := h.background
		if _, err := h.app.Catalog.Sync(ctx, force, nil); err != nil {
			h.logger.Warn().Err(err).Msg("requested catalog sync failed")
			return
		}
		if n, err := h.app.EmbedCatalog(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("catalog embedding after sync failed")
		} else if n > 0 {
			h.logger.Info().Int("embedded", n).Msg("catalog embedding complete")
		}
	}()
	respondData(w, http.StatusAccepted, map[string]bool{"force": force})
}
