// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter builds the daemon routes.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewRouter(h *Handler, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(RequestLogging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(Metrics)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.Status)

		r.Route("/recommendations", func(r chi.Router) {
			r.Get("/", h.Recommendations)
			r.Post("/compute", h.Compute)
			r.Post("/refresh", h.Refresh)
		})

		r.Route("/dismissed", func(r chi.Router) {
			r.Get("/", h.Dismissed)
			r.Put("/{gameID}", h.Dismiss)
			r.Delete("/{gameID}", h.Undismiss)
		})

		r.Put("/browse", h.SetBrowse)
		r.Post("/shelves/{category}/impressions", h.RecordImpression)
		r.Post("/impressions/{token}/click", h.RecordClick)
		r.Post("/catalog/sync", h.SyncCatalog)
	})

	return r
}
