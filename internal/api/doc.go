// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

/*
Package api is the HTTP surface of shelfd, routed with chi.

# Endpoints

	GET    /healthz                              liveness
	GET    /metrics                              Prometheus exposition
	GET    /v1/status                            component status
	GET    /v1/recommendations                   last finished result
	POST   /v1/recommendations/compute           start a compute (202, 409 if running)
	POST   /v1/recommendations/refresh           drop the cached result and recompute
	GET    /v1/dismissed                         dismissed game ids
	PUT    /v1/dismissed/{gameID}                dismiss a game
	DELETE /v1/dismissed/{gameID}                undo a dismissal
	PUT    /v1/browse                            replace the browse list
	POST   /v1/shelves/{category}/impressions    record a shelf view, returns a token
	POST   /v1/impressions/{token}/click         redeem a view token as a click
	POST   /v1/catalog/sync?force=true           start a catalog sync

Every /v1 response uses the Response envelope:

	{"status": "success", "data": {...}, "metadata": {"timestamp": "..."}}

Errors carry a machine-readable code:

	{"status": "error", "error": {"code": "ALREADY_COMPUTING", "message": "..."}}
*/
package api
