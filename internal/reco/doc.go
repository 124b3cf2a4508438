// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

/*
Package reco owns one recommendation run from library snapshot to ranked,
bandit-ordered shelves.

# Pipeline

	Library -> BuildSnapshots -> Assembler (browse, catalog, ANN)
	        -> embedding generation and capped enrichment
	        -> TasteCentroid -> worker (scoring, shelves, taste map)
	        -> bandit reorder -> ResultCache

The Orchestrator drives the pipeline as a small state machine
(idle, computing, done, error). Scoring runs in an isolated worker that talks
to the orchestrator only through typed JSON envelopes on a watermill
gochannel: one job message in, zero or more progress messages out, then
exactly one result or error. An idle watchdog, reset on every progress
message, kills a worker that stops talking.

# Degradation

Every candidate source, the embedding backend, and the ANN index may fail
independently. A failed source contributes no candidates; missing vectors
mean no semantic signal. Only a stalled or crashed worker puts the
orchestrator into the error state.
*/
package reco
