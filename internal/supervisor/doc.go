// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

/*
Package supervisor runs shelfd's background services under a suture v4 tree.

The tree has three layers so a failing catalog sync cannot take down the
status server:

	shelfwise (root)
	├── storage-layer   ANN index persistence
	├── catalog-layer   catalog sync and catalog embedding
	└── api-layer       status HTTP server

Services live in the services subpackage. Each one implements
suture.Service: Serve blocks until its context is cancelled, and a returned
error makes suture restart it with backoff. Supervisor events are logged
through sutureslog into zerolog.
*/
package supervisor
