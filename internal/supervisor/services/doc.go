// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

// Package services adapts shelfd's long-running jobs to suture.Service.
//
// Each service depends on a narrow interface rather than a concrete type so
// it can be tested with a hand-written fake.
package services
