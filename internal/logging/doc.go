// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

// Package logging provides centralized zerolog-based structured logging for Shelfwise.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Msg("catalog sync starting")
//	logging.Error().Err(err).Msg("batch failed")
//
//	// Component loggers are passed by value into service constructors
//	logger := logging.Component("embedding")
//
//	// Pipeline runs carry a correlation id
//	ctx = logging.ContextWithCorrelationID(ctx, logging.GenerateCorrelationID())
//	logging.Ctx(ctx).Info().Int("candidates", n).Msg("pool assembled")
//
// # Adapters
//
// SlogHandler feeds log/slog records (used by the suture event hook) into
// zerolog, and WatermillAdapter does the same for the worker transport.
//
// # Best Practices
//
// Always terminate log chains with .Msg() or .Send(), and prefer structured
// fields over Msgf.
package logging
