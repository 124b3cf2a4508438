// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package logging

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CorrelationField is the log field that ties the lines of one compute run or
// one HTTP request together.
const CorrelationField = "correlation_id"

type ctxKey int

const (
	correlationKey ctxKey = iota
	loggerKey
)

// GenerateCorrelationID returns 8 random hex characters.
func GenerateCorrelationID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}

// ContextWithCorrelationID stores a correlation id in the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFromContext returns the stored correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// ContextWithLogger stores a logger in the context.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRun stores both the logger and the correlation id of one run.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithRun(ctx context.Context, logger zerolog.Logger, id string) context.Context {
	return ContextWithCorrelationID(ContextWithLogger(ctx, logger), id)
}

// LoggerFromContext returns the context logger, or the global one.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return logger
	}
	return Logger()
}

// Ctx returns the context logger with the correlation id attached.
//
//	logging.Ctx(ctx).Info().Int("candidates", n).Msg("pool assembled")
func Ctx(ctx context.Context) *zerolog.Logger {
	logger := LoggerFromContext(ctx)
	if id := CorrelationIDFromContext(ctx); id != "" {
		logger = logger.With().Str(CorrelationField, id).Logger()
	}
	return &logger
}
