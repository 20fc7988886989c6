// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type correlationKey struct{}

// ContextWithNewCorrelationID tags ctx with a short random id. The pipeline
// takes one per block so the block event, its URL events and any parking
// can be grepped together.
func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return ContextWithCorrelationID(ctx, uuid.New().String()[:8])
}

// ContextWithCorrelationID tags ctx with id.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the id or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Ctx returns the global logger, with correlation_id set when ctx has one.
//
//	logging.Ctx(ctx).Warn().Err(err).Msg("write dropped")
func Ctx(ctx context.Context) *zerolog.Logger {
	logger := Logger()
	if id := CorrelationIDFromContext(ctx); id != "" {
		logger = logger.With().Str("correlation_id", id).Logger()
	}
	return &logger
}

// WithComponent creates a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return With().Str("component", component).Logger()
}
