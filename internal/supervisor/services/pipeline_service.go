// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package services

import (
	"context"
	"errors"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/hivewatcher/internal/logging"
	"github.com/tomtom215/hivewatcher/internal/pipeline"
)

// errProducerClosed makes suture resubscribe when the stream ends.
var errProducerClosed = errors.New("podping stream ended")

// PipelineRunner is satisfied by *pipeline.Pipeline.
type PipelineRunner interface {
	Run(ctx context.Context, producer pipeline.Producer) error
	Shutdown(ctx context.Context) error
}

// PipelineService feeds producer into the pipeline. Failures of the
// producer restart the service; cancellation shuts the pipeline down.
type PipelineService struct {
	pipeline        PipelineRunner
	producer        pipeline.Producer
	shutdownTimeout time.Duration
}

// NewPipelineService wraps p. A non-positive timeout means 30s.
func NewPipelineService(p PipelineRunner, producer pipeline.Producer, shutdownTimeout time.Duration) *PipelineService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &PipelineService{pipeline: p, producer: producer, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (s *PipelineService) Serve(ctx context.Context) error {
	err := s.pipeline.Run(ctx, s.producer)
	if ctx.Err() != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.pipeline.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("Pipeline shutdown failed")
		}
		return ctx.Err()
	}

	if errors.Is(err, pipeline.ErrClosed) {
		return suture.ErrDoNotRestart
	}
	if err == nil {
		err = errProducerClosed
	}
	logging.Warn().Err(err).Msg("Pipeline intake stopped, restarting")
	return err
}

func (s *PipelineService) String() string {
	return "pipeline"
}
