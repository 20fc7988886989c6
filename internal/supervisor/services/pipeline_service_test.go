// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/hivewatcher/internal/pipeline"
)

type fakeRunner struct {
	runErr    error
	block     bool
	runs      atomic.Int32
	shutdowns atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context, _ pipeline.Producer) error {
	f.runs.Add(1)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.runErr
}

func (f *fakeRunner) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	return nil
}

func TestPipelineService(t *testing.T) {
	t.Run("cancel shuts the pipeline down", func(t *testing.T) {
		r := &fakeRunner{block: true}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := NewPipelineService(r, nil, 0).Serve(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
		if r.shutdowns.Load() != 1 {
			t.Errorf("Shutdown calls = %d, want 1", r.shutdowns.Load())
		}
	})

	t.Run("closed stream asks for restart", func(t *testing.T) {
		r := &fakeRunner{}
		err := NewPipelineService(r, nil, 0).Serve(context.Background())
		if !errors.Is(err, errProducerClosed) {
			t.Errorf("Serve() error = %v, want errProducerClosed", err)
		}
		if r.shutdowns.Load() != 0 {
			t.Error("pipeline must stay usable for the restart")
		}
	})

	t.Run("producer failure is returned", func(t *testing.T) {
		boom := errors.New("subscribe failed")
		err := NewPipelineService(&fakeRunner{runErr: boom}, nil, 0).Serve(context.Background())
		if !errors.Is(err, boom) {
			t.Errorf("Serve() error = %v, want %v", err, boom)
		}
	})

	t.Run("shut down pipeline is not restarted", func(t *testing.T) {
		err := NewPipelineService(&fakeRunner{runErr: pipeline.ErrClosed}, nil, 0).Serve(context.Background())
		if !errors.Is(err, suture.ErrDoNotRestart) {
			t.Errorf("Serve() error = %v, want ErrDoNotRestart", err)
		}
	})
}
