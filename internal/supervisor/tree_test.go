// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

// countingService runs until cancelled, failing the first fails times.
type countingService struct {
	name   string
	fails  int32
	starts atomic.Int32
	stops  atomic.Int32
}

func (s *countingService) Serve(ctx context.Context) error {
	n := s.starts.Add(1)
	defer s.stops.Add(1)
	if n <= s.fails {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingService) String() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewTree_Defaults(t *testing.T) {
	tree := NewTree(testLogger(), TreeConfig{})

	if tree.Root() == nil {
		t.Fatal("root supervisor should not be nil")
	}
	if tree.config.FailureThreshold != 5.0 || tree.config.FailureDecay != 30.0 {
		t.Errorf("failure defaults = %v, %v", tree.config.FailureThreshold, tree.config.FailureDecay)
	}
	if tree.config.FailureBackoff != 15*time.Second || tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("timing defaults = %v, %v", tree.config.FailureBackoff, tree.config.ShutdownTimeout)
	}
}

func TestTree_StartsAndStopsAllLayers(t *testing.T) {
	tree := NewTree(testLogger(), TreeConfig{ShutdownTimeout: time.Second})
	svcs := []*countingService{{name: "storage"}, {name: "ingest"}, {name: "api"}}
	tree.AddStorageService(svcs[0])
	tree.AddIngestService(svcs[1])
	tree.AddAPIService(svcs[2])

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	waitUntil(t, func() bool {
		for _, s := range svcs {
			if s.starts.Load() == 0 {
				return false
			}
		}
		return true
	})

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
	for _, s := range svcs {
		if s.stops.Load() != 1 {
			t.Errorf("%s stops = %d, want 1", s.name, s.stops.Load())
		}
	}
}

func TestTree_RestartsFailedService(t *testing.T) {
	tree := NewTree(testLogger(), TreeConfig{FailureThreshold: 10, FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})
	svc := &countingService{name: "flaky", fails: 2}
	tree.AddIngestService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	waitUntil(t, func() bool { return svc.starts.Load() >= 3 })
}
