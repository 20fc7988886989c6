// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

// Package supervisor runs the long-lived parts of Hivewatcher under a suture
// supervisor tree. A service that returns an error is restarted with backoff;
// cancelling the root context stops every service, api first.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds the restart policy.
type TreeConfig struct {
	// FailureThreshold failures within the decay window trigger backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay in seconds. Default: 30
	FailureDecay float64

	// FailureBackoff is the pause once the threshold is hit. Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout bounds how long each service may take to stop.
	// Default: 10s
	ShutdownTimeout time.Duration
}

func (c *TreeConfig) applyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5.0
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = 30.0
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = 15 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Tree has three layers:
//   - storage: outbox retry loop
//   - ingest: podping source feeding the pipeline
//   - api: health and metrics listener
type Tree struct {
	root    *suture.Supervisor
	storage *suture.Supervisor
	ingest  *suture.Supervisor
	api     *suture.Supervisor
	config  TreeConfig
}

// NewTree builds the tree. Supervisor events are logged through logger.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	config.applyDefaults()

	handler := &sutureslog.Handler{Logger: logger}
	spec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = handler.MustHook()

	t := &Tree{
		root:    suture.New("hivewatcher", rootSpec),
		storage: suture.New("storage-layer", spec),
		ingest:  suture.New("ingest-layer", spec),
		api:     suture.New("api-layer", spec),
		config:  config,
	}
	t.root.Add(t.storage)
	t.root.Add(t.ingest)
	t.root.Add(t.api)
	return t
}

// Root returns the root supervisor.
func (t *Tree) Root() *suture.Supervisor {
	return t.root
}

// AddStorageService adds svc to the storage layer.
func (t *Tree) AddStorageService(svc suture.Service) suture.ServiceToken {
	return t.storage.Add(svc)
}

// AddIngestService adds svc to the ingest layer.
func (t *Tree) AddIngestService(svc suture.Service) suture.ServiceToken {
	return t.ingest.Add(svc)
}

// AddAPIService adds svc to the api layer.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve blocks until ctx is cancelled and every service stopped.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that outlived ShutdownTimeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
