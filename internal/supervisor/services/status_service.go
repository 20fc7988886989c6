// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/hivewatcher/internal/logging"
)

// HTTPServer is satisfied by *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// StatusService runs the status listener under the api layer.
type StatusService struct {
	srv   HTTPServer
	grace time.Duration
}

// NewStatusService wraps srv. grace bounds the drain on shutdown; 10s when
// not positive.
func NewStatusService(srv HTTPServer, grace time.Duration) *StatusService {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &StatusService{srv: srv, grace: grace}
}

// Serve implements suture.Service. A listener that closes on its own is
// treated as a clean exit.
func (s *StatusService) Serve(ctx context.Context) error {
	served := make(chan error, 1)
	go func() { served <- s.srv.ListenAndServe() }()

	select {
	case err := <-served:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.grace)
	defer cancel()
	if err := s.srv.Shutdown(drainCtx); err != nil {
		logging.Warn().Err(err).Dur("grace", s.grace).Msg("Status server did not drain in time")
	}
	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return ctx.Err()
}

func (s *StatusService) String() string {
	return "status-server"
}
