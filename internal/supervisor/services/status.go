// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package services

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/hivewatcher/internal/logging"
)

// Status is the /healthz body.
type Status struct {
	Status      string   `json:"status"`
	Version     string   `json:"version"`
	Uptime      string   `json:"uptime"`
	OpenStreams int      `json:"open_streams"`
	StreamKeys  []string `json:"stream_keys"`
	Outbox      int      `json:"outbox_pending"`
}

// StatusFunc fills the live fields of Status.
type StatusFunc func(r *http.Request) Status

// NewStatusRouter serves GET /healthz and GET /metrics.
func NewStatusRouter(status StatusFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		body, err := json.Marshal(status(req))
		if err != nil {
			logging.Error().Err(err).Msg("Failed to encode health status")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}
