// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

// Package metrics holds the Prometheus collectors for the event-sink pipeline.
// Collectors are registered on the default registry and served at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream pool
var (
	StreamsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivewatcher_streams_open",
			Help: "Number of open NDJSON partition files",
		},
	)

	StreamEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivewatcher_stream_evictions_total",
			Help: "Partition files closed by the pool",
		},
		[]string{"reason"}, // "idle", "shutdown"
	)

	StreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivewatcher_stream_errors_total",
			Help: "Partition file failures by operation",
		},
		[]string{"op"}, // "open", "write", "close"
	)

	StreamBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hivewatcher_stream_bytes_written_total",
			Help: "Bytes appended to partition files",
		},
	)
)

// Pipeline
var (
	EventsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hivewatcher_events_received_total",
			Help: "Raw podping events pulled from the source",
		},
	)

	EventsDerived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hivewatcher_events_derived_total",
			Help: "Derived per-URL events produced by fan-out",
		},
	)

	EventsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hivewatcher_events_deduplicated_total",
			Help: "Derived events skipped because their insert id was seen recently",
		},
	)

	DeliveriesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivewatcher_deliveries_in_flight",
			Help: "Deliveries handed off by the intake loop and not yet settled",
		},
	)
)

// Delivery
var (
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivewatcher_deliveries_total",
			Help: "Remote sink calls by lane and result",
		},
		[]string{"lane", "result"}, // lane: "track", "import"; result: "success", "failure"
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hivewatcher_delivery_duration_seconds",
			Help:    "Remote sink call latency by lane",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"lane"},
	)

	DeliveryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivewatcher_delivery_events_total",
			Help: "Events submitted to the remote sink by lane",
		},
		[]string{"lane"},
	)

	RoutingDowngrades = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hivewatcher_routing_downgrades_total",
			Help: "Events routed to track because no import secret is configured",
		},
	)

	SinkRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hivewatcher_sink_rate_limited_total",
			Help: "HTTP 429 responses received from the analytics API",
		},
	)
)

// Circuit breaker
var (
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hivewatcher_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivewatcher_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivewatcher_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)
)

// Source and outbox
var (
	SourceMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivewatcher_source_messages_total",
			Help: "Podping messages consumed by result",
		},
		[]string{"result"}, // "accepted", "invalid", "skipped"
	)

	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivewatcher_outbox_pending",
			Help: "Deliveries parked in the outbox awaiting retry",
		},
	)

	OutboxRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivewatcher_outbox_retries_total",
			Help: "Outbox redelivery attempts by result",
		},
		[]string{"result"}, // "success", "failure", "expired"
	)
)

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordDelivery records one remote sink call of size events on lane.
func RecordDelivery(lane string, size int, duration time.Duration, err error) {
	Deliveries.WithLabelValues(lane, result(err)).Inc()
	DeliveryDuration.WithLabelValues(lane).Observe(duration.Seconds())
	DeliveryEvents.WithLabelValues(lane).Add(float64(size))
}

// RecordStreamError counts a failed open, write or close.
func RecordStreamError(op string) {
	StreamErrors.WithLabelValues(op).Inc()
}

// RecordEviction counts a closed partition file.
func RecordEviction(reason string) {
	StreamEvictions.WithLabelValues(reason).Inc()
}

// RecordOutboxRetry counts a redelivery attempt.
func RecordOutboxRetry(err error) {
	OutboxRetries.WithLabelValues(result(err)).Inc()
}

// RecordSourceMessage counts a consumed podping message.
func RecordSourceMessage(outcome string) {
	SourceMessages.WithLabelValues(outcome).Inc()
}
