// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package tracking

import (
	"context"
	"errors"
	"fmt"
)

// Lane is a delivery path of the remote sink.
type Lane string

const (
	// LaneTrack is the live endpoint for recent events.
	LaneTrack Lane = "track"

	// LaneImport is the backfill endpoint for events older than the live
	// endpoint accepts. It needs the project secret.
	LaneImport Lane = "import"
)

// Sink is the remote analytics API. Each call returns nil on success.
type Sink interface {
	Track(ctx context.Context, event Event) error
	TrackBatch(ctx context.Context, events []Event) error
	Import(ctx context.Context, name string, timeSec int64, props Properties) error
	ImportBatch(ctx context.Context, events []Event) error
}

// NopSink is the disabled sink used when no project token is configured.
// Every call succeeds without doing anything.
type NopSink struct{}

func (NopSink) Track(context.Context, Event) error { return nil }
func (NopSink) TrackBatch(context.Context, []Event) error { return nil }
func (NopSink) Import(context.Context, string, int64, Properties) error { return nil }
func (NopSink) ImportBatch(context.Context, []Event) error { return nil }

var (
	// ErrMissingSecret is returned by a sink asked to import without a secret.
	ErrMissingSecret = errors.New("import requires an API secret")

	// ErrCircuitOpen is returned while the sink's circuit breaker is open.
	ErrCircuitOpen = errors.New("analytics sink circuit breaker is open")
)

// DeliveryError reports a rejected sink call with the lane and the number of
// events it carried.
type DeliveryError struct {
	Lane Lane
	Size int
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery of %d events: %v", e.Lane, e.Size, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
