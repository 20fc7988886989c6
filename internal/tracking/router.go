// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/hivewatcher/internal/logging"
	"github.com/tomtom215/hivewatcher/internal/metrics"
)

// DefaultMaxAge is how old an event may be before it has to go through the
// import lane: 4.5 days.
const DefaultMaxAge = 108 * time.Hour

// RouterOptions configures a Router.
type RouterOptions struct {
	// ImportEnabled is true when the API secret is configured.
	ImportEnabled bool

	// MaxAge defaults to DefaultMaxAge.
	MaxAge time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Batch is a stable split of events into the two lanes.
type Batch struct {
	Import []Event
	Track  []Event
}

// Router picks a lane per event and calls the sink. It holds no per-event
// state.
type Router struct {
	sink   Sink
	supers *SuperProperties
	opts   RouterOptions

	// rate limited so a missing secret does not flood the log
	gapLog zerolog.Logger

	bg sync.WaitGroup
}

// NewRouter creates a router delivering to sink with supers merged under
// every event. A nil supers merges nothing.
func NewRouter(sink Sink, supers *SuperProperties, opts RouterOptions) *Router {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Router{
		sink:   sink,
		supers: supers,
		opts:   opts,
		gapLog: logging.WithComponent("router").Sample(&zerolog.BurstSampler{Burst: 1, Period: time.Minute}),
	}
}

// UseImport reports whether props must be delivered through the import lane:
// the secret is configured, distinct_id and time are present and time is
// older than now minus MaxAge. Time may be a timestamp or epoch seconds; both
// are compared as epoch seconds.
func (r *Router) UseImport(props Properties) bool {
	if !r.opts.ImportEnabled {
		metrics.RoutingDowngrades.Inc()
		r.gapLog.Warn().Msg("Secret is required for the import API, routing to track")
		return false
	}
	if !props.Has(KeyDistinctID) || !props.Has(KeyTime) {
		return false
	}
	sec, ok := timeSeconds(props[KeyTime])
	if !ok {
		return false
	}
	threshold := float64(EpochSeconds(r.opts.Now())) - r.opts.MaxAge.Seconds()
	return sec < threshold
}

func timeSeconds(v Value) (float64, bool) {
	if t, ok := v.Time(); ok {
		return float64(EpochSeconds(t)), true
	}
	if n, ok := v.Num(); ok {
		return n, true
	}
	return 0, false
}

// Partition splits events by UseImport, keeping input order in each lane.
func (r *Router) Partition(events []Event) Batch {
	var b Batch
	for _, e := range events {
		if r.UseImport(e.Properties) {
			b.Import = append(b.Import, e)
		} else {
			b.Track = append(b.Track, e)
		}
	}
	return b
}

// prepare applies super properties and normalization.
func (r *Router) prepare(props Properties) Properties {
	return r.supers.Apply(props)
}

type laneResult struct {
	lane Lane
	size int
	err  error
}

// Batch delivers events through both lanes concurrently. It returns nil once
// every non-empty lane succeeded, or the first lane failure as a
// *DeliveryError without waiting for the other lane. The other lane keeps
// running; its failure is logged. Wait blocks until such lanes finish.
func (r *Router) Batch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	prepared := make([]Event, len(events))
	for i, e := range events {
		prepared[i] = Event{Name: e.Name, Properties: r.prepare(e.Properties)}
	}
	b := r.Partition(prepared)
	logging.Debug().Int("import", len(b.Import)).Int("track", len(b.Track)).Msg("Using batch tracking")

	// Lanes outlive an early return, so they must not be cancelled with it.
	laneCtx := context.WithoutCancel(ctx)
	results := make(chan laneResult, 2)
	pending := 0
	launch := func(lane Lane, evs []Event, send func(context.Context, []Event) error) {
		pending++
		r.bg.Add(1)
		go func() {
			defer r.bg.Done()
			err := r.deliver(lane, len(evs), func() error { return send(laneCtx, evs) })
			results <- laneResult{lane: lane, size: len(evs), err: err}
		}()
	}
	if len(b.Import) > 0 {
		launch(LaneImport, b.Import, r.sink.ImportBatch)
	}
	if len(b.Track) > 0 {
		launch(LaneTrack, b.Track, r.sink.TrackBatch)
	}

	for received := 0; received < pending; received++ {
		select {
		case res := <-results:
			if res.err != nil {
				r.drain(results, pending-received-1)
				return res.err
			}
		case <-ctx.Done():
			r.drain(results, pending-received)
			return ctx.Err()
		}
	}
	return nil
}

// drain consumes n outstanding lane results in the background.
func (r *Router) drain(results <-chan laneResult, n int) {
	if n <= 0 {
		return
	}
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		for i := 0; i < n; i++ {
			res := <-results
			if res.err != nil {
				logging.Error().Err(res.err).Str("lane", string(res.lane)).Int("size", res.size).
					Msg("Lane failed after batch already returned")
				continue
			}
			logging.Debug().Str("lane", string(res.lane)).Int("size", res.size).
				Msg("Lane completed after batch already returned")
		}
	}()
}

// Track delivers one event. A present time older than MaxAge goes through
// Import with time passed separately; everything else goes through Track.
func (r *Router) Track(ctx context.Context, name string, props Properties) error {
	final := r.prepare(props)

	if tv, ok := final[KeyTime]; ok && !tv.IsZero() && r.UseImport(final) {
		sec, _ := timeSeconds(tv)
		rest := final.Without(KeyTime)
		logging.Debug().
			Str("event", name).
			Int64("time", int64(sec)).
			Object("properties", rest).
			Msg("Track via import due to time")
		return r.deliver(LaneImport, 1, func() error {
			return r.sink.Import(ctx, name, int64(sec), rest)
		})
	}
	return r.deliver(LaneTrack, 1, func() error {
		return r.sink.Track(ctx, Event{Name: name, Properties: final})
	})
}

func (r *Router) deliver(lane Lane, size int, call func() error) error {
	start := time.Now()
	err := call()
	metrics.RecordDelivery(string(lane), size, time.Since(start), err)
	if err != nil {
		logging.Error().Err(err).Str("lane", string(lane)).Int("size", size).Msg("Delivery failed")
		return &DeliveryError{Lane: lane, Size: size, Err: err}
	}
	return nil
}

// Wait blocks until lanes detached by Batch have finished.
func (r *Router) Wait() {
	r.bg.Wait()
}
