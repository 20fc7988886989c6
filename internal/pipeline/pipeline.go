// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/hivewatcher/internal/logging"
	"github.com/tomtom215/hivewatcher/internal/metrics"
	"github.com/tomtom215/hivewatcher/internal/streampool"
	"github.com/tomtom215/hivewatcher/internal/tracking"
)

var (
	// ErrClosed is returned by Run after Shutdown.
	ErrClosed = errors.New("pipeline is shut down")

	// ErrRunning is returned by Run while another Run is active.
	ErrRunning = errors.New("pipeline is already running")
)

// Producer emits notifications in arrival order. The channel is closed when
// the producer has no more events or ctx ends.
type Producer interface {
	Events(ctx context.Context) (<-chan RawEvent, error)
}

// Deduper filters replays. Seen records key and reports whether it was
// already recorded. Forget drops key so a later replay is accepted.
type Deduper interface {
	Seen(key string) bool
	Forget(key string)
}

// Parker stores events whose delivery failed.
type Parker interface {
	Park(ctx context.Context, events []tracking.Event, cause error) error
}

// Config tunes the intake loop.
type Config struct {
	// MaxInFlight bounds concurrent deliveries. Default: 64
	MaxInFlight int

	// IdleThreshold and EvictInterval drive the file evictor.
	// Defaults: 120s and 60s
	IdleThreshold time.Duration
	EvictInterval time.Duration

	// Now is used for log fields. Default: time.Now
	Now func() time.Time
}

// Deps are the collaborators. Pool and Router are required.
type Deps struct {
	Pool   *streampool.Pool
	Router *tracking.Router

	// Dedup and Outbox are optional.
	Dedup  Deduper
	Outbox Parker
}

// Pipeline wires a producer to the stream pool and the delivery router.
type Pipeline struct {
	cfg    Config
	pool   *streampool.Pool
	router *tracking.Router
	dedup  Deduper
	outbox Parker

	deliveries      errgroup.Group
	deliverCtx      context.Context
	abortDeliveries context.CancelFunc

	mu          sync.Mutex
	running     bool
	closed      bool
	stopIntake  context.CancelFunc
	intakeDone  chan struct{}
	stopEvictor context.CancelFunc
	evictorDone chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// New validates deps and applies defaults.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Pool == nil {
		return nil, errors.New("pipeline: stream pool is required")
	}
	if deps.Router == nil {
		return nil, errors.New("pipeline: router is required")
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 64
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 120 * time.Second
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	p := &Pipeline{
		cfg:    cfg,
		pool:   deps.Pool,
		router: deps.Router,
		dedup:  deps.Dedup,
		outbox: deps.Outbox,
	}
	p.deliveries.SetLimit(cfg.MaxInFlight)
	p.deliverCtx, p.abortDeliveries = context.WithCancel(context.Background())
	return p, nil
}

// Run consumes producer until it closes its channel, ctx ends or Shutdown
// is called. It returns ctx's error when ctx ended, nil otherwise. Run may be
// called again after it returned, until Shutdown.
func (p *Pipeline) Run(ctx context.Context, producer Producer) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.running {
		p.mu.Unlock()
		return ErrRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.running = true
	p.stopIntake = cancel
	p.intakeDone = done
	p.startEvictorLocked()
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		close(done)
	}()

	events, err := producer.Events(runCtx)
	if err != nil {
		return fmt.Errorf("start producer: %w", err)
	}

	logging.Info().Int("max_in_flight", p.cfg.MaxInFlight).Msg("Pipeline started")
	for {
		select {
		case <-runCtx.Done():
			return ctx.Err()
		case raw, ok := <-events:
			if !ok {
				logging.Info().Msg("Producer closed its stream")
				return nil
			}
			p.handle(raw)
		}
	}
}

// handle runs on the intake goroutine.
func (p *Pipeline) handle(raw RawEvent) {
	metrics.EventsReceived.Inc()
	ctx := logging.ContextWithNewCorrelationID(p.deliverCtx)
	logging.Ctx(ctx).Info().
		Str("block_id", raw.ID).
		Int64("block_num", raw.BlockNum).
		Dur("age", p.cfg.Now().Sub(raw.Time)).
		Int("urls", len(raw.SubKeys)).
		Msg("Parsing block")

	if blockID := raw.InsertID(); !p.replayed(EventBlock, blockID) {
		p.deliver(ctx, EventBlock, blockID, raw.Properties())
	}

	for _, d := range FanOut(raw) {
		metrics.EventsDerived.Inc()
		props := d.Properties()
		id, _ := props[tracking.KeyInsertID].Str()
		if p.replayed(EventURL, id) {
			metrics.EventsDeduplicated.Inc()
			logging.Ctx(ctx).Debug().Str("insert_id", id).Msg("Skipping replayed event")
			continue
		}
		p.persist(ctx, d.Time, props)
		p.deliver(ctx, EventURL, id, props)
	}
}

func (p *Pipeline) replayed(name, id string) bool {
	if p.dedup == nil {
		return false
	}
	return p.dedup.Seen(dedupKey(name, id))
}

// forget lets a replay of an event that was neither delivered nor parked
// through the dedup filter.
func (p *Pipeline) forget(ctx context.Context, name, id string) {
	if p.dedup == nil {
		return
	}
	p.dedup.Forget(dedupKey(name, id))
	logging.Ctx(ctx).Debug().Str("event", name).Str("insert_id", id).Msg("Undelivered event will be accepted on replay")
}

func dedupKey(name, id string) string {
	return name + ":" + id
}

// persist appends one normalized line to the partition file of at.
func (p *Pipeline) persist(ctx context.Context, at time.Time, props tracking.Properties) {
	key := streampool.PartitionKey(at)
	line, err := json.Marshal(tracking.Normalize(props))
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("key", key).Msg("Failed to encode event")
		return
	}
	if err := p.pool.Write(key, line); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("key", key).Msg("Failed to persist event, delivering anyway")
	}
}

// deliver blocks while MaxInFlight deliveries are running. ctx must derive
// from deliverCtx.
func (p *Pipeline) deliver(ctx context.Context, name, id string, props tracking.Properties) {
	p.deliveries.Go(func() error {
		metrics.DeliveriesInFlight.Inc()
		defer metrics.DeliveriesInFlight.Dec()

		err := p.router.Track(ctx, name, props)
		if err != nil && !p.park(ctx, name, props, err) {
			p.forget(ctx, name, id)
		}
		return nil
	})
}

// park reports whether the outbox now holds the event.
func (p *Pipeline) park(ctx context.Context, name string, props tracking.Properties, cause error) bool {
	if p.outbox == nil {
		return false
	}
	if err := p.outbox.Park(context.WithoutCancel(ctx), []tracking.Event{{Name: name, Properties: props}}, cause); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("event", name).Msg("Failed to park event in outbox, event lost")
		return false
	}
	logging.Ctx(ctx).Debug().Str("event", name).Msg("Parked event in outbox")
	return true
}

func (p *Pipeline) startEvictorLocked() {
	if p.evictorDone != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.stopEvictor = cancel
	p.evictorDone = make(chan struct{})
	go p.evictLoop(ctx, p.evictorDone)
}

func (p *Pipeline) evictLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.pool.EvictIdle(ctx, p.cfg.IdleThreshold); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Msg("Idle eviction failed")
			}
			if pr, ok := p.dedup.(interface{ Prune() int }); ok {
				pr.Prune()
			}
		}
	}
}

// Shutdown stops intake, waits for in-flight deliveries, stops the evictor,
// closes every partition file and waits for detached delivery lanes. It runs
// once; later and concurrent calls return the first call's result. If ctx
// ends first, outstanding deliveries are cancelled.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown(ctx)
	})
	return p.shutdownErr
}

func (p *Pipeline) shutdown(ctx context.Context) error {
	logging.Info().Msg("Pipeline shutting down")

	p.mu.Lock()
	p.closed = true
	stopIntake, intakeDone := p.stopIntake, p.intakeDone
	stopEvictor, evictorDone := p.stopEvictor, p.evictorDone
	p.mu.Unlock()

	var errs []error
	if stopIntake != nil {
		stopIntake()
		if err := waitFor(ctx, intakeDone); err != nil {
			errs = append(errs, fmt.Errorf("stop intake: %w", err))
		}
	}

	if err := waitFor(ctx, goWait(func() { _ = p.deliveries.Wait() })); err != nil {
		p.abortDeliveries()
		errs = append(errs, fmt.Errorf("wait for deliveries: %w", err))
	}

	if stopEvictor != nil {
		stopEvictor()
		<-evictorDone
	}

	if err := p.pool.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close partition files: %w", err))
	}

	if err := waitFor(ctx, goWait(p.router.Wait)); err != nil {
		errs = append(errs, fmt.Errorf("wait for delivery lanes: %w", err))
	}
	p.abortDeliveries()

	err := errors.Join(errs...)
	if err != nil {
		logging.Warn().Err(err).Msg("Pipeline shutdown incomplete")
	} else {
		logging.Info().Msg("Pipeline stopped")
	}
	return err
}

func goWait(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	return done
}

func waitFor(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
