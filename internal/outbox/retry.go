// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package outbox

import (
	"context"
	"time"

	"github.com/tomtom215/hivewatcher/internal/logging"
	"github.com/tomtom215/hivewatcher/internal/metrics"
	"github.com/tomtom215/hivewatcher/internal/tracking"
)

// Redeliverer sends a batch of events. tracking.Router implements it.
type Redeliverer interface {
	Batch(ctx context.Context, events []tracking.Event) error
}

// RetryResult counts the outcome of one pass.
type RetryResult struct {
	Delivered int
	Failed    int
	Dropped   int
	Deferred  int
}

// Retrier periodically redelivers parked entries. It implements
// suture.Service.
type Retrier struct {
	store  *Store
	target Redeliverer
	cfg    Config
	now    func() time.Time
}

// NewRetrier creates a retry loop over store delivering to target.
func NewRetrier(store *Store, target Redeliverer) *Retrier {
	return &Retrier{
		store:  store,
		target: target,
		cfg:    store.Config(),
		now:    time.Now,
	}
}

// Serve runs passes every RetryInterval until ctx is done.
func (r *Retrier) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", r.cfg.RetryInterval).Int("max_attempts", r.cfg.MaxAttempts).
		Msg("Outbox retry loop started")

	ticker := time.NewTicker(r.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Outbox retry loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RetryOnce(ctx); err != nil && ctx.Err() == nil {
				logging.Error().Err(err).Msg("Outbox retry pass failed")
			}
		}
	}
}

// String names the service in supervisor logs.
func (r *Retrier) String() string {
	return "outbox-retrier"
}

// RetryOnce delivers up to BatchSize ready entries, oldest first, as one
// batch. Expired and exhausted entries are dropped; entries inside their
// backoff are skipped so newer entries behind them still go out.
func (r *Retrier) RetryOnce(ctx context.Context) (RetryResult, error) {
	var res RetryResult

	now := r.now()
	var drop, ready []string
	var events []tracking.Event
	err := r.store.Scan(ctx, func(e *Entry) bool {
		switch {
		case now.Sub(e.CreatedAt) > r.cfg.EntryTTL, e.Attempts >= r.cfg.MaxAttempts:
			drop = append(drop, e.ID)
			logging.Warn().Str("entry_id", e.ID).Str("event", e.Event.Name).Int("attempts", e.Attempts).
				Str("last_error", e.LastError).Msg("Outbox dropping undeliverable event")
		case !e.LastAttemptAt.IsZero() && now.Sub(e.LastAttemptAt) < r.backoff(e.Attempts):
			res.Deferred++
		default:
			ready = append(ready, e.ID)
			events = append(events, e.Event)
		}
		return len(ready) < r.cfg.BatchSize
	})
	if err != nil {
		return res, err
	}

	if len(drop) > 0 {
		if err := r.store.Drop(ctx, drop...); err != nil {
			return res, err
		}
		res.Dropped = len(drop)
		metrics.OutboxRetries.WithLabelValues("expired").Add(float64(len(drop)))
	}
	if len(ready) == 0 {
		return res, nil
	}

	// A failed batch may have delivered one lane; the remote side drops
	// those copies by $insert_id on the next attempt.
	err = r.target.Batch(ctx, events)
	metrics.RecordOutboxRetry(err)
	if err != nil {
		res.Failed = len(ready)
		if ferr := r.store.Fail(ctx, ready, err); ferr != nil {
			return res, ferr
		}
		logging.Warn().Err(err).Int("events", len(ready)).Msg("Outbox redelivery failed")
		return res, nil
	}

	if err := r.store.Confirm(ctx, ready...); err != nil {
		return res, err
	}
	res.Delivered = len(ready)
	logging.Info().Int("events", len(ready)).Msg("Outbox redelivered events")
	return res, nil
}

// backoff is RetryBackoff * 2^(attempts-1), capped at one hour.
func (r *Retrier) backoff(attempts int) time.Duration {
	const maxBackoff = time.Hour
	if attempts <= 1 {
		return r.cfg.RetryBackoff
	}
	if attempts > 30 {
		return maxBackoff
	}
	d := r.cfg.RetryBackoff << (attempts - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
