// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

/*
Package pipeline turns podping notifications into analytics events.

# Flow

For every RawEvent the intake loop:

 1. sends one "Hive Block" event keyed on the first URL
 2. fans the notification out into one DerivedEvent per URL
 3. appends each DerivedEvent, normalized, to the file of its UTC date
 4. sends each DerivedEvent as "Hive URL"

Intake is a single goroutine, so lines of one file keep arrival order.
Deliveries run concurrently, at most Config.MaxInFlight at a time.

# Failures

A failed file write is logged and does not stop delivery. A failed delivery
is parked in the outbox when one is configured. When nothing holds the event,
its dedup key is forgotten so a replay of the same block delivers it again.

# Lifecycle

Run starts a background evictor that closes partition files idle for longer
than Config.IdleThreshold, checking every Config.EvictInterval, and prunes the
dedup window. Run may be called again after it returns. Shutdown stops intake,
waits for deliveries, stops the evictor and closes every file:

	p, _ := pipeline.New(cfg, pipeline.Deps{Pool: pool, Router: router})
	go p.Run(ctx, src)
	...
	_ = p.Shutdown(shutdownCtx)
*/
package pipeline
