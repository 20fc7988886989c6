// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestDedup(capacity int, ttl time.Duration) (*Dedup, *clock) {
	clk := &clock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	d := NewDedup(capacity, ttl)
	d.SetClock(clk.Now)
	return d, clk
}

func TestDedup_Seen(t *testing.T) {
	d, _ := newTestDedup(10, time.Minute)

	if d.Seen("a") {
		t.Error("first Seen(a) = true, want false")
	}
	if !d.Seen("a") {
		t.Error("second Seen(a) = false, want true")
	}
	if d.Seen("b") {
		t.Error("first Seen(b) = true, want false")
	}

	hits, misses := d.Stats()
	if hits != 1 || misses != 2 {
		t.Errorf("Stats() = %d, %d, want 1, 2", hits, misses)
	}
}

func TestDedup_Expiry(t *testing.T) {
	d, clk := newTestDedup(10, time.Minute)

	d.Seen("a")
	clk.Advance(59 * time.Second)
	if !d.Seen("a") {
		t.Error("Seen(a) inside TTL = false")
	}

	// a repeat does not extend the expiry
	clk.Advance(time.Second)
	if d.Seen("a") {
		t.Error("Seen(a) at TTL = true, want false")
	}
}

func TestDedup_CapacityEvictsLeastRecent(t *testing.T) {
	d, _ := newTestDedup(2, time.Hour)

	d.Seen("a")
	d.Seen("b")
	d.Seen("a") // a becomes most recent
	d.Seen("c") // evicts b

	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}
	if !d.Seen("a") {
		t.Error("a should still be held")
	}
	if d.Seen("b") {
		t.Error("b should have been evicted")
	}
}

func TestDedup_ForgetAndPrune(t *testing.T) {
	d, clk := newTestDedup(10, time.Minute)

	d.Seen("a")
	d.Forget("a")
	if d.Seen("a") {
		t.Error("Seen(a) after Forget = true")
	}

	d.Seen("b")
	clk.Advance(2 * time.Minute)
	d.Seen("c")
	if got := d.Prune(); got != 2 {
		t.Errorf("Prune() = %d, want 2", got)
	}
	if d.Len() != 1 {
		t.Errorf("Len() = %d, want 1", d.Len())
	}
}

func TestDedup_Concurrent(t *testing.T) {
	d := NewDedup(1000, time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if !d.Seen(fmt.Sprintf("k%d", i)) {
					mu.Lock()
					firsts++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if firsts != 100 {
		t.Errorf("first sightings = %d, want 100", firsts)
	}
}
