// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

// Package cache holds the replay filter of the pipeline: a bounded,
// TTL-expiring set of recently seen insert ids.
package cache

import (
	"sync"
	"time"
)

type node struct {
	key        string
	expiresAt  time.Time
	prev, next *node
}

// Dedup is a thread-safe LRU set with per-key expiry. Lookups and inserts
// are O(1); when full the least recently seen key is dropped.
type Dedup struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration
	now      func() time.Time

	items map[string]*node

	// head.next is the most recently seen key, tail.prev the least.
	head, tail *node

	hits, misses int64
}

// NewDedup creates a filter that remembers up to capacity keys for ttl.
// Non-positive values fall back to 10000 keys and 10 minutes.
func NewDedup(capacity int, ttl time.Duration) *Dedup {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	d := &Dedup{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[string]*node, capacity),
		head:     &node{},
		tail:     &node{},
	}
	d.head.next = d.tail
	d.tail.prev = d.head
	return d
}

// SetClock replaces the time source. Tests only.
func (d *Dedup) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

// Seen reports whether key was recorded within the TTL. A key not seen is
// recorded, so the first call returns false and a repeat returns true.
// A repeat does not extend the expiry.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if n, ok := d.items[key]; ok {
		if now.Before(n.expiresAt) {
			d.unlink(n)
			d.pushFront(n)
			d.hits++
			return true
		}
		d.remove(n)
	}

	n := &node{key: key, expiresAt: now.Add(d.ttl)}
	d.pushFront(n)
	d.items[key] = n
	for len(d.items) > d.capacity {
		d.remove(d.tail.prev)
	}
	d.misses++
	return false
}

// Forget drops key so it is accepted again.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.items[key]; ok {
		d.remove(n)
	}
}

// Prune drops expired keys and returns how many were dropped.
func (d *Dedup) Prune() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	dropped := 0
	for n := d.tail.prev; n != d.head; {
		prev := n.prev
		if !now.Before(n.expiresAt) {
			d.remove(n)
			dropped++
		}
		n = prev
	}
	return dropped
}

// Len returns the number of keys held, expired ones included until pruned.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Stats returns repeat and first-seen counts.
func (d *Dedup) Stats() (hits, misses int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hits, d.misses
}

// list helpers, lock held

func (d *Dedup) pushFront(n *node) {
	n.prev = d.head
	n.next = d.head.next
	d.head.next.prev = n
	d.head.next = n
}

func (d *Dedup) unlink(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
}

func (d *Dedup) remove(n *node) {
	d.unlink(n)
	delete(d.items, n.key)
}
