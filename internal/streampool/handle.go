// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package streampool

import (
	"os"
	"sync"
	"time"
)

// Handle owns one open partition file.
type Handle struct {
	key  string
	path string

	// guarded by Pool.mu
	refs        int
	lastTouched time.Time
	drained     chan struct{}

	inflight sync.WaitGroup

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// Key returns the partition key.
func (h *Handle) Key() string { return h.key }

// Path returns the file path.
func (h *Handle) Path() string { return h.path }

// must be called with Pool.mu held
func (h *Handle) pin(now time.Time) {
	h.refs++
	h.lastTouched = now
	h.inflight.Add(1)
}

// Write appends payload followed by a newline as a single write.
func (h *Handle) Write(payload []byte) (int, error) {
	return h.append(payload)
}

func (h *Handle) append(payload []byte) (int, error) {
	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, &IOError{Op: "write", Key: h.key, Path: h.path, Err: ErrHandleClosed}
	}
	n, err := h.file.Write(line)
	if err != nil {
		return n, &IOError{Op: "write", Key: h.key, Path: h.path, Err: err}
	}
	return n, nil
}

// close is a no-op on an already closed handle.
func (h *Handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.file.Close(); err != nil {
		return &IOError{Op: "close", Key: h.key, Path: h.path, Err: err}
	}
	return nil
}
