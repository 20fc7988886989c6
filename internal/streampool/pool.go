// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package streampool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/hivewatcher/internal/logging"
	"github.com/tomtom215/hivewatcher/internal/metrics"
)

// DefaultExtension is appended to the partition key to build the file name.
const DefaultExtension = ".ndjson"

// Config configures a Pool.
type Config struct {
	// DataDir holds the partition files. Created if missing.
	DataDir string

	// Extension defaults to DefaultExtension.
	Extension string

	// FileMode for newly created files. Default: 0644
	FileMode os.FileMode

	// Now is the clock used for lastTouched. Default: time.Now
	Now func() time.Time
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Open         int
	Opened       int64
	Evicted      int64
	Writes       int64
	WriteErrors  int64
	BytesWritten int64
}

// Pool maps partition keys to open handles.
type Pool struct {
	cfg Config

	mu       sync.Mutex
	handles  map[string]*Handle
	draining map[string]chan struct{}
	closed   bool

	opened       atomic.Int64
	evicted      atomic.Int64
	writes       atomic.Int64
	writeErrors  atomic.Int64
	bytesWritten atomic.Int64
}

// New creates the data directory and an empty pool.
func New(cfg Config) (*Pool, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("streampool: data dir is required")
	}
	if cfg.Extension == "" {
		cfg.Extension = DefaultExtension
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0o644
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: cfg.DataDir, Err: err}
	}

	return &Pool{
		cfg:      cfg,
		handles:  make(map[string]*Handle),
		draining: make(map[string]chan struct{}),
	}, nil
}

// PartitionKey is the UTC calendar date of t, formatted YYYY-MM-DD.
func PartitionKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Path returns the file path used for key.
func (p *Pool) Path(key string) string {
	return filepath.Join(p.cfg.DataDir, key+p.cfg.Extension)
}

// Acquire returns the handle for key, opening the file in append mode on
// first use. The handle is pinned until Release is called.
func (p *Pool) Acquire(key string) (*Handle, error) {
	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		done, busy := p.draining[key]
		if !busy {
			break
		}
		p.mu.Unlock()
		<-done
		p.mu.Lock()
	}
	defer p.mu.Unlock()

	if h, ok := p.handles[key]; ok {
		h.pin(p.cfg.Now())
		return h, nil
	}

	path := p.Path(key)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, p.cfg.FileMode)
	if err != nil {
		metrics.RecordStreamError("open")
		return nil, &IOError{Op: "open", Key: key, Path: path, Err: err}
	}

	h := &Handle{key: key, path: path, file: f}
	h.pin(p.cfg.Now())
	p.handles[key] = h
	p.opened.Add(1)
	metrics.StreamsOpen.Inc()
	logging.Debug().Str("key", key).Str("path", path).Msg("Opened partition file")
	return h, nil
}

// Release unpins h and refreshes its lastTouched.
func (p *Pool) Release(h *Handle) {
	p.mu.Lock()
	h.refs--
	h.lastTouched = p.cfg.Now()
	p.mu.Unlock()
	h.inflight.Done()
}

// Write appends payload and a trailing newline to the file for key.
// Concurrent writes to one key are serialized; callers that need a strict
// order must issue them in that order from a single goroutine.
func (p *Pool) Write(key string, payload []byte) error {
	h, err := p.Acquire(key)
	if err != nil {
		return err
	}
	defer p.Release(h)

	n, err := h.append(payload)
	p.writes.Add(1)
	if err != nil {
		p.writeErrors.Add(1)
		metrics.RecordStreamError("write")
		return err
	}
	p.bytesWritten.Add(int64(n))
	metrics.StreamBytesWritten.Add(float64(n))
	return nil
}

// EvictIdle closes every unpinned handle whose lastTouched is more than
// threshold in the past. A threshold <= 0 evicts all handles, waiting for
// pinned ones to be released first. Close failures are logged and returned
// joined; they never stop the scan. EvictIdle returns after every selected
// handle is closed, or with ctx's error if ctx ends while waiting on a
// pinned handle.
func (p *Pool) EvictIdle(ctx context.Context, threshold time.Duration) error {
	force := threshold <= 0
	reason := "idle"
	if force {
		reason = "shutdown"
	}

	p.mu.Lock()
	now := p.cfg.Now()
	var victims []*Handle
	for key, h := range p.handles {
		if !force && (h.refs > 0 || now.Sub(h.lastTouched) <= threshold) {
			continue
		}
		delete(p.handles, key)
		h.drained = make(chan struct{})
		p.draining[key] = h.drained
		victims = append(victims, h)
	}
	p.mu.Unlock()

	if len(victims) == 0 {
		return nil
	}

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for _, h := range victims {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			err := p.retire(ctx, h, reason)
			if err != nil {
				emu.Lock()
				errs = append(errs, err)
				emu.Unlock()
			}
		}(h)
	}
	wg.Wait()

	logging.Debug().Int("evicted", len(victims)).Str("reason", reason).Msg("Evicted partition files")
	return errors.Join(errs...)
}

// retire waits for h's in-flight writes, closes it and lets blocked
// Acquire calls for the same key proceed. If ctx ends first the close still
// happens in the background once the writes finish.
func (p *Pool) retire(ctx context.Context, h *Handle, reason string) error {
	idle := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return p.finish(h, reason)
	case <-ctx.Done():
		logging.Warn().Str("key", h.key).Msg("Partition file still has a write in flight, closing in background")
		go func() {
			<-idle
			_ = p.finish(h, reason)
		}()
		return fmt.Errorf("evict %s: %w", h.key, ctx.Err())
	}
}

func (p *Pool) finish(h *Handle, reason string) error {
	defer func() {
		p.mu.Lock()
		delete(p.draining, h.key)
		p.mu.Unlock()
		close(h.drained)
	}()

	p.evicted.Add(1)
	metrics.StreamsOpen.Dec()
	metrics.RecordEviction(reason)
	if err := h.close(); err != nil {
		metrics.RecordStreamError("close")
		logging.Error().Err(err).Str("key", h.key).Msg("Failed to close partition file")
		return err
	}
	return nil
}

// Close marks the pool closed and evicts every handle. It is idempotent;
// later calls return nil immediately.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.EvictIdle(ctx, 0)
}

// Len returns the number of open handles.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Keys returns the open partition keys in sorted order.
func (p *Pool) Keys() []string {
	p.mu.Lock()
	keys := make([]string, 0, len(p.handles))
	for k := range p.handles {
		keys = append(keys, k)
	}
	p.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Open:         p.Len(),
		Opened:       p.opened.Load(),
		Evicted:      p.evicted.Load(),
		Writes:       p.writes.Load(),
		WriteErrors:  p.writeErrors.Load(),
		BytesWritten: p.bytesWritten.Load(),
	}
}
