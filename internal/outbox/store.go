// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/hivewatcher/internal/logging"
	"github.com/tomtom215/hivewatcher/internal/metrics"
	"github.com/tomtom215/hivewatcher/internal/tracking"
)

var (
	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("outbox is closed")

	// ErrEntryNotFound is returned when updating an entry that is gone.
	ErrEntryNotFound = errors.New("outbox entry not found")
)

const prefixPending = "pending:"

// Entry is one parked event.
type Entry struct {
	ID            string         `json:"id"`
	Event         tracking.Event `json:"event"`
	CreatedAt     time.Time      `json:"created_at"`
	Attempts      int            `json:"attempts"`
	LastAttemptAt time.Time      `json:"last_attempt_at,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
}

// Config configures Store and Retrier.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path     string
	InMemory bool

	// EntryTTL bounds how long an entry is kept, attempts or not.
	EntryTTL time.Duration

	// MaxAttempts failed redeliveries drop the entry.
	MaxAttempts int

	RetryInterval time.Duration
	RetryBackoff  time.Duration
	BatchSize     int

	SyncWrites bool
}

func (c *Config) applyDefaults() {
	if c.EntryTTL <= 0 {
		c.EntryTTL = 7 * 24 * time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = c.RetryInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = tracking.MaxBatchSize
	}
}

// Store is the BadgerDB backed outbox.
type Store struct {
	db  *badger.DB
	cfg Config
	now func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the outbox.
func Open(cfg Config) (*Store, error) {
	cfg.applyDefaults()
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("outbox path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	s := &Store{db: db, cfg: cfg, now: time.Now}
	if n, err := s.Count(context.Background()); err == nil {
		metrics.OutboxPending.Set(float64(n))
		if n > 0 {
			logging.Info().Int("pending", n).Str("path", cfg.Path).Msg("Outbox has entries from a previous run")
		}
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.cfg
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func entryKey(id string) []byte {
	return []byte(prefixPending + id)
}

// newID sorts by creation time, then by position in the parked batch.
func newID(t time.Time, seq int) string {
	return fmt.Sprintf("%020d-%06d-%s", t.UnixNano(), seq, uuid.NewString())
}

// Park stores events for later redelivery. Properties are normalized first
// so timestamps survive the JSON round trip as epoch seconds.
func (s *Store) Park(ctx context.Context, events []tracking.Event, cause error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	now := s.now().UTC()
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := Entry{
			ID:        newID(now, i),
			Event:     tracking.Event{Name: e.Name, Properties: tracking.Normalize(e.Properties)},
			CreatedAt: now,
			LastError: lastErr,
		}
		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		if err := wb.SetEntry(badger.NewEntry(entryKey(entry.ID), data).WithTTL(s.cfg.EntryTTL)); err != nil {
			return fmt.Errorf("write entry: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush outbox batch: %w", err)
	}

	metrics.OutboxPending.Add(float64(len(events)))
	return nil
}

// Pending returns up to limit entries, oldest first. limit <= 0 returns all.
func (s *Store) Pending(ctx context.Context, limit int) ([]*Entry, error) {
	var entries []*Entry
	err := s.Scan(ctx, func(e *Entry) bool {
		entries = append(entries, e)
		return limit <= 0 || len(entries) < limit
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Scan calls fn for each entry, oldest first, until fn returns false.
// Unreadable entries are logged and skipped.
func (s *Store) Scan(ctx context.Context, fn func(*Entry) bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var entry Entry
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Outbox skipping unreadable entry")
				continue
			}
			if !fn(&entry) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("iterate outbox: %w", err)
	}
	return nil
}

// Confirm removes delivered entries. Missing ids are ignored.
func (s *Store) Confirm(ctx context.Context, ids ...string) error {
	return s.remove(ctx, ids)
}

// Drop removes entries that will not be retried.
func (s *Store) Drop(ctx context.Context, ids ...string) error {
	return s.remove(ctx, ids)
}

func (s *Store) remove(ctx context.Context, ids []string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	removed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := txn.Get(entryKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
				continue
			} else if err != nil {
				return err
			}
			if err := txn.Delete(entryKey(id)); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove outbox entries: %w", err)
	}
	metrics.OutboxPending.Sub(float64(removed))
	return nil
}

// Fail records a failed redelivery attempt on each entry.
func (s *Store) Fail(ctx context.Context, ids []string, cause error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	now := s.now().UTC()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(entryKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
			}
			if err != nil {
				return fmt.Errorf("get entry: %w", err)
			}

			var entry Entry
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); err != nil {
				return fmt.Errorf("unmarshal entry: %w", err)
			}
			entry.Attempts++
			entry.LastAttemptAt = now
			entry.LastError = msg

			data, err := json.Marshal(&entry)
			if err != nil {
				return fmt.Errorf("marshal entry: %w", err)
			}
			e := badger.NewEntry(entryKey(id), data)
			if exp := item.ExpiresAt(); exp > 0 {
				if ttl := time.Until(time.Unix(int64(exp), 0)); ttl > 0 {
					e = e.WithTTL(ttl)
				}
			}
			if err := txn.SetEntry(e); err != nil {
				return fmt.Errorf("update entry: %w", err)
			}
		}
		return nil
	})
}

// Count returns the number of parked entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Str("path", s.cfg.Path).Msg("Outbox closed")
	return nil
}
