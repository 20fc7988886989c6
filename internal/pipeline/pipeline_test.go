// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package pipeline

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/hivewatcher/internal/cache"
	"github.com/tomtom215/hivewatcher/internal/streampool"
	"github.com/tomtom215/hivewatcher/internal/tracking"
)

var (
	testNow   = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	blockTime = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
)

// sliceProducer emits its events then closes the channel.
type sliceProducer struct {
	events []RawEvent
}

func (s sliceProducer) Events(ctx context.Context) (<-chan RawEvent, error) {
	ch := make(chan RawEvent)
	go func() {
		defer close(ch)
		for _, e := range s.events {
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// feedProducer emits its events and keeps the channel open until ctx ends.
type feedProducer struct {
	events []RawEvent
}

func (f feedProducer) Events(ctx context.Context) (<-chan RawEvent, error) {
	ch := make(chan RawEvent)
	go func() {
		defer close(ch)
		for _, e := range f.events {
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return ch, nil
}

// blockingProducer never emits and never closes.
type blockingProducer struct{}

func (blockingProducer) Events(context.Context) (<-chan RawEvent, error) {
	return make(chan RawEvent), nil
}

type sinkCall struct {
	method string
	name   string
	time   int64
	props  tracking.Properties
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
	err   error
}

func (f *fakeSink) record(c sinkCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeSink) Track(_ context.Context, e tracking.Event) error {
	return f.record(sinkCall{method: "track", name: e.Name, props: e.Properties})
}

func (f *fakeSink) TrackBatch(_ context.Context, events []tracking.Event) error {
	for _, e := range events {
		_ = f.record(sinkCall{method: "track", name: e.Name, props: e.Properties})
	}
	return f.err
}

func (f *fakeSink) Import(_ context.Context, name string, sec int64, props tracking.Properties) error {
	return f.record(sinkCall{method: "import", name: name, time: sec, props: props})
}

func (f *fakeSink) ImportBatch(_ context.Context, events []tracking.Event) error {
	for _, e := range events {
		_ = f.record(sinkCall{method: "import", name: e.Name, props: e.Properties})
	}
	return f.err
}

func (f *fakeSink) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSink) byName(name string) []sinkCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sinkCall
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

type fakeParker struct {
	mu     sync.Mutex
	events []tracking.Event
}

func (f *fakeParker) Park(_ context.Context, events []tracking.Event, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
	return nil
}

type harness struct {
	p       *Pipeline
	sink    *fakeSink
	dataDir string
}

func newHarness(t *testing.T, secret bool, deps Deps) *harness {
	t.Helper()
	return newHarnessWith(t, secret, Config{MaxInFlight: 4}, deps)
}

func newHarnessWith(t *testing.T, secret bool, cfg Config, deps Deps) *harness {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "data")
	pool, err := streampool.New(streampool.Config{DataDir: dataDir})
	if err != nil {
		t.Fatalf("streampool.New() error = %v", err)
	}
	sink := &fakeSink{}
	deps.Pool = pool
	deps.Router = tracking.NewRouter(sink, tracking.NewSuperProperties(tracking.AppInfo{
		Environment: "test",
		Name:        "hive-watcher",
	}), tracking.RouterOptions{ImportEnabled: secret, Now: func() time.Time { return testNow }})

	if cfg.Now == nil {
		cfg.Now = func() time.Time { return testNow }
	}
	p, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return &harness{p: p, sink: sink, dataDir: dataDir}
}

// waitUntil polls cond for up to five seconds.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting until %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) isRunning() bool {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	return h.p.running
}

func (h *harness) run(t *testing.T, events ...RawEvent) {
	t.Helper()
	if err := h.p.Run(context.Background(), sliceProducer{events: events}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := h.p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

// runOnce consumes events without shutting down and waits for deliveries.
func (h *harness) runOnce(t *testing.T, events ...RawEvent) {
	t.Helper()
	if err := h.p.Run(context.Background(), sliceProducer{events: events}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	_ = h.p.deliveries.Wait()
}

func readRecords(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func podping(urls ...string) RawEvent {
	return RawEvent{
		ID:        "0439c6a1f2e7",
		BlockNum:  71234567,
		Time:      blockTime,
		SubjectID: "podping.aaa",
		SubKeys:   urls,
		Reason:    "update",
		Extra:     tracking.Properties{"medium": tracking.String("podcast")},
	}
}

func TestFanOut(t *testing.T) {
	raw := podping("https://a.example/rss", "https://b.example/rss")
	derived := FanOut(raw)
	if len(derived) != 2 {
		t.Fatalf("FanOut() = %d events, want 2", len(derived))
	}
	if derived[0].SubKey != "https://a.example/rss" || derived[1].SubKey != "https://b.example/rss" {
		t.Errorf("order not kept: %q, %q", derived[0].SubKey, derived[1].SubKey)
	}
	if derived[0].InsertID() == derived[1].InsertID() {
		t.Error("derived events share an insert id")
	}
	if derived[0].InsertID() != raw.InsertID() {
		t.Error("block insert id should match the first url's")
	}
	if len(derived[0].InsertID()) != 36 {
		t.Errorf("insert id length = %d, want 36", len(derived[0].InsertID()))
	}

	empty := FanOut(podping())
	if len(empty) != 1 || empty[0].SubKey != "" {
		t.Errorf("FanOut(no urls) = %+v, want one event with empty sub key", empty)
	}
}

func TestPipeline_PersistsAndDelivers(t *testing.T) {
	h := newHarness(t, true, Deps{})
	h.run(t, podping("https://a.example/rss", "https://b.example/rss"))

	blocks := h.sink.byName(EventBlock)
	if len(blocks) != 1 {
		t.Fatalf("%s deliveries = %d, want 1", EventBlock, len(blocks))
	}
	if urls, _ := blocks[0].props[PropURLs].StrSlice(); len(urls) != 2 {
		t.Errorf("block urls = %v", urls)
	}

	urls := h.sink.byName(EventURL)
	if len(urls) != 2 {
		t.Fatalf("%s deliveries = %d, want 2", EventURL, len(urls))
	}
	ids := map[string]bool{}
	for _, c := range urls {
		if c.method != "track" {
			t.Errorf("recent event went through %s", c.method)
		}
		id, _ := c.props[tracking.KeyInsertID].Str()
		ids[id] = true
		if env, _ := c.props["environment"].Str(); env != "test" {
			t.Errorf("super properties not applied: %v", c.props.Keys())
		}
	}
	if len(ids) != 2 {
		t.Errorf("distinct insert ids = %d, want 2", len(ids))
	}

	recs := readRecords(t, filepath.Join(h.dataDir, "2026-03-14.ndjson"))
	if len(recs) != 2 {
		t.Fatalf("file lines = %d, want 2", len(recs))
	}
	first := recs[0]
	if first["url"] != "https://a.example/rss" {
		t.Errorf("first line url = %v, want arrival order", first["url"])
	}
	if first["time"] != float64(1773480414) {
		t.Errorf("time = %v, want epoch seconds 1773480414", first["time"])
	}
	if first["distinct_id"] != "podping.aaa" || first["medium"] != "podcast" || first["block_num"] != float64(71234567) {
		t.Errorf("record = %v", first)
	}
	if _, ok := first["environment"]; ok {
		t.Error("super properties must not be persisted")
	}
}

func TestPipeline_OldEventsUseImport(t *testing.T) {
	h := newHarness(t, true, Deps{})
	old := podping("https://a.example/rss")
	old.Time = testNow.Add(-5 * 24 * time.Hour)
	h.run(t, old)

	urls := h.sink.byName(EventURL)
	if len(urls) != 1 || urls[0].method != "import" {
		t.Fatalf("calls = %+v, want one import", urls)
	}
	if urls[0].time != old.Time.Unix() {
		t.Errorf("import time = %d, want %d", urls[0].time, old.Time.Unix())
	}
	if urls[0].props.Has(tracking.KeyTime) {
		t.Error("import properties should not carry time")
	}
}

func TestPipeline_WriteFailureStillDelivers(t *testing.T) {
	h := newHarness(t, false, Deps{})
	// a directory where the partition file should be makes the open fail
	if err := os.MkdirAll(filepath.Join(h.dataDir, "2026-03-14.ndjson"), 0o755); err != nil {
		t.Fatal(err)
	}

	h.run(t, podping("https://a.example/rss"))

	if got := len(h.sink.byName(EventURL)); got != 1 {
		t.Errorf("%s deliveries = %d, want 1", EventURL, got)
	}
}

func TestPipeline_Dedup(t *testing.T) {
	h := newHarness(t, false, Deps{Dedup: cache.NewDedup(100, time.Hour)})
	ev := podping("https://a.example/rss", "https://b.example/rss")
	h.run(t, ev, ev)

	if got := len(h.sink.byName(EventURL)); got != 2 {
		t.Errorf("%s deliveries = %d, want 2", EventURL, got)
	}
	if got := len(h.sink.byName(EventBlock)); got != 1 {
		t.Errorf("%s deliveries = %d, want 1", EventBlock, got)
	}
	if recs := readRecords(t, filepath.Join(h.dataDir, "2026-03-14.ndjson")); len(recs) != 2 {
		t.Errorf("file lines = %d, want 2", len(recs))
	}
}

func TestPipeline_FailedDeliveryIsRetriedOnReplay(t *testing.T) {
	t.Run("without outbox the replay is delivered", func(t *testing.T) {
		h := newHarness(t, false, Deps{Dedup: cache.NewDedup(100, time.Hour)})
		ev := podping("https://a.example/rss")

		h.sink.setErr(errors.New("503 Service Unavailable"))
		h.runOnce(t, ev)
		h.sink.setErr(nil)
		h.run(t, ev)

		if got := len(h.sink.byName(EventURL)); got != 2 {
			t.Errorf("%s deliveries = %d, want 2", EventURL, got)
		}
		if got := len(h.sink.byName(EventBlock)); got != 2 {
			t.Errorf("%s deliveries = %d, want 2", EventBlock, got)
		}
	})

	t.Run("parked events stay filtered", func(t *testing.T) {
		parker := &fakeParker{}
		h := newHarness(t, false, Deps{Dedup: cache.NewDedup(100, time.Hour), Outbox: parker})
		ev := podping("https://a.example/rss")

		h.sink.setErr(errors.New("503 Service Unavailable"))
		h.runOnce(t, ev)
		h.sink.setErr(nil)
		h.run(t, ev)

		if got := len(h.sink.byName(EventURL)); got != 1 {
			t.Errorf("%s deliveries = %d, want 1", EventURL, got)
		}
		if got := len(parker.events); got != 2 {
			t.Errorf("parked = %d, want 2", got)
		}
	})
}

func TestPipeline_EvictsIdleFiles(t *testing.T) {
	t.Run("closes idle files while running", func(t *testing.T) {
		dedup := cache.NewDedup(100, time.Millisecond)
		h := newHarnessWith(t, false, Config{
			MaxInFlight:   4,
			EvictInterval: 20 * time.Millisecond,
			IdleThreshold: 10 * time.Millisecond,
		}, Deps{Dedup: dedup})

		ctx, cancel := context.WithCancel(context.Background())
		runErr := make(chan error, 1)
		go func() { runErr <- h.p.Run(ctx, feedProducer{events: []RawEvent{podping("https://a.example/rss")}}) }()

		waitUntil(t, "the file was written", func() bool { return h.p.pool.Stats().Writes == 1 })
		waitUntil(t, "the idle file was closed", func() bool {
			st := h.p.pool.Stats()
			return st.Evicted == 1 && st.Open == 0
		})
		waitUntil(t, "expired dedup keys were pruned", func() bool { return dedup.Len() == 0 })
		if !h.isRunning() {
			t.Error("eviction happened after Run returned")
		}

		cancel()
		if err := <-runErr; !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	})

	t.Run("shutdown stops the evictor and closes files", func(t *testing.T) {
		h := newHarnessWith(t, false, Config{
			MaxInFlight:   4,
			EvictInterval: 20 * time.Millisecond,
			IdleThreshold: time.Hour,
		}, Deps{})

		runErr := make(chan error, 1)
		go func() {
			runErr <- h.p.Run(context.Background(), feedProducer{events: []RawEvent{podping("https://a.example/rss")}})
		}()

		waitUntil(t, "the file was written", func() bool { return h.p.pool.Stats().Writes == 1 })
		// a few ticks pass without closing a file touched within the hour
		time.Sleep(60 * time.Millisecond)
		if got := h.p.pool.Len(); got != 1 {
			t.Fatalf("open files = %d, want 1", got)
		}

		if err := h.p.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() error = %v", err)
		}
		if err := <-runErr; err != nil {
			t.Errorf("Run() error = %v, want nil after Shutdown", err)
		}

		h.p.mu.Lock()
		done := h.p.evictorDone
		h.p.mu.Unlock()
		select {
		case <-done:
		default:
			t.Error("evictor still running after Shutdown")
		}

		st := h.p.pool.Stats()
		if st.Open != 0 || st.Evicted != 1 {
			t.Errorf("pool stats = %+v, want the written file closed", st)
		}
		if recs := readRecords(t, filepath.Join(h.dataDir, "2026-03-14.ndjson")); len(recs) != 1 {
			t.Errorf("file lines = %d, want 1", len(recs))
		}
	})
}

func TestPipeline_ParksFailedDeliveries(t *testing.T) {
	parker := &fakeParker{}
	h := newHarness(t, false, Deps{Outbox: parker})
	h.sink.err = errors.New("503 Service Unavailable")

	h.run(t, podping("https://a.example/rss"))

	var names []string
	for _, e := range parker.events {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != EventBlock || names[1] != EventURL {
		t.Errorf("parked = %v, want both events", names)
	}
}

func TestPipeline_Shutdown(t *testing.T) {
	h := newHarness(t, false, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- h.p.Run(ctx, blockingProducer{}) }()

	waitUntil(t, "Run registered itself", h.isRunning)
	if err := h.p.Run(ctx, blockingProducer{}); !errors.Is(err, ErrRunning) {
		t.Errorf("second Run() error = %v, want ErrRunning", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.p.Shutdown(context.Background())
		}(i)
	}
	wg.Wait()
	cancel()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Shutdown() #%d error = %v", i, err)
		}
	}
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run() error = %v, want nil after Shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	if err := h.p.Run(context.Background(), blockingProducer{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Run() after Shutdown error = %v, want ErrClosed", err)
	}
	if h.p.pool.Len() != 0 {
		t.Errorf("open files after Shutdown = %d, want 0", h.p.pool.Len())
	}
}

func TestPipeline_RunReturnsContextError(t *testing.T) {
	h := newHarness(t, false, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.p.Run(ctx, blockingProducer{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Error("New() without pool should fail")
	}
}
