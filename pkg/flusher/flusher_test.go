// pkg/flusher/flusher_test.go
package flusher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/imReese/NexusMem/pkg/config"
	"github.com/imReese/NexusMem/pkg/memtable"
	"github.com/imReese/NexusMem/pkg/metrics"
	"github.com/imReese/NexusMem/pkg/sink"
	"github.com/imReese/NexusMem/pkg/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

var testConfig = Config{
	Interval:       time.Hour,
	ThresholdBytes: 1 << 20,
	MaxRetries:     2,
	RetryBackoff:   time.Millisecond,
}

// fakeSink fails the first failures calls, then records batches.
type fakeSink struct {
	mu       sync.Mutex
	failures int
	calls    int
	batches  []storage.FlushBatch
}

func (s *fakeSink) WriteBatch(_ context.Context, batch storage.FlushBatch) (sink.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return sink.Segment{}, errors.New("disk on fire")
	}
	s.batches = append(s.batches, batch)
	return sink.Segment{Seq: uint64(len(s.batches) - 1), BatchID: batch.ID, Entries: len(batch.Entries)}, nil
}

func (s *fakeSink) written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func newEngine(t *testing.T) *storage.Coordinator {
	t.Helper()
	c := storage.NewCoordinator(storage.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func fill(t *testing.T, e storage.Engine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := e.Update([]byte(fmt.Sprintf("k%03d", i)), []byte("value")); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFlushOnce_WritesAndFinalizes(t *testing.T) {
	engine := newEngine(t)
	fs, err := sink.NewFileSink(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	f := New(engine, fs, testConfig, zaptest.NewLogger(t))

	fill(t, engine, 10)
	if err := engine.Delete([]byte("k003")); err != nil {
		t.Fatal(err)
	}

	seg, err := f.FlushOnce(context.Background())
	if err != nil {
		t.Fatalf("FlushOnce: %v", err)
	}
	if engine.State() != storage.Idle {
		t.Fatalf("State = %v, want Idle", engine.State())
	}

	data, err := sink.ReadSegment(seg.Path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data.Entries) != 10 {
		t.Fatalf("segment has %d entries, want 10", len(data.Entries))
	}
	if !data.Entries[3].Tombstone {
		t.Fatalf("entry 3 = %s, want tombstone", data.Entries[3])
	}
}

func TestFlushOnce_NothingToFlush(t *testing.T) {
	fs := &fakeSink{}
	f := New(newEngine(t), fs, testConfig, zaptest.NewLogger(t))
	seg, err := f.FlushOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if seg != (sink.Segment{}) || fs.calls != 0 {
		t.Fatalf("empty flush wrote %+v (%d sink calls)", seg, fs.calls)
	}
}

func TestFlushOnce_AlreadyInProgress(t *testing.T) {
	engine := newEngine(t)
	fill(t, engine, 1)
	if _, err := engine.PrepareFlush(); err != nil {
		t.Fatal(err)
	}
	fill(t, engine, 2)

	f := New(engine, &fakeSink{}, testConfig, zaptest.NewLogger(t))
	if _, err := f.FlushOnce(context.Background()); !errors.Is(err, ErrFlushInProgress) {
		t.Fatalf("err = %v, want ErrFlushInProgress", err)
	}
	if n := engine.Stats().CurrentEntries; n != 2 {
		t.Fatalf("current entries = %d, want 2", n)
	}
}

func TestFlushOnce_RetriesThenSucceeds(t *testing.T) {
	engine := newEngine(t)
	fill(t, engine, 5)
	fs := &fakeSink{failures: 2}
	f := New(engine, fs, testConfig, zaptest.NewLogger(t))

	if _, err := f.FlushOnce(context.Background()); err != nil {
		t.Fatalf("FlushOnce: %v", err)
	}
	if fs.calls != 3 || fs.written() != 1 {
		t.Fatalf("sink calls = %d written = %d, want 3 and 1", fs.calls, fs.written())
	}
	if engine.State() != storage.Idle {
		t.Fatalf("State = %v, want Idle", engine.State())
	}
}

func TestFlushOnce_ExhaustedRetriesClears(t *testing.T) {
	engine := newEngine(t)
	fill(t, engine, 5)
	fs := &fakeSink{failures: 100}
	f := New(engine, fs, testConfig, zaptest.NewLogger(t))

	before := testutil.ToFloat64(metrics.FlushesTotal.WithLabelValues(metrics.FlushPersistFailed))
	if _, err := f.FlushOnce(context.Background()); err == nil {
		t.Fatal("FlushOnce succeeded with a failing sink")
	}
	if fs.calls != testConfig.MaxRetries+1 {
		t.Fatalf("sink calls = %d, want %d", fs.calls, testConfig.MaxRetries+1)
	}
	stats := engine.Stats()
	if stats.State != storage.Idle || stats.CurrentEntries != 0 || stats.FlushingEntries != 0 {
		t.Fatalf("engine not cleared: %+v", stats)
	}
	if after := testutil.ToFloat64(metrics.FlushesTotal.WithLabelValues(metrics.FlushPersistFailed)); after != before+1 {
		t.Fatalf("persist_failed = %v, want %v", after, before+1)
	}
}

func TestFlushOnce_ContextCanceledDuringBackoff(t *testing.T) {
	engine := newEngine(t)
	fill(t, engine, 1)
	cfg := testConfig
	cfg.RetryBackoff = time.Hour
	f := New(engine, &fakeSink{failures: 100}, cfg, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.FlushOnce(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestRunOnce_WarnsWhenBatchStaysOutstanding(t *testing.T) {
	engine := newEngine(t)
	fill(t, engine, 1)
	// Prepared behind the flusher's back and never finalized.
	if _, err := engine.PrepareFlush(); err != nil {
		t.Fatal(err)
	}

	core, logs := observer.New(zap.WarnLevel)
	fs := &fakeSink{}
	f := New(engine, fs, testConfig, zap.New(core))

	for i := 0; i < 5; i++ {
		if err := engine.Update([]byte(fmt.Sprintf("late%d", i)), []byte("v")); err != nil {
			t.Fatal(err)
		}
		f.runOnce(context.Background(), "trigger")
	}
	if fs.calls != 0 {
		t.Fatalf("sink called %d times while a batch was outstanding", fs.calls)
	}
	warned := logs.FilterMessage("Flush blocked by an outstanding batch").All()
	if len(warned) != 1 {
		t.Fatalf("got %d stall warnings, want 1", len(warned))
	}
	if got := warned[0].ContextMap()["current_entries"]; got != int64(2) {
		t.Fatalf("current_entries = %v at first warning, want 2", got)
	}

	if err := engine.FinalizeFlush(); err != nil {
		t.Fatal(err)
	}
	f.runOnce(context.Background(), "trigger")
	if fs.written() != 1 || f.stalled != 0 {
		t.Fatalf("after finalize: written = %d stalled = %d", fs.written(), f.stalled)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRun_ThresholdAndTrigger(t *testing.T) {
	engine := newEngine(t)
	fs := &fakeSink{}
	cfg := testConfig
	cfg.ThresholdBytes = 512
	f := New(engine, fs, cfg, zaptest.NewLogger(t))

	fill(t, engine, 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	waitFor(t, func() bool { return fs.written() == 1 })

	if err := engine.Update([]byte("small"), []byte("x")); err != nil {
		t.Fatal(err)
	}
	f.Trigger()
	waitFor(t, func() bool { return fs.written() == 2 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	fs.mu.Lock()
	last := fs.batches[1]
	fs.mu.Unlock()
	if len(last.Entries) != 1 || last.Entries[0].String() != (memtable.Entry{Key: []byte("small"), Record: memtable.Record{Value: []byte("x")}}).String() {
		t.Fatalf("triggered batch = %v", last.Entries)
	}
}

func TestRun_Interval(t *testing.T) {
	engine := newEngine(t)
	fs := &fakeSink{}
	cfg := testConfig
	cfg.Interval = 50 * time.Millisecond
	f := New(engine, fs, cfg, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.Run(ctx)
	}()

	fill(t, engine, 1)
	waitFor(t, func() bool { return fs.written() == 1 })
	cancel()
	<-done
}

func TestReloadHandler(t *testing.T) {
	f := New(newEngine(t), &fakeSink{}, testConfig, zaptest.NewLogger(t))
	h := NewReloadHandler(f, zaptest.NewLogger(t))

	next := config.Default()
	next.Flush.Interval = time.Second
	next.Flush.ThresholdBytes = 1024
	if err := h.OnConfigReload(next); err != nil {
		t.Fatal(err)
	}
	if got := f.Config(); got.Interval != time.Second || got.ThresholdBytes != 1024 {
		t.Fatalf("Config = %+v", got)
	}

	bad := config.Default()
	bad.Flush.ThresholdBytes = -1
	if err := h.OnConfigReload(bad); err == nil {
		t.Fatal("invalid config accepted")
	}
	if got := f.Config(); got.ThresholdBytes != 1024 {
		t.Fatalf("invalid reload changed config to %+v", got)
	}
}
