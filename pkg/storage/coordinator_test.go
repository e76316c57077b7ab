// pkg/storage/coordinator_test.go
package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/imReese/NexusMem/pkg/memtable"
	"github.com/imReese/NexusMem/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c := NewCoordinator(WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustUpdate(t *testing.T, c *Coordinator, key, value string) {
	t.Helper()
	if err := c.Update([]byte(key), []byte(value)); err != nil {
		t.Fatalf("Update(%q): %v", key, err)
	}
}

func mustDelete(t *testing.T, c *Coordinator, key string) {
	t.Helper()
	if err := c.Delete([]byte(key)); err != nil {
		t.Fatalf("Delete(%q): %v", key, err)
	}
}

func mustQuery(t *testing.T, c *Coordinator, key string) memtable.Result {
	t.Helper()
	res, err := c.Query([]byte(key))
	if err != nil {
		t.Fatalf("Query(%q): %v", key, err)
	}
	return res
}

func TestCoordinator_EndToEnd(t *testing.T) {
	c := newTestCoordinator(t)

	mustUpdate(t, c, "a", "1")
	mustUpdate(t, c, "b", "2")
	mustDelete(t, c, "a")

	batch, err := c.PrepareFlush()
	if err != nil {
		t.Fatal(err)
	}
	if batch.Status != FlushProceed {
		t.Fatalf("Status = %v, want Proceed", batch.Status)
	}
	if batch.ID == uuid.Nil {
		t.Fatal("non-empty batch has no ID")
	}
	if got := fmt.Sprint(batch.Entries); got != `[("a", Tombstone) ("b", Value("2"))]` {
		t.Fatalf("Entries = %s", got)
	}
	if c.State() != Flushing {
		t.Fatalf("State = %v, want Flushing", c.State())
	}

	if res := mustQuery(t, c, "a"); res.State != memtable.Absent {
		t.Fatalf("Query(a) after prepare = %v, want Absent", res.State)
	}

	if err := c.FinalizeFlush(); err != nil {
		t.Fatal(err)
	}
	if c.State() != Idle {
		t.Fatalf("State after finalize = %v, want Idle", c.State())
	}

	batch, err = c.PrepareFlush()
	if err != nil {
		t.Fatal(err)
	}
	if batch.Status != FlushProceed || len(batch.Entries) != 0 {
		t.Fatalf("second prepare = %v with %d entries, want Proceed with none", batch.Status, len(batch.Entries))
	}
	if c.State() != Idle {
		t.Fatalf("empty prepare left state %v, want Idle", c.State())
	}
}

func TestCoordinator_SingleFlight(t *testing.T) {
	c := newTestCoordinator(t)
	mustUpdate(t, c, "k1", "v1")

	first, err := c.PrepareFlush()
	if err != nil || first.Status != FlushProceed {
		t.Fatalf("first prepare = %v, %v", first.Status, err)
	}

	mustUpdate(t, c, "k2", "v2")
	before := testutil.ToFloat64(metrics.FlushesTotal.WithLabelValues(metrics.FlushInProgress))

	second, err := c.PrepareFlush()
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != FlushAlreadyInProgress {
		t.Fatalf("second prepare = %v, want AlreadyInProgress", second.Status)
	}
	if len(second.Entries) != 0 || second.ID != uuid.Nil {
		t.Fatalf("in-progress batch carried data: %+v", second)
	}
	if after := testutil.ToFloat64(metrics.FlushesTotal.WithLabelValues(metrics.FlushInProgress)); after != before+1 {
		t.Fatalf("in_progress counter = %v, want %v", after, before+1)
	}

	// New writes stay in current and are not part of the first batch.
	if res := mustQuery(t, c, "k2"); res.State != memtable.Live || string(res.Value) != "v2" {
		t.Fatalf("Query(k2) = %+v, want Value(v2)", res)
	}
	for _, e := range first.Entries {
		if string(e.Key) == "k2" {
			t.Fatal("write issued after prepare leaked into the batch")
		}
	}

	if err := c.FinalizeFlush(); err != nil {
		t.Fatal(err)
	}
	third, err := c.PrepareFlush()
	if err != nil {
		t.Fatal(err)
	}
	if third.Status != FlushProceed || len(third.Entries) != 1 || string(third.Entries[0].Key) != "k2" {
		t.Fatalf("third prepare = %+v, want Proceed with k2", third)
	}
}

func TestCoordinator_Clear(t *testing.T) {
	c := newTestCoordinator(t)
	mustUpdate(t, c, "a", "1")
	if _, err := c.PrepareFlush(); err != nil {
		t.Fatal(err)
	}
	mustUpdate(t, c, "b", "2")

	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	if c.State() != Idle {
		t.Fatalf("State after clear = %v, want Idle", c.State())
	}
	if res := mustQuery(t, c, "b"); res.State != memtable.Absent {
		t.Fatalf("Query(b) after clear = %v, want Absent", res.State)
	}
	stats := c.Stats()
	if stats.CurrentEntries != 0 || stats.FlushingEntries != 0 {
		t.Fatalf("Stats after clear = %+v", stats)
	}

	// Clear from Idle is allowed too.
	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
}

func TestCoordinator_FinalizeWhenIdle(t *testing.T) {
	c := newTestCoordinator(t)
	if err := c.FinalizeFlush(); err != nil {
		t.Fatalf("FinalizeFlush on idle coordinator: %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("State = %v, want Idle", c.State())
	}
}

func TestCoordinator_Stats(t *testing.T) {
	c := newTestCoordinator(t)
	mustUpdate(t, c, "a", "1")
	mustUpdate(t, c, "b", "2")
	batch, _ := c.PrepareFlush()
	mustDelete(t, c, "c")

	s := c.Stats()
	if s.State != Flushing || s.FlushingEntries != 2 || s.CurrentEntries != 1 {
		t.Fatalf("Stats = %+v", s)
	}
	if s.FlushID != batch.ID {
		t.Fatalf("Stats.FlushID = %v, want %v", s.FlushID, batch.ID)
	}
}

func TestCoordinator_EmptyKeyAndClosed(t *testing.T) {
	c := NewCoordinator()
	if err := c.Update(nil, []byte("v")); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Update(nil) err = %v, want ErrEmptyKey", err)
	}
	if _, err := c.Query([]byte{}); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Query(empty) err = %v, want ErrEmptyKey", err)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	checks := map[string]error{
		"update":   c.Update([]byte("k"), nil),
		"delete":   c.Delete([]byte("k")),
		"finalize": c.FinalizeFlush(),
		"clear":    c.Clear(),
	}
	_, checks["prepare"] = c.PrepareFlush()
	_, checks["query"] = c.Query([]byte("k"))
	for op, err := range checks {
		if !errors.Is(err, ErrClosed) {
			t.Errorf("%s after close: err = %v, want ErrClosed", op, err)
		}
	}
}

func TestCoordinator_WritesRacingCloseAreNotKept(t *testing.T) {
	for round := 0; round < 20; round++ {
		c := NewCoordinator()
		var wg sync.WaitGroup
		start := make(chan struct{})
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for i := 0; ; i++ {
					key := []byte(fmt.Sprintf("w%d-%d", w, i))
					if err := c.Update(key, []byte("v")); errors.Is(err, ErrClosed) {
						return
					}
				}
			}()
		}
		close(start)
		if err := c.Close(); err != nil {
			t.Fatal(err)
		}
		wg.Wait()
		if s := c.Stats(); s.CurrentEntries != 0 || s.FlushingEntries != 0 {
			t.Fatalf("round %d: entries survived Close: %+v", round, s)
		}
	}
}

func TestCoordinator_LogsFlushTransitions(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := NewCoordinator(WithLogger(zap.New(core)))
	mustUpdate(t, c, "a", "1")

	batch, _ := c.PrepareFlush()
	_ = c.FinalizeFlush()

	prepared := logs.FilterMessage("Flush prepared").All()
	if len(prepared) != 1 {
		t.Fatalf("got %d prepare logs, want 1", len(prepared))
	}
	if id := prepared[0].ContextMap()["flush_id"]; id != batch.ID.String() {
		t.Fatalf("logged flush_id = %v, want %v", id, batch.ID)
	}
	if logs.FilterMessage("Flush finalized").Len() != 1 {
		t.Fatal("finalize not logged")
	}
}

// TestCoordinator_ConcurrentWritersAndFlushes checks that every write lands in
// exactly one place: one of the flushed batches or the final current memtable.
func TestCoordinator_ConcurrentWritersAndFlushes(t *testing.T) {
	c := newTestCoordinator(t)

	const (
		workerCount     = 8
		writesPerWorker = 500
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		flushed = make(map[string]int)
		done    = make(chan struct{})
	)

	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		for {
			batch, err := c.PrepareFlush()
			if err != nil {
				t.Errorf("PrepareFlush: %v", err)
				return
			}
			if batch.Status == FlushProceed {
				mu.Lock()
				for _, e := range batch.Entries {
					flushed[string(e.Key)]++
				}
				mu.Unlock()
				if err := c.FinalizeFlush(); err != nil {
					t.Errorf("FinalizeFlush: %v", err)
					return
				}
			}
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < writesPerWorker; j++ {
				key := []byte(fmt.Sprintf("w%d-%d", workerID, j))
				if err := c.Update(key, []byte("v")); err != nil {
					t.Errorf("Update: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()
	close(done)
	<-flusherDone

	for _, e := range c.current.Entries() {
		flushed[string(e.Key)]++
	}
	if len(flushed) != workerCount*writesPerWorker {
		t.Fatalf("saw %d distinct keys, want %d", len(flushed), workerCount*writesPerWorker)
	}
	for k, n := range flushed {
		if n != 1 {
			t.Fatalf("key %s observed %d times", k, n)
		}
	}
}
