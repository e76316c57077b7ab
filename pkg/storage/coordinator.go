// pkg/storage/coordinator.go
package storage

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/imReese/NexusMem/pkg/memtable"
	"github.com/imReese/NexusMem/pkg/metrics"
	"go.uber.org/zap"
)

// Coordinator owns the current and flushing memtables. Each slot has its own
// lock; when both are needed the flushing lock is taken first.
type Coordinator struct {
	curMu   sync.Mutex
	current *memtable.Memtable

	flushMu  sync.Mutex
	flushing *memtable.Memtable
	flushID  uuid.UUID

	closed atomic.Bool
	logger *zap.Logger
}

type Option func(*Coordinator)

// WithLogger sets the logger used for flush transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator returns a coordinator with two empty memtables.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		current:  memtable.New(),
		flushing: memtable.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Engine = (*Coordinator)(nil)

// Update writes value under key in the current memtable.
func (c *Coordinator) Update(key, value []byte) error {
	if err := c.check(key); err != nil {
		return err
	}
	metrics.RequestsTotal.WithLabelValues("update").Inc()

	c.curMu.Lock()
	defer c.curMu.Unlock()
	// Close may have run between check and Lock; its clear would not see this write.
	if c.closed.Load() {
		return ErrClosed
	}
	c.current.Update(key, value)
	c.observeCurrent()
	return nil
}

// Delete writes a tombstone for key in the current memtable.
func (c *Coordinator) Delete(key []byte) error {
	if err := c.check(key); err != nil {
		return err
	}
	metrics.RequestsTotal.WithLabelValues("delete").Inc()

	c.curMu.Lock()
	defer c.curMu.Unlock()
	// Close may have run between check and Lock; its clear would not see this write.
	if c.closed.Load() {
		return ErrClosed
	}
	c.current.Delete(key)
	c.observeCurrent()
	return nil
}

// Query looks key up in the current memtable only. Entries already handed to
// a flush are not consulted.
func (c *Coordinator) Query(key []byte) (memtable.Result, error) {
	if err := c.check(key); err != nil {
		return memtable.Result{}, err
	}
	metrics.RequestsTotal.WithLabelValues("query").Inc()

	c.curMu.Lock()
	defer c.curMu.Unlock()
	res := c.current.Query(key)
	res.Value = bytes.Clone(res.Value)
	return res, nil
}

// PrepareFlush freezes the current memtable into the flushing slot and returns
// its entries. Writers only wait for the swap itself. If a flush is already
// outstanding nothing changes and the status is FlushAlreadyInProgress. An
// empty current memtable yields FlushProceed with no entries and leaves the
// coordinator idle.
func (c *Coordinator) PrepareFlush() (FlushBatch, error) {
	if c.closed.Load() {
		return FlushBatch{}, ErrClosed
	}
	metrics.RequestsTotal.WithLabelValues("prepare_flush").Inc()

	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	if c.closed.Load() {
		return FlushBatch{}, ErrClosed
	}

	if !c.flushing.IsEmpty() {
		metrics.FlushesTotal.WithLabelValues(metrics.FlushInProgress).Inc()
		c.logger.Debug("Flush already in progress",
			zap.Stringer("flush_id", c.flushID))
		return FlushBatch{Status: FlushAlreadyInProgress}, nil
	}

	c.curMu.Lock()
	frozen := c.current
	c.current = memtable.New()
	c.observeCurrent()
	c.curMu.Unlock()

	batch := FlushBatch{Status: FlushProceed, Entries: frozen.Entries()}
	metrics.FlushesTotal.WithLabelValues(metrics.FlushProceed).Inc()
	metrics.FlushEntries.Observe(float64(len(batch.Entries)))
	if frozen.IsEmpty() {
		return batch, nil
	}

	batch.ID = uuid.New()
	c.flushing = frozen
	c.flushID = batch.ID
	c.observeFlushing()

	c.logger.Info("Flush prepared",
		zap.Stringer("flush_id", batch.ID),
		zap.Int("entries", frozen.Len()),
		zap.Int("bytes", frozen.SizeBytes()))
	return batch, nil
}

// FinalizeFlush discards the flushing memtable after the caller persisted the
// entries it was handed. It does nothing when no flush is outstanding.
func (c *Coordinator) FinalizeFlush() error {
	if c.closed.Load() {
		return ErrClosed
	}
	metrics.RequestsTotal.WithLabelValues("finalize_flush").Inc()

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	if c.flushing.IsEmpty() {
		c.logger.Debug("Finalize with no flush in progress")
		return nil
	}
	c.logger.Info("Flush finalized",
		zap.Stringer("flush_id", c.flushID),
		zap.Int("entries", c.flushing.Len()))

	c.flushing = memtable.New()
	c.flushID = uuid.Nil
	c.observeFlushing()
	metrics.FlushesTotal.WithLabelValues(metrics.FlushFinalized).Inc()
	return nil
}

// Clear discards both memtables, losing every write not yet finalized.
func (c *Coordinator) Clear() error {
	if c.closed.Load() {
		return ErrClosed
	}
	metrics.RequestsTotal.WithLabelValues("clear").Inc()
	c.clear()
	return nil
}

func (c *Coordinator) clear() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	c.curMu.Lock()
	defer c.curMu.Unlock()

	c.logger.Warn("Clearing memtables",
		zap.Int("current_entries", c.current.Len()),
		zap.Int("flushing_entries", c.flushing.Len()),
		zap.Stringer("flush_id", c.flushID))

	c.current = memtable.New()
	c.flushing = memtable.New()
	c.flushID = uuid.Nil
	c.observeCurrent()
	c.observeFlushing()
	metrics.FlushesTotal.WithLabelValues(metrics.FlushCleared).Inc()
}

func (c *Coordinator) State() FlushState {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	if c.flushing.IsEmpty() {
		return Idle
	}
	return Flushing
}

// Stats returns entry and byte counts for both slots.
func (c *Coordinator) Stats() Stats {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	c.curMu.Lock()
	defer c.curMu.Unlock()

	s := Stats{
		State:           Idle,
		CurrentEntries:  c.current.Len(),
		CurrentBytes:    c.current.SizeBytes(),
		FlushingEntries: c.flushing.Len(),
		FlushingBytes:   c.flushing.SizeBytes(),
		FlushID:         c.flushID,
	}
	if !c.flushing.IsEmpty() {
		s.State = Flushing
	}
	return s
}

// Close discards both memtables. Later calls return ErrClosed.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.clear()
	c.logger.Info("Coordinator closed")
	return nil
}

func (c *Coordinator) Closed() bool { return c.closed.Load() }

func (c *Coordinator) check(key []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return nil
}

// observeCurrent must be called with curMu held.
func (c *Coordinator) observeCurrent() {
	metrics.MemtableEntries.WithLabelValues(metrics.SlotCurrent).Set(float64(c.current.Len()))
	metrics.MemtableBytes.WithLabelValues(metrics.SlotCurrent).Set(float64(c.current.SizeBytes()))
}

// observeFlushing must be called with flushMu held.
func (c *Coordinator) observeFlushing() {
	metrics.MemtableEntries.WithLabelValues(metrics.SlotFlushing).Set(float64(c.flushing.Len()))
	metrics.MemtableBytes.WithLabelValues(metrics.SlotFlushing).Set(float64(c.flushing.SizeBytes()))
}
