// pkg/flusher/flusher.go

// Package flusher decides when the storage engine flushes and carries each
// prepared batch through persistence to finalize, or to clear on failure.
package flusher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/imReese/NexusMem/pkg/metrics"
	"github.com/imReese/NexusMem/pkg/sink"
	"github.com/imReese/NexusMem/pkg/storage"
	"go.uber.org/zap"
)

// ErrFlushInProgress is returned by FlushOnce when the engine still has an
// outstanding batch.
var ErrFlushInProgress = errors.New("flusher: flush already in progress")

// Config controls scheduling and retry.
type Config struct {
	Interval       time.Duration
	ThresholdBytes int
	MaxRetries     int
	RetryBackoff   time.Duration
}

const (
	// pollInterval bounds how long a threshold crossing waits to be noticed.
	pollInterval = 100 * time.Millisecond
	// stalledWarnEvery throttles the warning about a batch nobody finalizes.
	stalledWarnEvery = 50
)

type Flusher struct {
	engine storage.Engine
	sink   sink.Sink
	logger *zap.Logger

	mu        sync.RWMutex
	cfg       Config
	lastFlush time.Time

	flushMu sync.Mutex
	trigger chan struct{}

	// stalled counts consecutive scheduled attempts that found a batch still
	// outstanding. Only Run touches it.
	stalled int
}

func New(engine storage.Engine, s sink.Sink, cfg Config, logger *zap.Logger) *Flusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flusher{
		engine:    engine,
		sink:      s,
		logger:    logger,
		cfg:       cfg,
		lastFlush: time.Now(),
		trigger:   make(chan struct{}, 1),
	}
}

func (f *Flusher) Config() Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

func (f *Flusher) UpdateConfig(cfg Config) error {
	if cfg.Interval <= 0 || cfg.ThresholdBytes <= 0 || cfg.MaxRetries < 0 || cfg.RetryBackoff < 0 {
		return fmt.Errorf("flusher: invalid config %+v", cfg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return nil
}

// Trigger requests a flush on the next loop iteration. It never blocks.
func (f *Flusher) Trigger() {
	select {
	case f.trigger <- struct{}{}:
	default:
	}
}

// Run flushes when the current memtable crosses the byte threshold, when the
// interval has passed with pending writes, or on Trigger. It returns when ctx
// is done.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Flusher stopped")
			return ctx.Err()
		case <-f.trigger:
			f.runOnce(ctx, "trigger")
		case <-ticker.C:
			if reason, ok := f.due(); ok {
				f.runOnce(ctx, reason)
			}
		}
	}
}

func (f *Flusher) due() (string, bool) {
	stats := f.engine.Stats()
	if stats.CurrentEntries == 0 {
		return "", false
	}
	cfg := f.Config()
	if stats.CurrentBytes >= cfg.ThresholdBytes {
		return "threshold", true
	}
	f.mu.RLock()
	elapsed := time.Since(f.lastFlush)
	f.mu.RUnlock()
	if elapsed >= cfg.Interval {
		return "interval", true
	}
	return "", false
}

func (f *Flusher) runOnce(ctx context.Context, reason string) {
	_, err := f.FlushOnce(ctx)
	if !errors.Is(err, ErrFlushInProgress) {
		f.stalled = 0
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrFlushInProgress):
		f.stalled++
		// A batch prepared outside this flusher blocks every later flush
		// until someone finalizes or clears it.
		if f.stalled == 2 || f.stalled%stalledWarnEvery == 0 {
			stats := f.engine.Stats()
			f.logger.Warn("Flush blocked by an outstanding batch",
				zap.String("reason", reason),
				zap.Int("attempts", f.stalled),
				zap.Stringer("flush_id", stats.FlushID),
				zap.Int("flushing_entries", stats.FlushingEntries),
				zap.Int("current_entries", stats.CurrentEntries))
		}
	case errors.Is(err, context.Canceled):
	default:
		f.logger.Error("Flush failed", zap.String("reason", reason), zap.Error(err))
	}
}

// FlushOnce runs one prepare → persist → finalize cycle. It returns the
// written segment, or a zero Segment when there was nothing to flush. When
// persistence keeps failing the engine is cleared and the persist error is
// returned.
func (f *Flusher) FlushOnce(ctx context.Context) (sink.Segment, error) {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	batch, err := f.engine.PrepareFlush()
	if err != nil {
		return sink.Segment{}, fmt.Errorf("prepare flush: %w", err)
	}
	if batch.Status == storage.FlushAlreadyInProgress {
		return sink.Segment{}, ErrFlushInProgress
	}

	f.mu.Lock()
	f.lastFlush = time.Now()
	f.mu.Unlock()

	if len(batch.Entries) == 0 {
		return sink.Segment{}, nil
	}

	start := time.Now()
	seg, err := f.persist(ctx, batch)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FlushesTotal.WithLabelValues(metrics.FlushPersistFailed).Inc()
		f.logger.Error("Persisting flush batch failed, clearing memtables",
			zap.Stringer("flush_id", batch.ID),
			zap.Int("entries", len(batch.Entries)),
			zap.Error(err))
		if cerr := f.engine.Clear(); cerr != nil {
			return sink.Segment{}, errors.Join(err, fmt.Errorf("clear after failed flush: %w", cerr))
		}
		return sink.Segment{}, err
	}

	if err := f.engine.FinalizeFlush(); err != nil {
		return seg, fmt.Errorf("finalize flush: %w", err)
	}
	f.logger.Info("Flush completed",
		zap.Stringer("flush_id", batch.ID),
		zap.String("segment", seg.Path),
		zap.Duration("took", time.Since(start)))
	return seg, nil
}

func (f *Flusher) persist(ctx context.Context, batch storage.FlushBatch) (sink.Segment, error) {
	cfg := f.Config()
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			f.logger.Warn("Retrying flush batch",
				zap.Stringer("flush_id", batch.ID),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return sink.Segment{}, errors.Join(lastErr, ctx.Err())
			case <-time.After(cfg.RetryBackoff * time.Duration(attempt)):
			}
		}
		seg, err := f.sink.WriteBatch(ctx, batch)
		if err == nil {
			return seg, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return sink.Segment{}, lastErr
		}
	}
	return sink.Segment{}, fmt.Errorf("persist batch after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}
