// pkg/flusher/hotreload.go
package flusher

import (
	"fmt"
	"sync"

	"github.com/imReese/NexusMem/pkg/config"
	"go.uber.org/zap"
)

// ConfigFrom converts the flush section of the server config.
func ConfigFrom(cfg config.FlushConfig) Config {
	return Config{
		Interval:       cfg.Interval,
		ThresholdBytes: cfg.ThresholdBytes,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
	}
}

type ReloadHandler struct {
	flusher *Flusher
	logger  *zap.Logger
	mu      sync.Mutex
}

func NewReloadHandler(f *Flusher, logger *zap.Logger) *ReloadHandler {
	return &ReloadHandler{
		flusher: f,
		logger:  logger,
	}
}

func (h *ReloadHandler) OnConfigReload(newCfg *config.ServerConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := newCfg.Flush.Validate(); err != nil {
		return fmt.Errorf("invalid flush config: %w", err)
	}

	old := h.flusher.Config()
	next := ConfigFrom(newCfg.Flush)
	if old == next {
		return nil
	}
	h.logger.Info("Applying flush config changes",
		zap.Duration("old_interval", old.Interval),
		zap.Int("old_threshold_bytes", old.ThresholdBytes),
		zap.Int("old_max_retries", old.MaxRetries),
	)
	if err := h.flusher.UpdateConfig(next); err != nil {
		_ = h.flusher.UpdateConfig(old)
		return fmt.Errorf("failed to update flush config: %w", err)
	}
	h.logger.Info("Flush config reloaded",
		zap.Duration("new_interval", next.Interval),
		zap.Int("new_threshold_bytes", next.ThresholdBytes),
		zap.Int("new_max_retries", next.MaxRetries),
		zap.Duration("new_retry_backoff", next.RetryBackoff))
	return nil
}
