// pkg/config/watcher.go
package config

import (
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type HotReloadHandler interface {
	OnConfigReload(newCfg *ServerConfig) error
}

// ConfigWatcher polls a config file and hands every successfully parsed
// change to the registered handlers.
type ConfigWatcher struct {
	logger     *zap.Logger
	configPath string
	lastMod    time.Time
	interval   time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	doneCh     chan struct{}
	started    atomic.Bool

	mu       sync.Mutex
	handlers []HotReloadHandler
}

func NewConfigWatcher(configPath string, logger *zap.Logger, interval time.Duration) *ConfigWatcher {
	w := &ConfigWatcher{
		configPath: configPath,
		logger:     logger,
		interval:   interval,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	// The file as it is now is the baseline; only later edits are reloads.
	if info, err := os.Stat(configPath); err == nil {
		w.lastMod = info.ModTime()
	}
	return w
}

// Register adds a handler. Handlers run in registration order.
func (w *ConfigWatcher) Register(h HotReloadHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.handlers = append(w.handlers, h)
}

func (w *ConfigWatcher) checkModified() bool {
	info, err := os.Stat(w.configPath)
	if err != nil {
		return false
	}
	if info.ModTime().After(w.lastMod) {
		w.lastMod = info.ModTime()
		return true
	}
	return false
}

func (w *ConfigWatcher) watchLoop() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			w.logger.Info("Config watcher stopped")
			return
		case <-ticker.C:
			if w.checkModified() {
				w.Reload()
			}
		}
	}
}

// Reload reads the config file now and dispatches it to the handlers.
func (w *ConfigWatcher) Reload() {
	cfg, err := LoadConfig(w.configPath, w.logger)
	if err != nil {
		w.logger.Error("Reload config failed", zap.Error(err))
		return
	}
	w.handleReload(cfg)
}

func (w *ConfigWatcher) Start() {
	if w.started.CompareAndSwap(false, true) {
		go w.watchLoop()
	}
}

// Stop ends the watch loop and waits for it to exit. Safe to call twice.
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.started.Load() {
			<-w.doneCh
		}
	})
}

func (w *ConfigWatcher) handleReload(newCfg *ServerConfig) {
	w.mu.Lock()
	handlersCopy := make([]HotReloadHandler, len(w.handlers))
	copy(handlersCopy, w.handlers)
	w.mu.Unlock()

	w.logger.Info("Config file reloaded",
		zap.Any("new_config", newCfg))

	for _, h := range handlersCopy {
		if err := h.OnConfigReload(newCfg); err != nil {
			w.logger.Error("Reload handler failed",
				zap.Error(err),
				zap.String("handler", reflect.TypeOf(h).String()))
		}
	}
}
