// pkg/log/hotreload.go
package log

import (
	"fmt"

	"github.com/imReese/NexusMem/pkg/config"
	"go.uber.org/zap"
)

// LevelReloadHandler applies log level changes from a reloaded config.
// File locations and rotation settings need a restart.
type LevelReloadHandler struct {
	logger *Logger
}

func NewLevelReloadHandler(logger *Logger) *LevelReloadHandler {
	return &LevelReloadHandler{logger: logger}
}

func (h *LevelReloadHandler) OnConfigReload(newCfg *config.ServerConfig) error {
	if err := validateLogConfig(newCfg.Log); err != nil {
		return fmt.Errorf("invalid log config: %w", err)
	}

	old := h.logger.Level.Level()
	next := parseLevel(newCfg.Log.Level)
	if old == next {
		return nil
	}
	h.logger.Level.SetLevel(next)
	h.logger.Info("Log level reloaded",
		zap.Stringer("old_level", old),
		zap.Stringer("new_level", next))
	return nil
}
