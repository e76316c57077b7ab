// pkg/log/logger.go
package log

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/imReese/NexusMem/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "nexusmem.log"

// Logger bundles a zap logger with the level that controls it, so the level
// can be changed at runtime.
type Logger struct {
	*zap.Logger
	Level zap.AtomicLevel
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// SetupLoggerFromConfig writes JSON logs to a rotated file under cfg.RunDir
// and, when cfg.Console is set, human-readable logs to stderr.
func SetupLoggerFromConfig(cfg config.LogConfig) (*Logger, error) {
	if err := validateLogConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid log config: %w", err)
	}
	if err := os.MkdirAll(cfg.RunDir, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.BackupDir, 0755); err != nil {
		return nil, err
	}
	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.RunDir, logFileName),
		MaxSize:    cfg.MaxSize, // MB
		MaxBackups: cfg.MaxBackup,
		MaxAge:     cfg.MaxAge, // days
		Compress:   true,
		LocalTime:  true,
	}

	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(logFile), level),
	}
	if cfg.Console {
		consoleCfg := encoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	options := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	return &Logger{
		Logger: zap.New(zapcore.NewTee(cores...), options...),
		Level:  level,
	}, nil
}

// NewConsoleLogger logs to stderr only. It is used before the config file
// has been read and by the client commands.
func NewConsoleLogger(levelName string) *Logger {
	level := zap.NewAtomicLevelAt(parseLevel(levelName))
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.Lock(os.Stderr),
		level,
	)
	return &Logger{Logger: zap.New(core, zap.AddCaller()), Level: level}
}

func parseLevel(name string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func validateLogConfig(cfg config.LogConfig) error {
	if cfg.RunDir == "" || cfg.BackupDir == "" {
		return errors.New("log directories must be specified")
	}

	if cfg.MaxSize <= 0 || cfg.MaxSize > 1024 {
		return errors.New("max_size must be between 1-1024 MB")
	}

	if cfg.MaxBackup < 0 || cfg.MaxBackup > 100 {
		return errors.New("max_backups must be between 0-100")
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	return nil
}
