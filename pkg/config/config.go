// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type LogConfig struct {
	RunDir    string `yaml:"run_dir"`
	BackupDir string `yaml:"backup_dir"`
	Level     string `yaml:"level"`
	MaxSize   int    `yaml:"max_size"` // MB
	MaxBackup int    `yaml:"max_backups"`
	MaxAge    int    `yaml:"max_age"` // days
	Console   bool   `yaml:"console"`
}

type FlushConfig struct {
	Interval       time.Duration `yaml:"interval"`
	ThresholdBytes int           `yaml:"threshold_bytes"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

type SinkConfig struct {
	Dir         string  `yaml:"dir"`
	Compression string  `yaml:"compression"`
	BloomFPRate float64 `yaml:"bloom_fp_rate"`
}

type ServerConfig struct {
	GRPCAddr        string        `yaml:"grpc_addr"`
	AdminAddr       string        `yaml:"admin_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Log             LogConfig     `yaml:"log"`
	Flush           FlushConfig   `yaml:"flush"`
	Sink            SinkConfig    `yaml:"sink"`
}

// Default returns a complete configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		GRPCAddr:        ":7070",
		AdminAddr:       ":7071",
		ShutdownTimeout: 10 * time.Second,
		Log: LogConfig{
			RunDir:    "/var/log/nexus-mem/run",
			BackupDir: "/var/log/nexus-mem/bak",
			Level:     "info",
			MaxSize:   100,
			MaxBackup: 30,
			MaxAge:    90,
		},
		Flush: FlushConfig{
			Interval:       10 * time.Second,
			ThresholdBytes: 64 << 20, // 64MB
			MaxRetries:     3,
			RetryBackoff:   200 * time.Millisecond,
		},
		Sink: SinkConfig{
			Dir:         "/opt/nexus-mem/segments",
			Compression: "none",
			BloomFPRate: 0.01,
		},
	}
}

// LoadConfig reads path, fills unset fields from Default and validates the
// result.
func LoadConfig(path string, logger *zap.Logger) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Info("Loaded server config.",
		zap.String("config_path", path),
		zap.Any("config", cfg),
	)
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *ServerConfig) Validate() error {
	var err error
	if c.GRPCAddr == "" {
		err = multierr.Append(err, errors.New("grpc_addr must be set"))
	}
	if c.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("shutdown_timeout must be positive"))
	}
	err = multierr.Append(err, c.Flush.Validate())
	if c.Sink.Dir == "" {
		err = multierr.Append(err, errors.New("sink.dir must be set"))
	}
	switch c.Sink.Compression {
	case "", "none", "zstd":
	default:
		err = multierr.Append(err, fmt.Errorf("sink.compression %q is not one of none, zstd", c.Sink.Compression))
	}
	if c.Sink.BloomFPRate <= 0 || c.Sink.BloomFPRate >= 1 {
		err = multierr.Append(err, errors.New("sink.bloom_fp_rate must be in (0, 1)"))
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (f FlushConfig) Validate() error {
	var err error
	if f.Interval <= 0 {
		err = multierr.Append(err, errors.New("flush.interval must be positive"))
	}
	if f.ThresholdBytes <= 0 {
		err = multierr.Append(err, errors.New("flush.threshold_bytes must be positive"))
	}
	if f.MaxRetries < 0 {
		err = multierr.Append(err, errors.New("flush.max_retries must not be negative"))
	}
	if f.RetryBackoff < 0 {
		err = multierr.Append(err, errors.New("flush.retry_backoff must not be negative"))
	}
	return err
}
