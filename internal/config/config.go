// Package config loads sync daemon configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full daemon configuration.
type Config struct {
	ListenAddr    string     `yaml:"listen_addr"`
	DataDir       string     `yaml:"data_dir"`
	MigrationsDir string     `yaml:"migrations_dir"`
	Log           LogConfig  `yaml:"log"`
	Sync          SyncConfig `yaml:"sync"`
}

// LogConfig controls the structured logger sink.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	// File, when set, routes log output through a size-rotated file
	// instead of stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// SyncConfig tunes the coordinator and queue behavior.
type SyncConfig struct {
	// MaxPushRetries bounds internal retries of a version-race during
	// append before the push is surfaced as transient failure.
	MaxPushRetries int `yaml:"max_push_retries"`
	// QueueMaxRetries is the delivery retry ceiling after which a queue
	// item parks in the terminal failed state.
	QueueMaxRetries int `yaml:"queue_max_retries"`
	// DefaultDrainLimit caps a pull when the client doesn't pass one.
	DefaultDrainLimit int `yaml:"default_drain_limit"`
	// DeliveredRetention is how long acknowledged queue items are kept
	// before the archiver prunes them.
	DeliveredRetention time.Duration `yaml:"delivered_retention"`
	// ArchiveInterval is how often the archiver runs.
	ArchiveInterval time.Duration `yaml:"archive_interval"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ListenAddr:    ":8090",
		DataDir:       "./data",
		MigrationsDir: "./migrations",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Sync: SyncConfig{
			MaxPushRetries:     3,
			QueueMaxRetries:    5,
			DefaultDrainLimit:  100,
			DeliveredRetention: 7 * 24 * time.Hour,
			ArchiveInterval:    time.Hour,
		},
	}
}

// Load reads configuration from path, applying defaults for anything the
// file omits and environment overrides on top. A missing file is not an
// error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables on the loaded config.
func (c *Config) applyEnv() {
	if v := os.Getenv("PANTRYSYNC_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("PANTRYSYNC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PANTRYSYNC_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PANTRYSYNC_LOG_FILE"); v != "" {
		c.Log.File = v
	}
}

// validate rejects values the daemon cannot run with.
func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Sync.MaxPushRetries < 1 {
		return fmt.Errorf("sync.max_push_retries must be at least 1, got %d", c.Sync.MaxPushRetries)
	}
	if c.Sync.QueueMaxRetries < 1 {
		return fmt.Errorf("sync.queue_max_retries must be at least 1, got %d", c.Sync.QueueMaxRetries)
	}
	if c.Sync.DefaultDrainLimit < 1 {
		return fmt.Errorf("sync.default_drain_limit must be at least 1, got %d", c.Sync.DefaultDrainLimit)
	}
	return nil
}
