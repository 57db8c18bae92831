// Package config loads foreman configuration from .foreman/config.yaml with
// defaults and CLI flag overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// RecoveryConfig holds error-handling and rollback settings.
type RecoveryConfig struct {
	// MaxRetries is the number of handleError calls before a failure is
	// terminal.
	MaxRetries int `yaml:"max_retries"`

	// Cooldown is the mandatory wait after an error before retrying.
	Cooldown time.Duration `yaml:"cooldown"`

	// RollbackOnError restores the latest checkpoint during recovery.
	RollbackOnError bool `yaml:"rollback_on_error"`

	// CheckpointPrefix names checkpoint branches/tags.
	CheckpointPrefix string `yaml:"checkpoint_prefix"`
}

// Config represents foreman configuration options.
type Config struct {
	// MaxWorkers bounds concurrently executing workers (0 is invalid; the
	// bound is the single throttle on parallelism).
	MaxWorkers int `yaml:"max_workers"`

	// WorkerTimeout is how long a worker may go without a heartbeat before
	// it is considered dead and cleaned up.
	WorkerTimeout time.Duration `yaml:"worker_timeout"`

	// StateDir is the directory holding per-session state documents.
	StateDir string `yaml:"state_dir"`

	// EventsDB is the path of the sqlite event sink.
	EventsDB string `yaml:"events_db"`

	// LogLevel sets console verbosity (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Recovery holds error-handling settings.
	Recovery RecoveryConfig `yaml:"recovery"`
}

// DefaultConfig returns a Config with the documented default values.
func DefaultConfig() *Config {
	return &Config{
		MaxWorkers:    5,
		WorkerTimeout: 60 * time.Second,
		StateDir:      ".foreman/state",
		EventsDB:      ".foreman/events.db",
		LogLevel:      "info",
		Recovery: RecoveryConfig{
			MaxRetries:       3,
			Cooldown:         5 * time.Second,
			RollbackOnError:  true,
			CheckpointPrefix: "foreman-checkpoint-",
		},
	}
}

// LoadConfig loads configuration from the given path. A missing file yields
// the defaults without error; a malformed file is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations come in as strings ("60s", "5m"); parse through a shadow
	// struct and merge non-zero values over the defaults.
	type yamlRecovery struct {
		MaxRetries       *int   `yaml:"max_retries"`
		Cooldown         string `yaml:"cooldown"`
		RollbackOnError  *bool  `yaml:"rollback_on_error"`
		CheckpointPrefix string `yaml:"checkpoint_prefix"`
	}
	type yamlConfig struct {
		MaxWorkers    int          `yaml:"max_workers"`
		WorkerTimeout string       `yaml:"worker_timeout"`
		StateDir      string       `yaml:"state_dir"`
		EventsDB      string       `yaml:"events_db"`
		LogLevel      string       `yaml:"log_level"`
		Recovery      yamlRecovery `yaml:"recovery"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.MaxWorkers != 0 {
		cfg.MaxWorkers = yamlCfg.MaxWorkers
	}
	if yamlCfg.WorkerTimeout != "" {
		timeout, err := time.ParseDuration(yamlCfg.WorkerTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid worker_timeout %q: %w", yamlCfg.WorkerTimeout, err)
		}
		cfg.WorkerTimeout = timeout
	}
	if yamlCfg.StateDir != "" {
		cfg.StateDir = yamlCfg.StateDir
	}
	if yamlCfg.EventsDB != "" {
		cfg.EventsDB = yamlCfg.EventsDB
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.Recovery.MaxRetries != nil {
		cfg.Recovery.MaxRetries = *yamlCfg.Recovery.MaxRetries
	}
	if yamlCfg.Recovery.Cooldown != "" {
		cooldown, err := time.ParseDuration(yamlCfg.Recovery.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("invalid recovery.cooldown %q: %w", yamlCfg.Recovery.Cooldown, err)
		}
		cfg.Recovery.Cooldown = cooldown
	}
	if yamlCfg.Recovery.RollbackOnError != nil {
		cfg.Recovery.RollbackOnError = *yamlCfg.Recovery.RollbackOnError
	}
	if yamlCfg.Recovery.CheckpointPrefix != "" {
		cfg.Recovery.CheckpointPrefix = yamlCfg.Recovery.CheckpointPrefix
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .foreman/config.yaml in the
// given directory, falling back to defaults when absent.
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".foreman", "config.yaml"))
}

// MergeWithFlags merges CLI flag values into the configuration. Non-nil
// values override the file settings.
func (c *Config) MergeWithFlags(maxWorkers *int, workerTimeout *time.Duration, stateDir *string, logLevel *string) {
	if maxWorkers != nil {
		c.MaxWorkers = *maxWorkers
	}
	if workerTimeout != nil {
		c.WorkerTimeout = *workerTimeout
	}
	if stateDir != nil {
		c.StateDir = *stateDir
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be >= 1, got %d", c.MaxWorkers)
	}
	if c.WorkerTimeout <= 0 {
		return fmt.Errorf("worker_timeout must be > 0, got %v", c.WorkerTimeout)
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir cannot be empty")
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.Recovery.MaxRetries < 1 {
		return fmt.Errorf("recovery.max_retries must be >= 1, got %d", c.Recovery.MaxRetries)
	}
	if c.Recovery.Cooldown < 0 {
		return fmt.Errorf("recovery.cooldown must be >= 0, got %v", c.Recovery.Cooldown)
	}

	return nil
}
