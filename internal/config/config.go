// Package config loads overseer configuration from YAML with environment
// overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RetentionConfig controls pruning of finished executions.
type RetentionConfig struct {
	// KeepTerminalDays is how many days completed and failed executions
	// are kept before pruning (0 = keep forever)
	KeepTerminalDays int `yaml:"keep_terminal_days"`
}

// Config represents overseer configuration options
type Config struct {
	// PlatformURL is the base URL of the task platform API
	PlatformURL string `yaml:"platform_url"`

	// APIToken authenticates the agent against the platform. Usually set
	// via OVERSEER_API_TOKEN rather than the config file.
	APIToken string `yaml:"api_token"`

	// DBPath is the path to the execution database
	DBPath string `yaml:"db_path"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs are written
	LogDir string `yaml:"log_dir"`

	// SweepInterval is the cadence of the monitor scheduler
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// PlannerTimeout is the maximum duration of one planner invocation
	PlannerTimeout time.Duration `yaml:"planner_timeout"`

	// QueueSize is the job queue buffer capacity
	QueueSize int `yaml:"queue_size"`

	// Workers is the number of job workers the daemon runs
	Workers int `yaml:"workers"`

	// Retention contains pruning configuration
	Retention RetentionConfig `yaml:"retention"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		PlatformURL:    "http://localhost:8080",
		DBPath:         ".overseer/executions.db",
		LogLevel:       "info",
		LogDir:         ".overseer/logs",
		SweepInterval:  2 * time.Hour,
		PlannerTimeout: 30 * time.Minute,
		QueueSize:      64,
		Workers:        2,
		Retention: RetentionConfig{
			KeepTerminalDays: 90,
		},
	}
}

// LoadConfig loads configuration from the specified file path.
// If the file doesn't exist, returns default configuration without error.
// If the file exists but is malformed, returns an error.
// A .env file in the working directory and OVERSEER_* environment
// variables override file values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := applyYAML(cfg, data); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Missing .env is fine; env vars may still be set directly.
	_ = godotenv.Load()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyYAML merges non-zero file values over the defaults. Durations are
// parsed from strings so the file can say "30m" rather than nanoseconds.
func applyYAML(cfg *Config, data []byte) error {
	type yamlConfig struct {
		PlatformURL    string          `yaml:"platform_url"`
		APIToken       string          `yaml:"api_token"`
		DBPath         string          `yaml:"db_path"`
		LogLevel       string          `yaml:"log_level"`
		LogDir         string          `yaml:"log_dir"`
		SweepInterval  string          `yaml:"sweep_interval"`
		PlannerTimeout string          `yaml:"planner_timeout"`
		QueueSize      int             `yaml:"queue_size"`
		Workers        int             `yaml:"workers"`
		Retention      RetentionConfig `yaml:"retention"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.PlatformURL != "" {
		cfg.PlatformURL = yamlCfg.PlatformURL
	}
	if yamlCfg.APIToken != "" {
		cfg.APIToken = yamlCfg.APIToken
	}
	if yamlCfg.DBPath != "" {
		cfg.DBPath = yamlCfg.DBPath
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.SweepInterval != "" {
		d, err := time.ParseDuration(yamlCfg.SweepInterval)
		if err != nil {
			return fmt.Errorf("invalid sweep_interval format %q: %w", yamlCfg.SweepInterval, err)
		}
		cfg.SweepInterval = d
	}
	if yamlCfg.PlannerTimeout != "" {
		d, err := time.ParseDuration(yamlCfg.PlannerTimeout)
		if err != nil {
			return fmt.Errorf("invalid planner_timeout format %q: %w", yamlCfg.PlannerTimeout, err)
		}
		cfg.PlannerTimeout = d
	}
	if yamlCfg.QueueSize != 0 {
		cfg.QueueSize = yamlCfg.QueueSize
	}
	if yamlCfg.Workers != 0 {
		cfg.Workers = yamlCfg.Workers
	}

	// Detect whether the retention section was present at all, so an
	// explicit keep_terminal_days: 0 survives the merge.
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err == nil {
		if section, exists := rawMap["retention"]; exists && section != nil {
			if sectionMap, ok := section.(map[string]interface{}); ok {
				if _, exists := sectionMap["keep_terminal_days"]; exists {
					cfg.Retention.KeepTerminalDays = yamlCfg.Retention.KeepTerminalDays
				}
			}
		}
	}

	return nil
}

// applyEnv overrides config values from OVERSEER_* environment variables.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("OVERSEER_PLATFORM_URL"); v != "" {
		cfg.PlatformURL = v
	}
	if v := os.Getenv("OVERSEER_API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv("OVERSEER_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("OVERSEER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OVERSEER_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("OVERSEER_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid OVERSEER_SWEEP_INTERVAL %q: %w", v, err)
		}
		cfg.SweepInterval = d
	}
	if v := os.Getenv("OVERSEER_PLANNER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid OVERSEER_PLANNER_TIMEOUT %q: %w", v, err)
		}
		cfg.PlannerTimeout = d
	}
	if v := os.Getenv("OVERSEER_KEEP_TERMINAL_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid OVERSEER_KEEP_TERMINAL_DAYS %q: %w", v, err)
		}
		cfg.Retention.KeepTerminalDays = days
	}
	return nil
}

// Validate validates the configuration values.
// Returns an error if any values are invalid.
func (c *Config) Validate() error {
	if c.PlatformURL == "" {
		return fmt.Errorf("platform_url cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
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

	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be > 0, got %v", c.SweepInterval)
	}
	if c.PlannerTimeout <= 0 {
		return fmt.Errorf("planner_timeout must be > 0, got %v", c.PlannerTimeout)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be > 0, got %d", c.QueueSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0, got %d", c.Workers)
	}
	if c.Retention.KeepTerminalDays < 0 {
		return fmt.Errorf("retention.keep_terminal_days must be >= 0, got %d", c.Retention.KeepTerminalDays)
	}

	return nil
}
