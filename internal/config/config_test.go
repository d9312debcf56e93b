package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	defaults := DefaultConfig()
	assert.Equal(t, defaults.DBPath, cfg.DBPath)
	assert.Equal(t, defaults.LogLevel, cfg.LogLevel)
	assert.Equal(t, defaults.SweepInterval, cfg.SweepInterval)
	assert.Equal(t, defaults.Retention.KeepTerminalDays, cfg.Retention.KeepTerminalDays)
}

func TestLoadConfigMergesWithDefaults(t *testing.T) {
	path := writeConfig(t, `
db_path: /var/lib/overseer/executions.db
log_level: debug
sweep_interval: 30m
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/overseer/executions.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Minute, cfg.SweepInterval)
	// Unspecified fields keep their defaults.
	assert.Equal(t, DefaultConfig().PlannerTimeout, cfg.PlannerTimeout)
	assert.Equal(t, DefaultConfig().Workers, cfg.Workers)
}

func TestLoadConfigExplicitZeroRetention(t *testing.T) {
	path := writeConfig(t, `
retention:
  keep_terminal_days: 0
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Retention.KeepTerminalDays)
}

func TestLoadConfigInvalidDuration(t *testing.T) {
	path := writeConfig(t, "sweep_interval: soon\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep_interval")
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := writeConfig(t, "db_path: [unclosed\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, "log_level: debug\n")

	t.Setenv("OVERSEER_LOG_LEVEL", "error")
	t.Setenv("OVERSEER_SWEEP_INTERVAL", "15m")
	t.Setenv("OVERSEER_KEEP_TERMINAL_DAYS", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 7, cfg.Retention.KeepTerminalDays)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty db path",
			mutate:  func(c *Config) { c.DBPath = "" },
			wantErr: "db_path",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "zero sweep interval",
			mutate:  func(c *Config) { c.SweepInterval = 0 },
			wantErr: "sweep_interval",
		},
		{
			name:    "negative retention",
			mutate:  func(c *Config) { c.Retention.KeepTerminalDays = -1 },
			wantErr: "keep_terminal_days",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Workers = 0 },
			wantErr: "workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestGetOverseerHomeEnvOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "custom-home")
	t.Setenv("OVERSEER_HOME", dir)

	home, err := GetOverseerHome()
	require.NoError(t, err)
	assert.Equal(t, dir, home)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
