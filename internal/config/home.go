package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetOverseerHome returns the overseer home directory.
// Priority order:
//  1. OVERSEER_HOME environment variable (if set)
//  2. .overseer under the current working directory
//
// The directory is created if it doesn't exist.
func GetOverseerHome() (string, error) {
	if home := os.Getenv("OVERSEER_HOME"); home != "" {
		if err := os.MkdirAll(home, 0755); err != nil {
			return "", fmt.Errorf("create overseer home directory: %w", err)
		}
		return home, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	home := filepath.Join(cwd, ".overseer")
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create overseer home directory: %w", err)
	}
	return home, nil
}

// DefaultConfigPath returns the config file path inside the overseer home.
func DefaultConfigPath() (string, error) {
	home, err := GetOverseerHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "config.yaml"), nil
}
