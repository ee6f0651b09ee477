package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetSymphonyHome returns the symphony home directory
// Priority order:
//  1. SYMPHONY_HOME environment variable (if set)
//  2. $HOME/.symphony
//  3. .symphony under the current working directory (fallback)
//
// The directory is created if it doesn't exist
func GetSymphonyHome() (string, error) {
	if home := os.Getenv("SYMPHONY_HOME"); home != "" {
		if err := os.MkdirAll(home, 0755); err != nil {
			return "", fmt.Errorf("create symphony home directory: %w", err)
		}
		return home, nil
	}

	base, err := os.UserHomeDir()
	if err != nil || base == "" {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			return "", fmt.Errorf("get working directory: %w", cwdErr)
		}
		base = cwd
	}

	home := filepath.Join(base, ".symphony")
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create symphony home directory: %w", err)
	}
	return home, nil
}

// GetHistoryDBPath returns the absolute path to the run history database
// Always returns: $SYMPHONY_HOME/history.db
func GetHistoryDBPath() (string, error) {
	home, err := GetSymphonyHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "history.db"), nil
}

// ResolveHistoryDBPath returns the configured history path, or the default
// under the symphony home when none is set
func (c *Config) ResolveHistoryDBPath() (string, error) {
	if c.History.DBPath != "" {
		return c.History.DBPath, nil
	}
	return GetHistoryDBPath()
}
