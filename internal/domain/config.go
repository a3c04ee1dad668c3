// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
)

// Config represents the application configuration
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`
	DatabasePath  string `toml:"databasePath" mapstructure:"databasePath"`

	// EncryptionKey protects instance API keys and download client
	// passwords at rest. 32 bytes, hex encoded.
	EncryptionKey string `toml:"encryptionKey" mapstructure:"encryptionKey"`

	MetricsEnabled bool `toml:"metricsEnabled" mapstructure:"metricsEnabled"`

	// Cleaner engine tuning. Per-instance behavior lives in the database.
	CleanerClassifyWorkers int `toml:"cleanerClassifyWorkers" mapstructure:"cleanerClassifyWorkers"`
	CleanerActionDelayMS   int `toml:"cleanerActionDelayMs" mapstructure:"cleanerActionDelayMs"`
	RunLogRetentionDays    int `toml:"runLogRetentionDays" mapstructure:"runLogRetentionDays"`
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.EncryptionKey == "" {
		return errors.New("encryptionKey is required")
	}
	if len(c.EncryptionKey) != 64 {
		return errors.New("encryptionKey must be 32 bytes hex encoded (64 characters)")
	}
	return nil
}
