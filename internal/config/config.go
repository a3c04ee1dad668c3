// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the application configuration from a TOML file
// with SANITARR__ environment variable overrides, and wires up logging.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/sanitarr/internal/domain"
)

const envPrefix = "SANITARR__"

// AppConfig wraps the loaded configuration together with the viper
// instance that produced it.
type AppConfig struct {
	Config *domain.Config
	viper  *viper.Viper

	configDir string
}

// New loads configuration from configPath (a file or directory). When no
// config file exists, one is written with generated secrets so a first
// run works out of the box.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	if err := c.Config.Validate(); err != nil {
		return nil, err
	}

	c.setupLogger()

	return c, nil
}

func (c *AppConfig) defaults() {
	c.Config = &domain.Config{
		Host:                   "0.0.0.0",
		Port:                   7272,
		LogLevel:               "INFO",
		LogMaxSize:             50,
		LogMaxBackups:          3,
		MetricsEnabled:         true,
		CleanerClassifyWorkers: 4,
		CleanerActionDelayMS:   250,
		RunLogRetentionDays:    30,
	}

	c.viper.SetDefault("host", c.Config.Host)
	c.viper.SetDefault("port", c.Config.Port)
	c.viper.SetDefault("logLevel", c.Config.LogLevel)
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", c.Config.LogMaxSize)
	c.viper.SetDefault("logMaxBackups", c.Config.LogMaxBackups)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("databasePath", "")
	c.viper.SetDefault("encryptionKey", "")
	c.viper.SetDefault("metricsEnabled", c.Config.MetricsEnabled)
	c.viper.SetDefault("cleanerClassifyWorkers", c.Config.CleanerClassifyWorkers)
	c.viper.SetDefault("cleanerActionDelayMs", c.Config.CleanerActionDelayMS)
	c.viper.SetDefault("runLogRetentionDays", c.Config.RunLogRetentionDays)
}

func (c *AppConfig) load(configPath string) error {
	c.viper.SetConfigType("toml")

	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil && info.IsDir() {
			configPath = filepath.Join(configPath, "config.toml")
		}
		c.configDir = filepath.Dir(configPath)
		c.viper.SetConfigFile(configPath)

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := c.writeDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to write default config: %w", err)
			}
		}
	} else {
		dir := getDefaultConfigDir()
		c.configDir = dir
		configFile := filepath.Join(dir, "config.toml")
		c.viper.SetConfigFile(configFile)

		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			if err := c.writeDefaultConfig(configFile); err != nil {
				return fmt.Errorf("failed to write default config: %w", err)
			}
		}
	}

	// SANITARR__HOST, SANITARR__DATABASE_PATH, etc.
	c.viper.SetEnvPrefix(strings.TrimSuffix(envPrefix, "__"))
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.viper.AutomaticEnv()
	for _, key := range []string{
		"host", "port", "logLevel", "logPath", "logMaxSize", "logMaxBackups",
		"dataDir", "databasePath", "encryptionKey", "metricsEnabled",
		"cleanerClassifyWorkers", "cleanerActionDelayMs", "runLogRetentionDays",
	} {
		envKey := envPrefix + strings.ToUpper(camelToSnake(key))
		if err := c.viper.BindEnv(key, envKey); err != nil {
			return err
		}
	}

	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

// writeDefaultConfig creates a first-run config file with a freshly
// generated encryption key.
func (c *AppConfig) writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return err
	}

	content := fmt.Sprintf(`# sanitarr configuration
# Values can be overridden with SANITARR__ environment variables,
# e.g. SANITARR__PORT=8080

host = "0.0.0.0"
port = 7272

# Log level: TRACE, DEBUG, INFO, WARN, ERROR
logLevel = "INFO"

# Optional log file; empty logs to stderr only
#logPath = "sanitarr.log"

# Encryption key for instance credentials. Generated on first run,
# do not change once instances exist.
encryptionKey = "%s"

metricsEnabled = true
`, hex.EncodeToString(key))

	log.Info().Str("path", path).Msg("writing default config file")
	return os.WriteFile(path, []byte(content), 0o600)
}

// GetDatabasePath resolves the database location: explicit setting,
// otherwise dataDir, otherwise next to the config file.
func (c *AppConfig) GetDatabasePath() string {
	if c.Config.DatabasePath != "" {
		return c.Config.DatabasePath
	}
	if c.Config.DataDir != "" {
		return filepath.Join(c.Config.DataDir, "sanitarr.db")
	}
	return filepath.Join(c.configDir, "sanitarr.db")
}

// GetEncryptionKey decodes the configured hex key.
func (c *AppConfig) GetEncryptionKey() ([]byte, error) {
	key, err := hex.DecodeString(c.Config.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryptionKey: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryptionKey must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c *AppConfig) setupLogger() {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Config.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}

	if c.Config.LogPath != "" {
		logPath := c.Config.LogPath
		if !filepath.IsAbs(logPath) {
			logPath = filepath.Join(c.configDir, logPath)
		}
		fileWriter := &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    c.Config.LogMaxSize,
			MaxBackups: c.Config.LogMaxBackups,
		}
		log.Logger = log.Output(zerolog.MultiLevelWriter(console, fileWriter))
		return
	}

	log.Logger = log.Output(console)
}

// getDefaultConfigDir honors XDG_CONFIG_HOME (Docker sets it to /config)
// and falls back to ~/.config/sanitarr.
func getDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "sanitarr")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "sanitarr")
}

// camelToSnake converts viper keys to the env var segment convention,
// e.g. databasePath -> DATABASE_PATH.
func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}
