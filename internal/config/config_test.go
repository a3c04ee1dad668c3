// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEncryptionKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConfigLoadsFromFile(t *testing.T) {
	path := writeConfig(t, `
host = "127.0.0.1"
port = 9000
logLevel = "DEBUG"
encryptionKey = "`+testEncryptionKeyHex+`"
`)

	cfg, err := New(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Config.Host)
	assert.Equal(t, 9000, cfg.Config.Port)
	assert.Equal(t, "DEBUG", cfg.Config.LogLevel)
}

func TestConfigFirstRunWritesFileWithKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := New(path)
	require.NoError(t, err)

	// The generated file exists and carries a usable encryption key.
	_, err = os.Stat(path)
	require.NoError(t, err)

	key, err := cfg.GetEncryptionKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
port = 9000
encryptionKey = "`+testEncryptionKeyHex+`"
`)

	t.Setenv("SANITARR__PORT", "8123")
	t.Setenv("SANITARR__DATABASE_PATH", "/tmp/override.db")

	cfg, err := New(path)
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Config.Port)
	assert.Equal(t, "/tmp/override.db", cfg.GetDatabasePath())
}

func TestConfigDatabasePathResolution(t *testing.T) {
	path := writeConfig(t, `
encryptionKey = "`+testEncryptionKeyHex+`"
`)

	cfg, err := New(path)
	require.NoError(t, err)

	// Default: next to the config file.
	assert.Equal(t, filepath.Join(filepath.Dir(path), "sanitarr.db"), cfg.GetDatabasePath())

	cfg.Config.DataDir = "/data"
	assert.Equal(t, filepath.Join("/data", "sanitarr.db"), cfg.GetDatabasePath())

	cfg.Config.DatabasePath = "/explicit/sanitarr.db"
	assert.Equal(t, "/explicit/sanitarr.db", cfg.GetDatabasePath())
}

func TestConfigRejectsBadEncryptionKey(t *testing.T) {
	path := writeConfig(t, `
encryptionKey = "deadbeef"
`)

	_, err := New(path)
	assert.Error(t, err)
}
