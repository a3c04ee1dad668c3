// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsApplyOnce(t *testing.T) {
	t.Parallel()

	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var version int
	err = db.QueryRowContext(context.Background(), `SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)

	for _, table := range []string{"instances", "cleaner_configs", "strikes", "run_logs"} {
		var name string
		err := db.QueryRowContext(context.Background(), `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s must exist", table)
	}
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sanitarr.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// A second open against the same file re-runs no migrations.
	db, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var count int
	err = db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM schema_migrations`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestForeignKeysEnforced(t *testing.T) {
	t.Parallel()

	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.ExecContext(context.Background(), `
		INSERT INTO strikes (instance_id, download_id, strike_count, first_strike_at, last_strike_at, last_rule, last_reason)
		VALUES (999, 'orphan', 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, '', '')
	`)
	assert.Error(t, err, "strike rows require an existing instance")
}
