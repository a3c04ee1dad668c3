// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

// migrations are applied in order; each entry runs inside its own
// transaction and bumps schema_migrations by one.
var migrations = []string{
	`
	CREATE TABLE instances (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL CHECK (type IN ('sonarr', 'radarr', 'prowlarr')),
		name TEXT NOT NULL UNIQUE,
		base_url TEXT NOT NULL,
		api_key_encrypted TEXT NOT NULL,
		download_client_host TEXT,
		download_client_username TEXT,
		download_client_password_encrypted TEXT,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		timeout_seconds INTEGER NOT NULL DEFAULT 30,
		last_test_at TIMESTAMP,
		last_test_status TEXT NOT NULL DEFAULT 'untested',
		last_test_error TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE cleaner_configs (
		instance_id INTEGER PRIMARY KEY REFERENCES instances(id) ON DELETE CASCADE,
		enabled BOOLEAN NOT NULL DEFAULT 0,
		interval_mins INTEGER NOT NULL DEFAULT 15,
		dry_run_mode BOOLEAN NOT NULL DEFAULT 1,
		max_removals_per_run INTEGER NOT NULL DEFAULT 10,
		min_queue_age_mins INTEGER NOT NULL DEFAULT 10,
		rules TEXT NOT NULL DEFAULT '{}',
		strike_system_enabled BOOLEAN NOT NULL DEFAULT 1,
		max_strikes INTEGER NOT NULL DEFAULT 3,
		strike_decay_hours INTEGER NOT NULL DEFAULT 24,
		whitelist_enabled BOOLEAN NOT NULL DEFAULT 0,
		whitelist_patterns TEXT NOT NULL DEFAULT '[]',
		remove_from_client BOOLEAN NOT NULL DEFAULT 1,
		add_to_blocklist BOOLEAN NOT NULL DEFAULT 1,
		search_after_removal BOOLEAN NOT NULL DEFAULT 1,
		change_category_enabled BOOLEAN NOT NULL DEFAULT 0,
		target_category TEXT NOT NULL DEFAULT '',
		last_run_at TIMESTAMP,
		total_runs INTEGER NOT NULL DEFAULT 0,
		total_removals INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE strikes (
		instance_id INTEGER NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
		download_id TEXT NOT NULL,
		strike_count INTEGER NOT NULL DEFAULT 0,
		first_strike_at TIMESTAMP NOT NULL,
		last_strike_at TIMESTAMP NOT NULL,
		last_rule TEXT NOT NULL DEFAULT '',
		last_reason TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (instance_id, download_id)
	);

	CREATE TABLE run_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_id INTEGER NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
		status TEXT NOT NULL CHECK (status IN ('running', 'completed', 'partial', 'skipped', 'error')),
		is_dry_run BOOLEAN NOT NULL DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		cleaned_count INTEGER NOT NULL DEFAULT 0,
		skipped_count INTEGER NOT NULL DEFAULT 0,
		warned_count INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		items TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX idx_run_logs_instance_started ON run_logs(instance_id, started_at DESC);
	CREATE INDEX idx_run_logs_started ON run_logs(started_at DESC);
	`,
}
