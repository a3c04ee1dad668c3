// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/autobrr/sanitarr/internal/dbinterface"
)

// Import block cleanup levels decide how eager the importBlock rule is
// about treating a block reason as actionable.
const (
	ImportBlockLevelConservative = "conservative"
	ImportBlockLevelModerate     = "moderate"
	ImportBlockLevelAggressive   = "aggressive"
)

// Import block pattern modes select between the built-in block reason
// patterns and a user supplied list.
const (
	ImportBlockPatternsBuiltin = "builtin"
	ImportBlockPatternsCustom  = "custom"
)

// Whitelist pattern types.
const (
	WhitelistMatchExact    = "exact"
	WhitelistMatchContains = "contains"
	WhitelistMatchRegex    = "regex"
)

// Whitelist pattern target fields.
const (
	WhitelistFieldTitle   = "title"
	WhitelistFieldIndexer = "indexer"
	WhitelistFieldClient  = "client"
)

// WhitelistPattern exempts queue items whose selected field matches the
// pattern. All matching is case-insensitive.
type WhitelistPattern struct {
	Type  string `json:"type"`  // "exact", "contains" or "regex"
	Field string `json:"field"` // "title", "indexer" or "client"
	Value string `json:"value"`
}

// RuleSettings holds the per-rule enable flags and thresholds. Stored as a
// JSON column so new rules don't need schema changes.
type RuleSettings struct {
	StalledEnabled       bool `json:"stalledEnabled"`
	StalledThresholdMins int  `json:"stalledThresholdMins"`

	FailedEnabled bool `json:"failedEnabled"`

	SlowEnabled           bool `json:"slowEnabled"`
	SlowSpeedThresholdKiB int  `json:"slowSpeedThresholdKiB"`
	SlowGracePeriodMins   int  `json:"slowGracePeriodMins"`

	ErrorPatternsEnabled bool     `json:"errorPatternsEnabled"`
	ErrorPatterns        []string `json:"errorPatterns,omitempty"`

	SeedingTimeoutEnabled bool `json:"seedingTimeoutEnabled"`
	SeedingTimeoutHours   int  `json:"seedingTimeoutHours"`

	EstimatedCompletionEnabled    bool    `json:"estimatedCompletionEnabled"`
	EstimatedCompletionMultiplier float64 `json:"estimatedCompletionMultiplier"`

	ImportPendingEnabled       bool `json:"importPendingEnabled"`
	ImportPendingThresholdMins int  `json:"importPendingThresholdMins"`

	ImportBlockEnabled      bool     `json:"importBlockEnabled"`
	ImportBlockCleanupLevel string   `json:"importBlockCleanupLevel"`
	ImportBlockPatternMode  string   `json:"importBlockPatternMode"`
	ImportBlockPatterns     []string `json:"importBlockPatterns,omitempty"`
}

// CleanerConfig is the full queue cleaner configuration for one instance.
type CleanerConfig struct {
	InstanceID int `json:"instanceId"`

	Enabled           bool `json:"enabled"`
	IntervalMins      int  `json:"intervalMins"`
	DryRunMode        bool `json:"dryRunMode"`
	MaxRemovalsPerRun int  `json:"maxRemovalsPerRun"`
	MinQueueAgeMins   int  `json:"minQueueAgeMins"`

	Rules RuleSettings `json:"rules"`

	StrikeSystemEnabled bool `json:"strikeSystemEnabled"`
	MaxStrikes          int  `json:"maxStrikes"`
	StrikeDecayHours    int  `json:"strikeDecayHours"`

	WhitelistEnabled  bool               `json:"whitelistEnabled"`
	WhitelistPatterns []WhitelistPattern `json:"whitelistPatterns,omitempty"`

	RemoveFromClient      bool   `json:"removeFromClient"`
	AddToBlocklist        bool   `json:"addToBlocklist"`
	SearchAfterRemoval    bool   `json:"searchAfterRemoval"`
	ChangeCategoryEnabled bool   `json:"changeCategoryEnabled"`
	TargetCategory        string `json:"targetCategory,omitempty"`

	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	TotalRuns     int64      `json:"totalRuns"`
	TotalRemovals int64      `json:"totalRemovals"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultCleanerConfig returns the configuration a fresh instance starts
// with: dry-run on, strike system on, nothing enabled.
func DefaultCleanerConfig(instanceID int) *CleanerConfig {
	return &CleanerConfig{
		InstanceID:        instanceID,
		Enabled:           false,
		IntervalMins:      15,
		DryRunMode:        true,
		MaxRemovalsPerRun: 10,
		MinQueueAgeMins:   10,
		Rules: RuleSettings{
			StalledThresholdMins:          60,
			SlowSpeedThresholdKiB:         100,
			SlowGracePeriodMins:           30,
			SeedingTimeoutHours:           48,
			EstimatedCompletionMultiplier: 3,
			ImportPendingThresholdMins:    60,
			ImportBlockCleanupLevel:       ImportBlockLevelConservative,
			ImportBlockPatternMode:        ImportBlockPatternsBuiltin,
		},
		StrikeSystemEnabled: true,
		MaxStrikes:          3,
		StrikeDecayHours:    24,
		RemoveFromClient:    true,
		AddToBlocklist:      true,
		SearchAfterRemoval:  true,
	}
}

// Validate rejects configurations before they reach the engine. All numeric
// thresholds must be non-negative and the run interval at least one minute.
func (c *CleanerConfig) Validate() error {
	if c == nil {
		return errors.New("cleaner config is nil")
	}
	if c.IntervalMins < 1 {
		return errors.New("intervalMins must be at least 1")
	}
	if c.MaxRemovalsPerRun < 0 {
		return errors.New("maxRemovalsPerRun must be non-negative")
	}
	if c.MinQueueAgeMins < 0 {
		return errors.New("minQueueAgeMins must be non-negative")
	}
	if c.MaxStrikes < 1 {
		return errors.New("maxStrikes must be at least 1")
	}
	if c.StrikeDecayHours < 0 {
		return errors.New("strikeDecayHours must be non-negative")
	}

	r := &c.Rules
	for name, v := range map[string]int{
		"stalledThresholdMins":       r.StalledThresholdMins,
		"slowSpeedThresholdKiB":      r.SlowSpeedThresholdKiB,
		"slowGracePeriodMins":        r.SlowGracePeriodMins,
		"seedingTimeoutHours":        r.SeedingTimeoutHours,
		"importPendingThresholdMins": r.ImportPendingThresholdMins,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
	}
	if r.EstimatedCompletionMultiplier < 0 {
		return errors.New("estimatedCompletionMultiplier must be non-negative")
	}

	switch r.ImportBlockCleanupLevel {
	case ImportBlockLevelConservative, ImportBlockLevelModerate, ImportBlockLevelAggressive:
	default:
		return fmt.Errorf("invalid importBlockCleanupLevel: %s", r.ImportBlockCleanupLevel)
	}
	switch r.ImportBlockPatternMode {
	case ImportBlockPatternsBuiltin, ImportBlockPatternsCustom:
	default:
		return fmt.Errorf("invalid importBlockPatternMode: %s", r.ImportBlockPatternMode)
	}
	if r.ImportBlockPatternMode == ImportBlockPatternsCustom && len(r.ImportBlockPatterns) == 0 {
		return errors.New("custom import block pattern mode requires at least one pattern")
	}

	if c.ErrorPatternsInvalid() {
		return errors.New("errorPatterns contains an invalid regular expression")
	}

	for i, p := range c.WhitelistPatterns {
		switch p.Type {
		case WhitelistMatchExact, WhitelistMatchContains, WhitelistMatchRegex:
		default:
			return fmt.Errorf("whitelist pattern %d: invalid type %q", i, p.Type)
		}
		switch p.Field {
		case WhitelistFieldTitle, WhitelistFieldIndexer, WhitelistFieldClient:
		default:
			return fmt.Errorf("whitelist pattern %d: invalid field %q", i, p.Field)
		}
		if strings.TrimSpace(p.Value) == "" {
			return fmt.Errorf("whitelist pattern %d: value is required", i)
		}
		if p.Type == WhitelistMatchRegex {
			if _, err := regexp.Compile("(?i)" + p.Value); err != nil {
				return fmt.Errorf("whitelist pattern %d: invalid regex: %w", i, err)
			}
		}
	}

	if c.ChangeCategoryEnabled && strings.TrimSpace(c.TargetCategory) == "" {
		return errors.New("changeCategoryEnabled requires a targetCategory")
	}

	return nil
}

// ErrorPatternsInvalid reports whether any configured error pattern fails
// to compile as a case-insensitive regex.
func (c *CleanerConfig) ErrorPatternsInvalid() bool {
	for _, p := range c.Rules.ErrorPatterns {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			return true
		}
	}
	return false
}

// CleanerConfigStore persists per-instance cleaner configurations.
type CleanerConfigStore struct {
	db dbinterface.Querier
}

func NewCleanerConfigStore(db dbinterface.Querier) *CleanerConfigStore {
	return &CleanerConfigStore{db: db}
}

// Get returns the configuration for an instance, falling back to defaults
// when none has been saved yet.
func (s *CleanerConfigStore) Get(ctx context.Context, instanceID int) (*CleanerConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT instance_id, enabled, interval_mins, dry_run_mode, max_removals_per_run, min_queue_age_mins,
			rules, strike_system_enabled, max_strikes, strike_decay_hours,
			whitelist_enabled, whitelist_patterns,
			remove_from_client, add_to_blocklist, search_after_removal, change_category_enabled, target_category,
			last_run_at, total_runs, total_removals, created_at, updated_at
		FROM cleaner_configs
		WHERE instance_id = ?
	`, instanceID)

	var cfg CleanerConfig
	var rulesJSON, patternsJSON string

	err := row.Scan(
		&cfg.InstanceID,
		&cfg.Enabled,
		&cfg.IntervalMins,
		&cfg.DryRunMode,
		&cfg.MaxRemovalsPerRun,
		&cfg.MinQueueAgeMins,
		&rulesJSON,
		&cfg.StrikeSystemEnabled,
		&cfg.MaxStrikes,
		&cfg.StrikeDecayHours,
		&cfg.WhitelistEnabled,
		&patternsJSON,
		&cfg.RemoveFromClient,
		&cfg.AddToBlocklist,
		&cfg.SearchAfterRemoval,
		&cfg.ChangeCategoryEnabled,
		&cfg.TargetCategory,
		&cfg.LastRunAt,
		&cfg.TotalRuns,
		&cfg.TotalRemovals,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultCleanerConfig(instanceID), nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(rulesJSON), &cfg.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules for instance %d: %w", instanceID, err)
	}
	if err := json.Unmarshal([]byte(patternsJSON), &cfg.WhitelistPatterns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal whitelist patterns for instance %d: %w", instanceID, err)
	}

	return &cfg, nil
}

// Update validates and saves a full configuration for an instance.
// Run bookkeeping fields (last run, counters) are not touched here.
func (s *CleanerConfigStore) Update(ctx context.Context, cfg *CleanerConfig) (*CleanerConfig, error) {
	if cfg == nil {
		return nil, errors.New("cleaner config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rulesJSON, err := json.Marshal(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rules: %w", err)
	}
	patterns := cfg.WhitelistPatterns
	if patterns == nil {
		patterns = []WhitelistPattern{}
	}
	patternsJSON, err := json.Marshal(patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal whitelist patterns: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cleaner_configs (
			instance_id, enabled, interval_mins, dry_run_mode, max_removals_per_run, min_queue_age_mins,
			rules, strike_system_enabled, max_strikes, strike_decay_hours,
			whitelist_enabled, whitelist_patterns,
			remove_from_client, add_to_blocklist, search_after_removal, change_category_enabled, target_category
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			enabled = excluded.enabled,
			interval_mins = excluded.interval_mins,
			dry_run_mode = excluded.dry_run_mode,
			max_removals_per_run = excluded.max_removals_per_run,
			min_queue_age_mins = excluded.min_queue_age_mins,
			rules = excluded.rules,
			strike_system_enabled = excluded.strike_system_enabled,
			max_strikes = excluded.max_strikes,
			strike_decay_hours = excluded.strike_decay_hours,
			whitelist_enabled = excluded.whitelist_enabled,
			whitelist_patterns = excluded.whitelist_patterns,
			remove_from_client = excluded.remove_from_client,
			add_to_blocklist = excluded.add_to_blocklist,
			search_after_removal = excluded.search_after_removal,
			change_category_enabled = excluded.change_category_enabled,
			target_category = excluded.target_category,
			updated_at = CURRENT_TIMESTAMP
	`,
		cfg.InstanceID, cfg.Enabled, cfg.IntervalMins, cfg.DryRunMode, cfg.MaxRemovalsPerRun, cfg.MinQueueAgeMins,
		string(rulesJSON), cfg.StrikeSystemEnabled, cfg.MaxStrikes, cfg.StrikeDecayHours,
		cfg.WhitelistEnabled, string(patternsJSON),
		cfg.RemoveFromClient, cfg.AddToBlocklist, cfg.SearchAfterRemoval, cfg.ChangeCategoryEnabled, strings.TrimSpace(cfg.TargetCategory),
	)
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, cfg.InstanceID)
}

// RecordRun bumps the run bookkeeping after a finished run.
func (s *CleanerConfigStore) RecordRun(ctx context.Context, instanceID int, finishedAt time.Time, removals int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cleaner_configs
		SET last_run_at = ?, total_runs = total_runs + 1, total_removals = total_removals + ?
		WHERE instance_id = ?
	`, finishedAt.UTC(), removals, instanceID)
	return err
}
