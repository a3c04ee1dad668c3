// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/sanitarr/internal/dbinterface"
)

var ErrRunLogNotFound = errors.New("run log not found")

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusSkipped   = "skipped"
	RunStatusError     = "error"
)

// Per-item outcomes inside a run.
const (
	ItemOutcomeCleaned = "cleaned"
	ItemOutcomeSkipped = "skipped"
	ItemOutcomeWarned  = "warned"
)

// RunItem records what happened to one queue item during a run.
type RunItem struct {
	DownloadID  string `json:"downloadId"`
	Title       string `json:"title"`
	Rule        string `json:"rule,omitempty"`
	Reason      string `json:"reason"`
	Outcome     string `json:"outcome"`
	StrikeCount int    `json:"strikeCount,omitempty"`
}

// RunLog is the append-only record of one orchestrated cleaning run.
type RunLog struct {
	ID         int64     `json:"id"`
	InstanceID int       `json:"instanceId"`
	Status     string    `json:"status"`
	IsDryRun   bool      `json:"isDryRun"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	DurationMS int64     `json:"durationMs"`

	CleanedCount int `json:"cleanedCount"`
	SkippedCount int `json:"skippedCount"`
	WarnedCount  int `json:"warnedCount"`

	Error string    `json:"error,omitempty"`
	Items []RunItem `json:"items,omitempty"`

	// HasDataError is set when the persisted item detail could not be
	// fully deserialized; summary counters remain trustworthy.
	HasDataError bool `json:"hasDataError,omitempty"`
}

// RunLogFilters narrows run log queries.
type RunLogFilters struct {
	InstanceID int
	Status     string
	Since      time.Time
	Limit      int
	Offset     int
}

// RunLogStore persists run logs. A log is written exactly once, after the
// run reaches a terminal state.
type RunLogStore struct {
	db dbinterface.Querier
}

func NewRunLogStore(db dbinterface.Querier) *RunLogStore {
	return &RunLogStore{db: db}
}

// Append writes a finished run log atomically and returns its id.
func (s *RunLogStore) Append(ctx context.Context, run *RunLog) (int64, error) {
	if run == nil {
		return 0, errors.New("run log is nil")
	}
	switch run.Status {
	case RunStatusCompleted, RunStatusPartial, RunStatusSkipped, RunStatusError:
	default:
		return 0, fmt.Errorf("cannot append run log with non-terminal status %q", run.Status)
	}

	items := run.Items
	if items == nil {
		items = []RunItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal run items: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run_logs (instance_id, status, is_dry_run, started_at, finished_at, duration_ms, cleaned_count, skipped_count, warned_count, error, items)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.InstanceID, run.Status, run.IsDryRun,
		run.StartedAt.UTC(), run.FinishedAt.UTC(), run.DurationMS,
		run.CleanedCount, run.SkippedCount, run.WarnedCount,
		run.Error, string(itemsJSON),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const runLogColumns = `id, instance_id, status, is_dry_run, started_at, finished_at, duration_ms, cleaned_count, skipped_count, warned_count, error, items`

func scanRunLog(row interface{ Scan(...any) error }) (*RunLog, error) {
	var run RunLog
	var itemsJSON string
	if err := row.Scan(
		&run.ID,
		&run.InstanceID,
		&run.Status,
		&run.IsDryRun,
		&run.StartedAt,
		&run.FinishedAt,
		&run.DurationMS,
		&run.CleanedCount,
		&run.SkippedCount,
		&run.WarnedCount,
		&run.Error,
		&itemsJSON,
	); err != nil {
		return nil, err
	}

	// Item detail is best effort: a corrupt payload flags the run instead
	// of failing the query, so summary counters stay available.
	if err := json.Unmarshal([]byte(itemsJSON), &run.Items); err != nil {
		run.Items = nil
		run.HasDataError = true
		log.Warn().Int64("runID", run.ID).Err(err).Msg("run log: failed to decode item detail")
	}

	return &run, nil
}

// Get returns a single run log by id.
func (s *RunLogStore) Get(ctx context.Context, id int64) (*RunLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runLogColumns+` FROM run_logs WHERE id = ?`, id)
	run, err := scanRunLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunLogNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Query returns run logs matching the filters, newest first.
func (s *RunLogStore) Query(ctx context.Context, filters RunLogFilters) ([]*RunLog, error) {
	var where []string
	var args []any

	if filters.InstanceID > 0 {
		where = append(where, "instance_id = ?")
		args = append(args, filters.InstanceID)
	}
	if filters.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filters.Status)
	}
	if !filters.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, filters.Since.UTC())
	}

	query := `SELECT ` + runLogColumns + ` FROM run_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id DESC`

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, max(filters.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunLog
	for rows.Next() {
		run, err := scanRunLog(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Count returns the number of run logs matching the instance filter,
// used for pagination.
func (s *RunLogStore) Count(ctx context.Context, instanceID int) (int, error) {
	query := `SELECT COUNT(*) FROM run_logs`
	var args []any
	if instanceID > 0 {
		query += ` WHERE instance_id = ?`
		args = append(args, instanceID)
	}
	var count int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// Prune deletes run logs older than retentionDays and returns how many
// were removed.
func (s *RunLogStore) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_logs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
