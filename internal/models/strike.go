// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/autobrr/sanitarr/internal/dbinterface"
)

// StrikeRecord tracks repeated rule violations for a single download on a
// single instance. Strike counts are monotonically non-negative; a record
// whose last strike is older than the decay window starts over at zero.
type StrikeRecord struct {
	InstanceID    int       `json:"instanceId"`
	DownloadID    string    `json:"downloadId"`
	StrikeCount   int       `json:"strikeCount"`
	FirstStrikeAt time.Time `json:"firstStrikeAt"`
	LastStrikeAt  time.Time `json:"lastStrikeAt"`
	LastRule      string    `json:"lastRule"`
	LastReason    string    `json:"lastReason"`
}

// StrikeStore persists strike records. Serialization of concurrent access
// per download id is the caller's responsibility; the store itself only
// guarantees that individual statements are atomic.
type StrikeStore struct {
	db dbinterface.Querier
}

func NewStrikeStore(db dbinterface.Querier) *StrikeStore {
	return &StrikeStore{db: db}
}

// GetOrCreate returns the strike record for a download, applying decay
// first: when the last strike is older than decay, the count resets to
// zero and the rule/reason attribution is cleared. A download without a
// record gets a zero-count record that is not yet persisted.
func (s *StrikeStore) GetOrCreate(ctx context.Context, instanceID int, downloadID string, decay time.Duration, now time.Time) (*StrikeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT instance_id, download_id, strike_count, first_strike_at, last_strike_at, last_rule, last_reason
		FROM strikes
		WHERE instance_id = ? AND download_id = ?
	`, instanceID, downloadID)

	var rec StrikeRecord
	err := row.Scan(&rec.InstanceID, &rec.DownloadID, &rec.StrikeCount, &rec.FirstStrikeAt, &rec.LastStrikeAt, &rec.LastRule, &rec.LastReason)
	if errors.Is(err, sql.ErrNoRows) {
		return &StrikeRecord{InstanceID: instanceID, DownloadID: downloadID}, nil
	}
	if err != nil {
		return nil, err
	}

	if decay > 0 && now.Sub(rec.LastStrikeAt) > decay {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE strikes SET strike_count = 0, last_rule = '', last_reason = ''
			WHERE instance_id = ? AND download_id = ?
		`, instanceID, downloadID); err != nil {
			return nil, err
		}
		rec.StrikeCount = 0
		rec.LastRule = ""
		rec.LastReason = ""
	}

	return &rec, nil
}

// RecordStrike increments the strike count and stamps the rule and reason
// that earned it. The first increment sets firstStrikeAt. The updated
// record is returned.
func (s *StrikeStore) RecordStrike(ctx context.Context, rec *StrikeRecord, rule, reason string, now time.Time) (*StrikeRecord, error) {
	if rec == nil {
		return nil, errors.New("strike record is nil")
	}

	now = now.UTC()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO strikes (instance_id, download_id, strike_count, first_strike_at, last_strike_at, last_rule, last_reason)
		VALUES (?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(instance_id, download_id) DO UPDATE SET
			strike_count = strike_count + 1,
			first_strike_at = CASE WHEN strike_count = 0 THEN excluded.first_strike_at ELSE first_strike_at END,
			last_strike_at = excluded.last_strike_at,
			last_rule = excluded.last_rule,
			last_reason = excluded.last_reason
	`, rec.InstanceID, rec.DownloadID, now, now, rule, reason); err != nil {
		return nil, err
	}

	updated := *rec
	updated.StrikeCount++
	if updated.StrikeCount == 1 {
		updated.FirstStrikeAt = now
	}
	updated.LastStrikeAt = now
	updated.LastRule = rule
	updated.LastReason = reason
	return &updated, nil
}

// Clear deletes the strike record for a download. Used after a successful
// removal and when the download leaves the queue outside the engine's
// control.
func (s *StrikeStore) Clear(ctx context.Context, instanceID int, downloadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM strikes WHERE instance_id = ? AND download_id = ?`, instanceID, downloadID)
	return err
}

// ListByInstance returns all strike records for an instance, most recently
// struck first.
func (s *StrikeStore) ListByInstance(ctx context.Context, instanceID int) ([]*StrikeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, download_id, strike_count, first_strike_at, last_strike_at, last_rule, last_reason
		FROM strikes
		WHERE instance_id = ?
		ORDER BY last_strike_at DESC
	`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*StrikeRecord
	for rows.Next() {
		var rec StrikeRecord
		if err := rows.Scan(&rec.InstanceID, &rec.DownloadID, &rec.StrikeCount, &rec.FirstStrikeAt, &rec.LastStrikeAt, &rec.LastRule, &rec.LastReason); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// PruneDeparted deletes strike records for downloads no longer present in
// the queue snapshot. Items imported, removed manually, or removed by the
// engine all land here.
func (s *StrikeStore) PruneDeparted(ctx context.Context, instanceID int, activeDownloadIDs []string) (int64, error) {
	if len(activeDownloadIDs) == 0 {
		res, err := s.db.ExecContext(ctx, `DELETE FROM strikes WHERE instance_id = ?`, instanceID)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}

	placeholders := strings.Repeat("?,", len(activeDownloadIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(activeDownloadIDs)+1)
	args = append(args, instanceID)
	for _, id := range activeDownloadIDs {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM strikes
		WHERE instance_id = ? AND download_id NOT IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
