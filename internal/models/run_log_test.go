// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sanitarr/internal/database"
	"github.com/autobrr/sanitarr/internal/models"
)

func seedRunLogStore(t *testing.T) (*database.DB, *models.RunLogStore, int) {
	t.Helper()

	db, store := newInstanceStore(t)
	instance, err := store.Create(context.Background(), models.InstanceTypeRadarr, "radarr", "http://localhost:7878", "key", true, 30)
	require.NoError(t, err)

	return db, models.NewRunLogStore(db), instance.ID
}

func TestRunLogAppendAndGet(t *testing.T) {
	t.Parallel()

	_, store, instanceID := seedRunLogStore(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute)
	id, err := store.Append(ctx, &models.RunLog{
		InstanceID:   instanceID,
		Status:       models.RunStatusCompleted,
		StartedAt:    started,
		FinishedAt:   started.Add(10 * time.Second),
		DurationMS:   10000,
		CleanedCount: 1,
		Items: []models.RunItem{
			{DownloadID: "abc", Title: "A.Movie", Rule: "stalled", Reason: "stalled for 2h", Outcome: models.ItemOutcomeCleaned, StrikeCount: 3},
		},
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	run, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.CleanedCount)
	require.Len(t, run.Items, 1)
	assert.Equal(t, "abc", run.Items[0].DownloadID)
	assert.Equal(t, 3, run.Items[0].StrikeCount)
	assert.False(t, run.HasDataError)
}

func TestRunLogRejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()

	_, store, instanceID := seedRunLogStore(t)

	_, err := store.Append(context.Background(), &models.RunLog{
		InstanceID: instanceID,
		Status:     models.RunStatusRunning,
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	})
	assert.Error(t, err)
}

func TestRunLogGetNotFound(t *testing.T) {
	t.Parallel()

	_, store, _ := seedRunLogStore(t)

	_, err := store.Get(context.Background(), 404)
	assert.ErrorIs(t, err, models.ErrRunLogNotFound)
}

func TestRunLogCorruptItemsFlagged(t *testing.T) {
	t.Parallel()

	db, store, instanceID := seedRunLogStore(t)
	ctx := context.Background()

	id, err := store.Append(ctx, &models.RunLog{
		InstanceID:   instanceID,
		Status:       models.RunStatusCompleted,
		StartedAt:    time.Now(),
		FinishedAt:   time.Now(),
		CleanedCount: 2,
	})
	require.NoError(t, err)

	// Corrupt the stored detail behind the store's back.
	_, err = db.ExecContext(ctx, `UPDATE run_logs SET items = 'not json' WHERE id = ?`, id)
	require.NoError(t, err)

	run, err := store.Get(ctx, id)
	require.NoError(t, err, "corrupt detail must not fail the read")
	assert.True(t, run.HasDataError)
	assert.Nil(t, run.Items)
	assert.Equal(t, 2, run.CleanedCount, "summary counters stay trustworthy")
}

func TestRunLogQueryFilters(t *testing.T) {
	t.Parallel()

	db, store, instanceID := seedRunLogStore(t)
	ctx := context.Background()

	instanceStore, err := models.NewInstanceStore(db, testKey)
	require.NoError(t, err)
	other, err := instanceStore.Create(ctx, models.InstanceTypeSonarr, "sonarr", "http://localhost:8989", "key", true, 30)
	require.NoError(t, err)

	now := time.Now()
	for i, status := range []string{models.RunStatusCompleted, models.RunStatusError, models.RunStatusCompleted} {
		_, err := store.Append(ctx, &models.RunLog{
			InstanceID: instanceID,
			Status:     status,
			StartedAt:  now.Add(time.Duration(-i) * time.Hour),
			FinishedAt: now.Add(time.Duration(-i) * time.Hour),
		})
		require.NoError(t, err)
	}
	_, err = store.Append(ctx, &models.RunLog{
		InstanceID: other.ID,
		Status:     models.RunStatusCompleted,
		StartedAt:  now,
		FinishedAt: now,
	})
	require.NoError(t, err)

	runs, err := store.Query(ctx, models.RunLogFilters{InstanceID: instanceID})
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	// Newest first.
	assert.True(t, !runs[0].StartedAt.Before(runs[1].StartedAt))

	runs, err = store.Query(ctx, models.RunLogFilters{InstanceID: instanceID, Status: models.RunStatusError})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	runs, err = store.Query(ctx, models.RunLogFilters{Since: now.Add(-90 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	runs, err = store.Query(ctx, models.RunLogFilters{InstanceID: instanceID, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	count, err := store.Count(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = store.Count(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestRunLogPrune(t *testing.T) {
	t.Parallel()

	_, store, instanceID := seedRunLogStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -60)
	_, err := store.Append(ctx, &models.RunLog{
		InstanceID: instanceID,
		Status:     models.RunStatusCompleted,
		StartedAt:  old,
		FinishedAt: old,
	})
	require.NoError(t, err)
	_, err = store.Append(ctx, &models.RunLog{
		InstanceID: instanceID,
		Status:     models.RunStatusCompleted,
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	})
	require.NoError(t, err)

	pruned, err := store.Prune(ctx, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	count, err := store.Count(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Zero retention disables pruning entirely.
	pruned, err = store.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}
