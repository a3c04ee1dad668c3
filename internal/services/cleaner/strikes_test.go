// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sanitarr/internal/database"
	"github.com/autobrr/sanitarr/internal/models"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

// newTestStores opens an in-memory database and seeds one enabled sonarr
// instance, returning its id.
func newTestStores(t *testing.T) (*database.DB, *models.InstanceStore, int) {
	t.Helper()

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	instanceStore, err := models.NewInstanceStore(db, testEncryptionKey)
	require.NoError(t, err)

	instance, err := instanceStore.Create(context.Background(), models.InstanceTypeSonarr, "sonarr-main", "http://localhost:8989", "apikey", true, 30)
	require.NoError(t, err)

	return db, instanceStore, instance.ID
}

func TestStrikeKeeperEscalation(t *testing.T) {
	t.Parallel()

	db, _, instanceID := newTestStores(t)
	keeper := newStrikeKeeper(models.NewStrikeStore(db))

	cfg := testConfig()
	cfg.MaxStrikes = 3
	verdict := &Verdict{Rule: RuleStalled, Reason: "stalled"}
	now := time.Now()

	rec, escalate, err := keeper.strike(context.Background(), instanceID, "dl1", cfg, verdict, now)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.StrikeCount)
	assert.False(t, escalate)

	rec, escalate, err = keeper.strike(context.Background(), instanceID, "dl1", cfg, verdict, now)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.StrikeCount)
	assert.False(t, escalate)

	rec, escalate, err = keeper.strike(context.Background(), instanceID, "dl1", cfg, verdict, now)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.StrikeCount)
	assert.True(t, escalate)
}

func TestStrikeKeeperClampsAtMaxStrikes(t *testing.T) {
	t.Parallel()

	db, _, instanceID := newTestStores(t)
	keeper := newStrikeKeeper(models.NewStrikeStore(db))

	cfg := testConfig()
	cfg.MaxStrikes = 3
	verdict := &Verdict{Rule: RuleStalled, Reason: "stalled"}
	now := time.Now()

	// Repeated offenses past the threshold keep escalating without
	// inflating the count, so a removal that never went through doesn't
	// push the record past the max.
	for i := 0; i < 5; i++ {
		rec, escalate, err := keeper.strike(context.Background(), instanceID, "dl1", cfg, verdict, now)
		require.NoError(t, err)
		if i < 2 {
			assert.False(t, escalate)
			assert.Equal(t, i+1, rec.StrikeCount)
		} else {
			assert.True(t, escalate)
			assert.Equal(t, 3, rec.StrikeCount)
		}
	}
}

func TestStrikeKeeperDecayResets(t *testing.T) {
	t.Parallel()

	db, _, instanceID := newTestStores(t)
	store := models.NewStrikeStore(db)
	keeper := newStrikeKeeper(store)

	cfg := testConfig()
	cfg.MaxStrikes = 3
	cfg.StrikeDecayHours = 24
	verdict := &Verdict{Rule: RuleSlow, Reason: "slow"}

	past := time.Now().Add(-48 * time.Hour)
	_, _, err := keeper.strike(context.Background(), instanceID, "dl1", cfg, verdict, past)
	require.NoError(t, err)
	_, _, err = keeper.strike(context.Background(), instanceID, "dl1", cfg, verdict, past)
	require.NoError(t, err)

	// Two days later the record has decayed; the next strike starts over
	// at one.
	rec, escalate, err := keeper.strike(context.Background(), instanceID, "dl1", cfg, verdict, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.StrikeCount)
	assert.False(t, escalate)
}

func TestStrikeKeeperConcurrentIncrements(t *testing.T) {
	t.Parallel()

	db, _, instanceID := newTestStores(t)
	keeper := newStrikeKeeper(models.NewStrikeStore(db))

	cfg := testConfig()
	cfg.MaxStrikes = 100
	verdict := &Verdict{Rule: RuleStalled, Reason: "stalled"}

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := keeper.strike(context.Background(), instanceID, "dl1", cfg, verdict, time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := keeper.current(context.Background(), instanceID, "dl1", cfg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, workers, rec.StrikeCount, "no increment may be lost")
}

func TestStrikeKeeperClear(t *testing.T) {
	t.Parallel()

	db, _, instanceID := newTestStores(t)
	keeper := newStrikeKeeper(models.NewStrikeStore(db))

	cfg := testConfig()
	verdict := &Verdict{Rule: RuleStalled, Reason: "stalled"}

	_, _, err := keeper.strike(context.Background(), instanceID, "dl1", cfg, verdict, time.Now())
	require.NoError(t, err)

	require.NoError(t, keeper.clear(context.Background(), instanceID, "dl1"))

	rec, err := keeper.current(context.Background(), instanceID, "dl1", cfg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, rec.StrikeCount)
}

func TestStrikeStorePruneDeparted(t *testing.T) {
	t.Parallel()

	db, _, instanceID := newTestStores(t)
	store := models.NewStrikeStore(db)

	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"keep", "gone1", "gone2"} {
		rec, err := store.GetOrCreate(ctx, instanceID, id, 0, now)
		require.NoError(t, err)
		_, err = store.RecordStrike(ctx, rec, RuleStalled, "stalled", now)
		require.NoError(t, err)
	}

	pruned, err := store.PruneDeparted(ctx, instanceID, []string{"keep"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, pruned)

	records, err := store.ListByInstance(ctx, instanceID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "keep", records[0].DownloadID)
}
