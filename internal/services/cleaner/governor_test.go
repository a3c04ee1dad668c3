// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sanitarr/internal/arr"
)

func candidate(downloadID string, strikes int, added, firstStrike time.Time) removalCandidate {
	return removalCandidate{
		item: arr.QueueItem{
			DownloadID: downloadID,
			Title:      downloadID,
			Added:      added,
		},
		verdict:       Verdict{Rule: RuleStalled, Reason: "stalled"},
		strikeCount:   strikes,
		firstStrikeAt: firstStrike,
	}
}

func TestSafetyLimitsMinQueueAge(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cfg := testConfig()
	cfg.MinQueueAgeMins = 30
	cfg.MaxRemovalsPerRun = 10

	candidates := []removalCandidate{
		candidate("old", 3, now.Add(-2*time.Hour), time.Time{}),
		candidate("young", 3, now.Add(-5*time.Minute), time.Time{}),
	}

	approved, underage, capped := applySafetyLimits(candidates, cfg, now)

	require.Len(t, approved, 1)
	assert.Equal(t, "old", approved[0].item.DownloadID)
	require.Len(t, underage, 1)
	assert.Equal(t, "young", underage[0].item.DownloadID)
	assert.Empty(t, capped)
}

func TestSafetyLimitsRemovalCapOrdering(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cfg := testConfig()
	cfg.MinQueueAgeMins = 0
	cfg.MaxRemovalsPerRun = 2

	added := now.Add(-24 * time.Hour)
	candidates := []removalCandidate{
		candidate("one-strike", 1, added, now.Add(-1*time.Hour)),
		candidate("three-strikes-recent", 3, added, now.Add(-2*time.Hour)),
		candidate("three-strikes-old", 3, added, now.Add(-6*time.Hour)),
		candidate("two-strikes", 2, added, now.Add(-5*time.Hour)),
	}

	approved, underage, capped := applySafetyLimits(candidates, cfg, now)

	// Highest strike count first, ties broken by earliest first strike.
	require.Len(t, approved, 2)
	assert.Equal(t, "three-strikes-old", approved[0].item.DownloadID)
	assert.Equal(t, "three-strikes-recent", approved[1].item.DownloadID)

	require.Len(t, capped, 2)
	assert.Empty(t, underage)
}

func TestSafetyLimitsNoStrikesFallsBackToQueueAge(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cfg := testConfig()
	cfg.MinQueueAgeMins = 0
	cfg.MaxRemovalsPerRun = 1

	candidates := []removalCandidate{
		candidate("newer", 0, now.Add(-1*time.Hour), time.Time{}),
		candidate("older", 0, now.Add(-10*time.Hour), time.Time{}),
	}

	approved, _, capped := applySafetyLimits(candidates, cfg, now)

	require.Len(t, approved, 1)
	assert.Equal(t, "older", approved[0].item.DownloadID)
	require.Len(t, capped, 1)
	assert.Equal(t, "newer", capped[0].item.DownloadID)
}

func TestSafetyLimitsZeroCapMeansUnlimited(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cfg := testConfig()
	cfg.MinQueueAgeMins = 0
	cfg.MaxRemovalsPerRun = 0

	var candidates []removalCandidate
	for i := 0; i < 25; i++ {
		candidates = append(candidates, candidate(string(rune('a'+i)), 1, now.Add(-time.Hour), time.Time{}))
	}

	approved, underage, capped := applySafetyLimits(candidates, cfg, now)
	assert.Len(t, approved, 25)
	assert.Empty(t, underage)
	assert.Empty(t, capped)
}
