// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"sort"
	"time"

	"github.com/autobrr/sanitarr/internal/arr"
	"github.com/autobrr/sanitarr/internal/models"
)

// removalCandidate is an item whose final disposition this run is remove,
// together with the strike state that got it there.
type removalCandidate struct {
	item          arr.QueueItem
	verdict       Verdict
	strikeCount   int
	firstStrikeAt time.Time
}

// offendingSince is the sort anchor for the removal cap: the first strike
// when one exists, otherwise the queue entry time (oldest item first).
func (c removalCandidate) offendingSince() time.Time {
	if !c.firstStrikeAt.IsZero() {
		return c.firstStrikeAt
	}
	return c.item.Added
}

// applySafetyLimits enforces the per-run safety bounds: items younger
// than the minimum queue age are dropped, and when more items qualify
// than maxRemovalsPerRun allows, the longest offenders are kept —
// highest strike count first, ties broken by earliest offense. Items cut
// either way are returned so the run log can record them as skipped.
func applySafetyLimits(candidates []removalCandidate, cfg *models.CleanerConfig, now time.Time) (approved, underage, capped []removalCandidate) {
	minAge := time.Duration(cfg.MinQueueAgeMins) * time.Minute

	eligible := make([]removalCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.item.Age(now) < minAge {
			underage = append(underage, c)
			continue
		}
		eligible = append(eligible, c)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].strikeCount != eligible[j].strikeCount {
			return eligible[i].strikeCount > eligible[j].strikeCount
		}
		return eligible[i].offendingSince().Before(eligible[j].offendingSince())
	})

	if cfg.MaxRemovalsPerRun > 0 && len(eligible) > cfg.MaxRemovalsPerRun {
		capped = eligible[cfg.MaxRemovalsPerRun:]
		eligible = eligible[:cfg.MaxRemovalsPerRun]
	}

	return eligible, underage, capped
}
