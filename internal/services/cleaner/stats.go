// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"context"
	"sort"
	"time"

	"github.com/autobrr/sanitarr/internal/models"
)

// Stats summarizes cleaning activity across a window of recent runs.
type Stats struct {
	Window        string     `json:"window"`
	TotalRuns     int        `json:"totalRuns"`
	CompletedRuns int        `json:"completedRuns"`
	PartialRuns   int        `json:"partialRuns"`
	SkippedRuns   int        `json:"skippedRuns"`
	ErrorRuns     int        `json:"errorRuns"`
	DryRunRuns    int        `json:"dryRunRuns"`
	TotalCleaned  int        `json:"totalCleaned"`
	TotalSkipped  int        `json:"totalSkipped"`
	TotalWarned   int        `json:"totalWarned"`
	SuccessRate   float64    `json:"successRate"`
	AvgDurationMS int64      `json:"avgDurationMs"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`

	RemovalsByRule map[string]int  `json:"removalsByRule"`
	Instances      []InstanceStats `json:"instances"`

	// DataQualityWarning is set when any run in the window carried item
	// detail that could not be decoded; per-rule numbers may undercount.
	DataQualityWarning bool `json:"dataQualityWarning,omitempty"`
}

// InstanceStats is the per-instance slice of the aggregate.
type InstanceStats struct {
	InstanceID    int        `json:"instanceId"`
	Runs          int        `json:"runs"`
	Cleaned       int        `json:"cleaned"`
	Warned        int        `json:"warned"`
	ErrorRuns     int        `json:"errorRuns"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastRunStatus string     `json:"lastRunStatus,omitempty"`
}

// statsQueryLimit bounds how many runs one aggregation reads.
const statsQueryLimit = 1000

// StatsAggregator derives summary statistics from persisted run logs.
// Everything is computed on demand; the run log is the single source of
// truth.
type StatsAggregator struct {
	runLogStore *models.RunLogStore
}

func NewStatsAggregator(runLogStore *models.RunLogStore) *StatsAggregator {
	return &StatsAggregator{runLogStore: runLogStore}
}

// Aggregate computes statistics over runs started within the window,
// optionally narrowed to one instance. A zero window means all retained
// runs.
func (a *StatsAggregator) Aggregate(ctx context.Context, instanceID int, window time.Duration) (*Stats, error) {
	filters := models.RunLogFilters{
		InstanceID: instanceID,
		Limit:      statsQueryLimit,
	}
	if window > 0 {
		filters.Since = time.Now().Add(-window)
	}

	runs, err := a.runLogStore.Query(ctx, filters)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		RemovalsByRule: make(map[string]int),
	}
	if window > 0 {
		stats.Window = window.String()
	}

	perInstance := make(map[int]*InstanceStats)

	for _, run := range runs {
		stats.TotalRuns++
		switch run.Status {
		case models.RunStatusCompleted:
			stats.CompletedRuns++
		case models.RunStatusPartial:
			stats.PartialRuns++
		case models.RunStatusSkipped:
			stats.SkippedRuns++
		case models.RunStatusError:
			stats.ErrorRuns++
		}
		if run.IsDryRun {
			stats.DryRunRuns++
		}

		stats.TotalCleaned += run.CleanedCount
		stats.TotalSkipped += run.SkippedCount
		stats.TotalWarned += run.WarnedCount
		stats.AvgDurationMS += run.DurationMS

		if run.HasDataError {
			stats.DataQualityWarning = true
		}

		for _, item := range run.Items {
			if item.Outcome == models.ItemOutcomeCleaned && item.Rule != "" {
				stats.RemovalsByRule[item.Rule]++
			}
		}

		inst, ok := perInstance[run.InstanceID]
		if !ok {
			inst = &InstanceStats{InstanceID: run.InstanceID}
			perInstance[run.InstanceID] = inst
		}
		inst.Runs++
		inst.Cleaned += run.CleanedCount
		inst.Warned += run.WarnedCount
		if run.Status == models.RunStatusError {
			inst.ErrorRuns++
		}
		// Query returns newest first, so the first run seen per instance
		// is its latest.
		if inst.LastRunAt == nil {
			t := run.StartedAt
			inst.LastRunAt = &t
			inst.LastRunStatus = run.Status
		}
		if stats.LastRunAt == nil {
			t := run.StartedAt
			stats.LastRunAt = &t
		}
	}

	if stats.TotalRuns > 0 {
		stats.AvgDurationMS /= int64(stats.TotalRuns)
	}
	attempted := stats.TotalRuns - stats.SkippedRuns
	if attempted > 0 {
		stats.SuccessRate = float64(stats.CompletedRuns) / float64(attempted)
	}

	for _, inst := range perInstance {
		stats.Instances = append(stats.Instances, *inst)
	}
	sort.Slice(stats.Instances, func(i, j int) bool {
		return stats.Instances[i].InstanceID < stats.Instances[j].InstanceID
	})

	return stats, nil
}
