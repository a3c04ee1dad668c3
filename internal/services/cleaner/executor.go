// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/sanitarr/internal/models"
)

// executor performs the approved removals for one run. Calls against a
// single instance are sequenced with a pacing delay so the cleaner never
// saturates the instance's API; instances run independently.
type executor struct {
	provider QueueProvider
	delay    time.Duration
}

type executionResult struct {
	items     []models.RunItem
	succeeded int
	failed    int

	// removedIDs holds download ids whose removal actually went through,
	// so their strike records can be cleared.
	removedIDs []string

	removedByRule map[string]int
}

// execute runs the configured removal actions for each approved candidate.
// A per-item failure records the item as warned and moves on; the strike
// record stays so the item is retried next run.
func (e *executor) execute(ctx context.Context, instance *models.Instance, cfg *models.CleanerConfig, approved []removalCandidate) executionResult {
	result := executionResult{removedByRule: make(map[string]int)}

	for i, cand := range approved {
		if ctx.Err() != nil {
			// Shutdown mid-run: whatever wasn't attempted is recorded as
			// skipped so the log accounts for every approved item.
			result.items = append(result.items, models.RunItem{
				DownloadID:  cand.item.DownloadID,
				Title:       cand.item.Title,
				Rule:        cand.verdict.Rule,
				Reason:      "run aborted before action",
				Outcome:     models.ItemOutcomeSkipped,
				StrikeCount: cand.strikeCount,
			})
			continue
		}

		if i > 0 && e.delay > 0 {
			select {
			case <-ctx.Done():
				continue
			case <-time.After(e.delay):
			}
		}

		item := e.executeOne(ctx, instance, cfg, cand)
		result.items = append(result.items, item)

		switch item.Outcome {
		case models.ItemOutcomeCleaned:
			result.succeeded++
			result.removedByRule[cand.verdict.Rule]++
			if !cfg.DryRunMode {
				result.removedIDs = append(result.removedIDs, cand.item.DownloadID)
			}
		case models.ItemOutcomeWarned:
			result.failed++
		}
	}

	return result
}

func (e *executor) executeOne(ctx context.Context, instance *models.Instance, cfg *models.CleanerConfig, cand removalCandidate) models.RunItem {
	item := models.RunItem{
		DownloadID:  cand.item.DownloadID,
		Title:       cand.item.Title,
		Rule:        cand.verdict.Rule,
		Reason:      cand.verdict.Reason,
		StrikeCount: cand.strikeCount,
	}

	if cfg.DryRunMode {
		item.Outcome = models.ItemOutcomeCleaned
		item.Reason = "would remove: " + cand.verdict.Reason
		log.Info().
			Int("instanceID", instance.ID).
			Str("downloadID", cand.item.DownloadID).
			Str("rule", cand.verdict.Rule).
			Msg("cleaner: dry run, would remove queue item")
		return item
	}

	// Removal takes precedence over recategorization when both actions
	// are enabled; the category move only happens for keep-files removals.
	recategorize := cfg.ChangeCategoryEnabled && !cfg.RemoveFromClient

	if recategorize {
		if err := e.provider.ChangeCategory(ctx, instance, cand.item, cfg.TargetCategory); err != nil {
			item.Outcome = models.ItemOutcomeWarned
			item.Reason = fmt.Sprintf("category change failed: %s", err)
			return item
		}
	}

	if err := e.provider.RemoveItem(ctx, instance, cand.item, cfg.RemoveFromClient, cfg.AddToBlocklist); err != nil {
		item.Outcome = models.ItemOutcomeWarned
		item.Reason = fmt.Sprintf("removal failed: %s", err)
		return item
	}

	item.Outcome = models.ItemOutcomeCleaned

	if cfg.SearchAfterRemoval {
		if err := e.provider.TriggerSearch(ctx, instance, cand.item); err != nil {
			// The removal already happened; a failed follow-up search is
			// noted on the item but doesn't demote the outcome.
			item.Reason = fmt.Sprintf("%s (search after removal failed: %s)", item.Reason, err)
			log.Warn().
				Err(err).
				Int("instanceID", instance.ID).
				Str("downloadID", cand.item.DownloadID).
				Msg("cleaner: search after removal failed")
		}
	}

	log.Info().
		Int("instanceID", instance.ID).
		Str("downloadID", cand.item.DownloadID).
		Str("rule", cand.verdict.Rule).
		Bool("blocklisted", cfg.AddToBlocklist).
		Msg("cleaner: removed queue item")

	return item
}
