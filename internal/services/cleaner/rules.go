// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/autobrr/sanitarr/internal/arr"
	"github.com/autobrr/sanitarr/internal/models"
)

// Rule identifiers, in evaluation order. The first matching enabled rule
// wins; an item is attributed to at most one rule per run.
const (
	RuleErrorPattern        = "errorPattern"
	RuleImportBlock         = "importBlock"
	RuleFailed              = "failed"
	RuleStalled             = "stalled"
	RuleSlow                = "slow"
	RuleSeedingTimeout      = "seedingTimeout"
	RuleEstimatedCompletion = "estimatedCompletion"
	RuleImportPending       = "importPending"
)

// Verdict is the outcome of classifying a single queue item.
type Verdict struct {
	Rule   string
	Reason string
}

type ruleFunc func(item arr.QueueItem, cfg *models.CleanerConfig, now time.Time) *Verdict

// ruleChain holds the rules in precedence order.
var ruleChain = []ruleFunc{
	ruleErrorPattern,
	ruleImportBlock,
	ruleFailed,
	ruleStalled,
	ruleSlow,
	ruleSeedingTimeout,
	ruleEstimatedCompletion,
	ruleImportPending,
}

// classify evaluates an item against the enabled rule set and returns the
// first matching verdict, or nil when the item is clean.
func classify(item arr.QueueItem, cfg *models.CleanerConfig, now time.Time) *Verdict {
	for _, rule := range ruleChain {
		if v := rule(item, cfg, now); v != nil {
			return v
		}
	}
	return nil
}

// strikeEligible reports whether a rule family participates in the strike
// system. Progress-based rules accumulate strikes so transient dips don't
// trigger removal; terminal states are removed on first match.
func strikeEligible(rule string) bool {
	switch rule {
	case RuleStalled, RuleSlow, RuleEstimatedCompletion, RuleImportPending:
		return true
	}
	return false
}

func ruleErrorPattern(item arr.QueueItem, cfg *models.CleanerConfig, _ time.Time) *Verdict {
	if !cfg.Rules.ErrorPatternsEnabled || len(cfg.Rules.ErrorPatterns) == 0 {
		return nil
	}

	subjects := make([]string, 0, len(item.StatusMessages)+1)
	if item.ErrorMessage != "" {
		subjects = append(subjects, item.ErrorMessage)
	}
	subjects = append(subjects, item.StatusMessages...)

	for _, pattern := range cfg.Rules.ErrorPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			continue
		}
		for _, subject := range subjects {
			if re.MatchString(subject) {
				return &Verdict{
					Rule:   RuleErrorPattern,
					Reason: fmt.Sprintf("error message matches pattern %q", pattern),
				}
			}
		}
	}
	return nil
}

// Built-in import block reason patterns per cleanup level. Each level
// includes everything from the levels before it.
var importBlockPatterns = map[string][]string{
	models.ImportBlockLevelConservative: {
		"title mismatch",
		"not an upgrade",
		"already imported",
		"episode file already imported",
	},
	models.ImportBlockLevelModerate: {
		"unable to parse",
		"invalid season or episode",
		"unsupported",
		"sample",
	},
	models.ImportBlockLevelAggressive: {
		"no files found",
		"archive",
		"password",
		"unknown",
	},
}

func builtinImportBlockPatterns(level string) []string {
	patterns := importBlockPatterns[models.ImportBlockLevelConservative]
	if level == models.ImportBlockLevelModerate || level == models.ImportBlockLevelAggressive {
		patterns = append(patterns, importBlockPatterns[models.ImportBlockLevelModerate]...)
	}
	if level == models.ImportBlockLevelAggressive {
		patterns = append(patterns, importBlockPatterns[models.ImportBlockLevelAggressive]...)
	}
	return patterns
}

func ruleImportBlock(item arr.QueueItem, cfg *models.CleanerConfig, _ time.Time) *Verdict {
	if !cfg.Rules.ImportBlockEnabled {
		return nil
	}
	if item.TrackedDownloadState != arr.TrackedStateImportBlocked {
		return nil
	}

	var patterns []string
	if cfg.Rules.ImportBlockPatternMode == models.ImportBlockPatternsCustom {
		patterns = cfg.Rules.ImportBlockPatterns
	} else {
		patterns = builtinImportBlockPatterns(cfg.Rules.ImportBlockCleanupLevel)
	}

	for _, pattern := range patterns {
		lowered := strings.ToLower(pattern)
		for _, msg := range item.StatusMessages {
			if strings.Contains(strings.ToLower(msg), lowered) {
				return &Verdict{
					Rule:   RuleImportBlock,
					Reason: fmt.Sprintf("import blocked: %s", msg),
				}
			}
		}
	}
	return nil
}

func ruleFailed(item arr.QueueItem, cfg *models.CleanerConfig, _ time.Time) *Verdict {
	if !cfg.Rules.FailedEnabled {
		return nil
	}
	if strings.EqualFold(item.Status, "failed") || item.TrackedDownloadState == arr.TrackedStateFailedPending {
		reason := "download reported a failure state"
		if item.ErrorMessage != "" {
			reason = fmt.Sprintf("download failed: %s", item.ErrorMessage)
		}
		return &Verdict{Rule: RuleFailed, Reason: reason}
	}
	return nil
}

func ruleStalled(item arr.QueueItem, cfg *models.CleanerConfig, now time.Time) *Verdict {
	if !cfg.Rules.StalledEnabled || !item.Stalled {
		return nil
	}

	threshold := time.Duration(cfg.Rules.StalledThresholdMins) * time.Minute
	if age := item.Age(now); age >= threshold {
		return &Verdict{
			Rule:   RuleStalled,
			Reason: fmt.Sprintf("stalled with no progress for %d minutes (threshold %d)", int(age.Minutes()), cfg.Rules.StalledThresholdMins),
		}
	}
	return nil
}

func ruleSlow(item arr.QueueItem, cfg *models.CleanerConfig, now time.Time) *Verdict {
	if !cfg.Rules.SlowEnabled || !item.IsDownloading() || item.SizeLeft <= 0 {
		return nil
	}

	thresholdBytes := int64(cfg.Rules.SlowSpeedThresholdKiB) * 1024
	if thresholdBytes <= 0 {
		return nil
	}
	grace := time.Duration(cfg.Rules.SlowGracePeriodMins) * time.Minute
	if item.Age(now) < grace {
		return nil
	}
	if item.DownloadRate >= thresholdBytes {
		return nil
	}

	return &Verdict{
		Rule:   RuleSlow,
		Reason: fmt.Sprintf("transfer speed %d KiB/s below threshold %d KiB/s", item.DownloadRate/1024, cfg.Rules.SlowSpeedThresholdKiB),
	}
}

func ruleSeedingTimeout(item arr.QueueItem, cfg *models.CleanerConfig, _ time.Time) *Verdict {
	if !cfg.Rules.SeedingTimeoutEnabled {
		return nil
	}
	// Only seed-capable transports qualify.
	if item.Protocol != arr.ProtocolTorrent || item.SeedingTime <= 0 {
		return nil
	}

	timeout := time.Duration(cfg.Rules.SeedingTimeoutHours) * time.Hour
	if item.SeedingTime > timeout {
		return &Verdict{
			Rule:   RuleSeedingTimeout,
			Reason: fmt.Sprintf("seeding for %.1f hours exceeds timeout of %d hours", item.SeedingTime.Hours(), cfg.Rules.SeedingTimeoutHours),
		}
	}
	return nil
}

func ruleEstimatedCompletion(item arr.QueueItem, cfg *models.CleanerConfig, now time.Time) *Verdict {
	if !cfg.Rules.EstimatedCompletionEnabled || cfg.Rules.EstimatedCompletionMultiplier <= 0 {
		return nil
	}
	if item.EstimatedCompletion == nil || item.Size <= 0 || !item.IsDownloading() {
		return nil
	}

	// Expected duration is size-based, using the slow-speed threshold as
	// the reference rate for an acceptable transfer.
	referenceRate := int64(cfg.Rules.SlowSpeedThresholdKiB) * 1024
	if referenceRate <= 0 {
		return nil
	}
	expected := time.Duration(item.Size/referenceRate) * time.Second
	projected := item.EstimatedCompletion.Sub(now)

	limit := time.Duration(float64(expected) * cfg.Rules.EstimatedCompletionMultiplier)
	if projected > limit {
		return &Verdict{
			Rule:   RuleEstimatedCompletion,
			Reason: fmt.Sprintf("projected completion in %.1f hours exceeds %.1fx the expected duration", projected.Hours(), cfg.Rules.EstimatedCompletionMultiplier),
		}
	}
	return nil
}

func ruleImportPending(item arr.QueueItem, cfg *models.CleanerConfig, now time.Time) *Verdict {
	if !cfg.Rules.ImportPendingEnabled {
		return nil
	}
	if item.TrackedDownloadState != arr.TrackedStateImportPending {
		return nil
	}

	threshold := time.Duration(cfg.Rules.ImportPendingThresholdMins) * time.Minute
	if age := item.Age(now); age >= threshold {
		return &Verdict{
			Rule:   RuleImportPending,
			Reason: fmt.Sprintf("waiting to import for longer than %d minutes", cfg.Rules.ImportPendingThresholdMins),
		}
	}
	return nil
}
