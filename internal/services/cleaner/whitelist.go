// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/sanitarr/internal/arr"
	"github.com/autobrr/sanitarr/internal/models"
)

// whitelistMatcher answers whether a queue item is exempt from all rules
// for this run. Patterns are compiled once per run from the config
// snapshot; an exempt item never accrues strikes.
type whitelistMatcher struct {
	enabled  bool
	patterns []compiledPattern
}

type compiledPattern struct {
	field string
	typ   string
	value string
	regex *regexp.Regexp
}

func newWhitelistMatcher(cfg *models.CleanerConfig) *whitelistMatcher {
	m := &whitelistMatcher{enabled: cfg.WhitelistEnabled}
	if !m.enabled {
		return m
	}

	for _, p := range cfg.WhitelistPatterns {
		cp := compiledPattern{
			field: p.Field,
			typ:   p.Type,
			value: strings.ToLower(strings.TrimSpace(p.Value)),
		}
		if cp.value == "" {
			continue
		}
		if p.Type == models.WhitelistMatchRegex {
			re, err := regexp.Compile("(?i)" + p.Value)
			if err != nil {
				// Validated at the config boundary; an invalid pattern
				// slipping through is skipped rather than matched as text.
				log.Warn().Str("pattern", p.Value).Err(err).Msg("cleaner: skipping invalid whitelist regex")
				continue
			}
			cp.regex = re
		}
		m.patterns = append(m.patterns, cp)
	}

	return m
}

// Exempt reports whether the item matches any whitelist pattern.
func (m *whitelistMatcher) Exempt(item arr.QueueItem) bool {
	if !m.enabled {
		return false
	}

	for _, p := range m.patterns {
		var subject string
		switch p.field {
		case models.WhitelistFieldIndexer:
			subject = item.Indexer
		case models.WhitelistFieldClient:
			subject = item.DownloadClient
		default:
			subject = item.Title
		}

		if matchPattern(p, subject) {
			return true
		}
	}
	return false
}

func matchPattern(p compiledPattern, subject string) bool {
	if subject == "" {
		return false
	}

	switch p.typ {
	case models.WhitelistMatchExact:
		return strings.EqualFold(subject, p.value)
	case models.WhitelistMatchContains:
		return strings.Contains(strings.ToLower(subject), p.value)
	case models.WhitelistMatchRegex:
		return p.regex != nil && p.regex.MatchString(subject)
	}
	return false
}
