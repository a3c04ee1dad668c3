// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package arr

import (
	"strconv"
	"strings"
	"time"
)

// Transfer protocols reported by the queue API.
const (
	ProtocolTorrent = "torrent"
	ProtocolUsenet  = "usenet"
)

// Tracked download states the cleaner cares about.
const (
	TrackedStateImportPending = "importPending"
	TrackedStateImportBlocked = "importBlocked"
	TrackedStateImporting     = "importing"
	TrackedStateFailedPending = "failedPending"
)

// QueueItem is a read-only snapshot of one queued download, re-fetched
// every run. It merges the arr queue record with download client detail
// when a download client is configured for the instance.
type QueueItem struct {
	QueueID        int64  `json:"queueId"`
	DownloadID     string `json:"downloadId"`
	Title          string `json:"title"`
	Protocol       string `json:"protocol"`
	Indexer        string `json:"indexer"`
	DownloadClient string `json:"downloadClient"`

	Status                string   `json:"status"`
	TrackedDownloadStatus string   `json:"trackedDownloadStatus"`
	TrackedDownloadState  string   `json:"trackedDownloadState"`
	ErrorMessage          string   `json:"errorMessage,omitempty"`
	StatusMessages        []string `json:"statusMessages,omitempty"`

	Size     int64 `json:"size"`
	SizeLeft int64 `json:"sizeLeft"`

	// DownloadRate is bytes per second. Taken from the download client
	// when available, otherwise derived from sizeleft and timeleft.
	DownloadRate int64 `json:"downloadRate"`

	// Stalled is reported by the download client for torrents; for
	// unenriched items it is inferred from the arr error message.
	Stalled bool `json:"stalled"`

	// SeedingTime is only populated for torrent items enriched from the
	// download client.
	SeedingTime time.Duration `json:"seedingTime"`

	Added               time.Time  `json:"added"`
	EstimatedCompletion *time.Time `json:"estimatedCompletion,omitempty"`

	// Media references for re-search commands.
	SeriesID int64 `json:"seriesId,omitempty"`
	MovieID  int64 `json:"movieId,omitempty"`
}

// Age returns how long the item has been sitting in the queue.
func (q *QueueItem) Age(now time.Time) time.Duration {
	if q.Added.IsZero() {
		return 0
	}
	return now.Sub(q.Added)
}

// IsDownloading reports whether the item is actively transferring.
func (q *QueueItem) IsDownloading() bool {
	return strings.EqualFold(q.Status, "downloading")
}

// parseTimeLeft parses the queue API's timeleft format, either
// "hh:mm:ss" or "d.hh:mm:ss". Returns zero on malformed input.
func parseTimeLeft(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	var days int64
	if idx := strings.IndexByte(value, '.'); idx > 0 {
		d, err := strconv.ParseInt(value[:idx], 10, 64)
		if err != nil {
			return 0
		}
		days = d
		value = value[idx+1:]
	}

	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0
	}

	h, err1 := strconv.ParseInt(parts[0], 10, 64)
	m, err2 := strconv.ParseInt(parts[1], 10, 64)
	s, err3 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}

	return time.Duration(days)*24*time.Hour +
		time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second
}

// deriveRate estimates bytes per second from the remaining size and the
// queue API's timeleft field.
func deriveRate(sizeLeft int64, timeLeft string) int64 {
	remaining := parseTimeLeft(timeLeft)
	if remaining <= 0 || sizeLeft <= 0 {
		return 0
	}
	secs := int64(remaining / time.Second)
	if secs <= 0 {
		return sizeLeft
	}
	return sizeLeft / secs
}
