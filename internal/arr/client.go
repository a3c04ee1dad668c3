// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package arr provides the HTTP boundary to Sonarr/Radarr style instances:
// queue snapshots, queue item removal with blocklisting, and re-search
// commands, plus optional download client enrichment.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	retry "github.com/avast/retry-go"

	"github.com/autobrr/sanitarr/internal/models"
)

var (
	// ErrUnauthorized indicates a rejected API key.
	ErrUnauthorized = errors.New("arr: unauthorized")
	// ErrUnreachable indicates the instance could not be reached.
	ErrUnreachable = errors.New("arr: instance unreachable")
)

// Config holds the options for constructing a Client.
type Config struct {
	Host       string
	APIKey     string
	Type       models.InstanceType
	Timeout    int
	HTTPClient *http.Client
	UserAgent  string
}

// Client is a minimal Sonarr/Radarr v3 API wrapper covering the queue
// management surface the cleaner needs.
type Client struct {
	host         string
	apiKey       string
	instanceType models.InstanceType
	httpClient   *http.Client
	userAgent    string
}

// NewClient constructs a new Client using the provided configuration.
func NewClient(cfg Config) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "sanitarr"
	}

	return &Client{
		host:         strings.TrimRight(cfg.Host, "/"),
		apiKey:       cfg.APIKey,
		instanceType: cfg.Type,
		httpClient:   client,
		userAgent:    ua,
	}
}

func (c *Client) do(ctx context.Context, method, apiPath string, query url.Values, body any) ([]byte, error) {
	endpoint, err := url.JoinPath(c.host, "api", "v3", apiPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build endpoint for %s: %w", apiPath, err)
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var respBody []byte

	attempt := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		if query != nil {
			req.URL.RawQuery = query.Encode()
		}
		req.Header.Set("X-Api-Key", c.apiKey)
		req.Header.Set("User-Agent", c.userAgent)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			return fmt.Errorf("%w: %s", ErrUnreachable, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return retry.Unrecoverable(ErrUnauthorized)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
		case resp.StatusCode >= 400:
			return retry.Unrecoverable(fmt.Errorf("arr: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
		}

		respBody = data
		return nil
	}

	err = retry.Do(attempt,
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// Ping verifies connectivity and API key validity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "system/status", nil, nil)
	return err
}

type queueResponse struct {
	TotalRecords int           `json:"totalRecords"`
	Records      []queueRecord `json:"records"`
}

type queueStatusMessage struct {
	Title    string   `json:"title"`
	Messages []string `json:"messages"`
}

type queueRecord struct {
	ID                      int64                `json:"id"`
	SeriesID                int64                `json:"seriesId"`
	MovieID                 int64                `json:"movieId"`
	Title                   string               `json:"title"`
	Status                  string               `json:"status"`
	TrackedDownloadStatus   string               `json:"trackedDownloadStatus"`
	TrackedDownloadState    string               `json:"trackedDownloadState"`
	StatusMessages          []queueStatusMessage `json:"statusMessages"`
	ErrorMessage            string               `json:"errorMessage"`
	DownloadID              string               `json:"downloadId"`
	Protocol                string               `json:"protocol"`
	DownloadClient          string               `json:"downloadClient"`
	Indexer                 string               `json:"indexer"`
	Size                    float64              `json:"size"`
	SizeLeft                float64              `json:"sizeleft"`
	TimeLeft                string               `json:"timeleft"`
	Added                   time.Time            `json:"added"`
	EstimatedCompletionTime *time.Time           `json:"estimatedCompletionTime"`
}

// queuePageSize is the page size requested from the queue endpoint.
const queuePageSize = 1000

// ListQueue returns the full current queue as engine-facing snapshots,
// following pagination until every record is fetched.
func (c *Client) ListQueue(ctx context.Context) ([]QueueItem, error) {
	var items []QueueItem
	fetched := 0

	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("pageSize", strconv.Itoa(queuePageSize))
		if c.instanceType == models.InstanceTypeSonarr {
			query.Set("includeUnknownSeriesItems", "true")
		}

		data, err := c.do(ctx, http.MethodGet, "queue", query, nil)
		if err != nil {
			return nil, err
		}

		var resp queueResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode queue response: %w", err)
		}

		fetched += len(resp.Records)

		for _, rec := range resp.Records {
			if rec.DownloadID == "" {
				continue
			}

			var messages []string
			for _, sm := range rec.StatusMessages {
				if sm.Title != "" {
					messages = append(messages, sm.Title)
				}
				messages = append(messages, sm.Messages...)
			}

			item := QueueItem{
				QueueID:               rec.ID,
				DownloadID:            rec.DownloadID,
				Title:                 rec.Title,
				Protocol:              strings.ToLower(rec.Protocol),
				Indexer:               rec.Indexer,
				DownloadClient:        rec.DownloadClient,
				Status:                rec.Status,
				TrackedDownloadStatus: rec.TrackedDownloadStatus,
				TrackedDownloadState:  rec.TrackedDownloadState,
				ErrorMessage:          rec.ErrorMessage,
				StatusMessages:        messages,
				Size:                  int64(rec.Size),
				SizeLeft:              int64(rec.SizeLeft),
				DownloadRate:          deriveRate(int64(rec.SizeLeft), rec.TimeLeft),
				Added:                 rec.Added,
				EstimatedCompletion:   rec.EstimatedCompletionTime,
				SeriesID:              rec.SeriesID,
				MovieID:               rec.MovieID,
			}

			// Without download client detail the stall signal comes from the
			// arr's own error message.
			item.Stalled = strings.Contains(strings.ToLower(rec.ErrorMessage), "stalled")

			items = append(items, item)
		}

		if len(resp.Records) == 0 || fetched >= resp.TotalRecords {
			break
		}
	}

	return items, nil
}

// RemoveQueueItem deletes a queue record, optionally removing the download
// from its client and blocklisting the release.
func (c *Client) RemoveQueueItem(ctx context.Context, queueID int64, removeFromClient, blocklist bool) error {
	query := url.Values{}
	query.Set("removeFromClient", strconv.FormatBool(removeFromClient))
	query.Set("blocklist", strconv.FormatBool(blocklist))
	query.Set("skipRedownload", "true")

	_, err := c.do(ctx, http.MethodDelete, "queue/"+strconv.FormatInt(queueID, 10), query, nil)
	return err
}

// TriggerSearch asks the instance to search for the media behind a removed
// queue item.
func (c *Client) TriggerSearch(ctx context.Context, item QueueItem) error {
	var body map[string]any
	switch c.instanceType {
	case models.InstanceTypeSonarr:
		if item.SeriesID <= 0 {
			return errors.New("arr: queue item has no series reference")
		}
		body = map[string]any{"name": "SeriesSearch", "seriesId": item.SeriesID}
	case models.InstanceTypeRadarr:
		if item.MovieID <= 0 {
			return errors.New("arr: queue item has no movie reference")
		}
		body = map[string]any{"name": "MoviesSearch", "movieIds": []int64{item.MovieID}}
	default:
		return fmt.Errorf("arr: search not supported for instance type %s", c.instanceType)
	}

	_, err := c.do(ctx, http.MethodPost, "command", nil, body)
	return err
}
