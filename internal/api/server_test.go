// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sanitarr/internal/arr"
	"github.com/autobrr/sanitarr/internal/database"
	"github.com/autobrr/sanitarr/internal/models"
	"github.com/autobrr/sanitarr/internal/services/cleaner"
)

type testEnv struct {
	srv           *httptest.Server
	instanceStore *models.InstanceStore
	configStore   *models.CleanerConfigStore
	runLogStore   *models.RunLogStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	instanceStore, err := models.NewInstanceStore(db, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	configStore := models.NewCleanerConfigStore(db)
	runLogStore := models.NewRunLogStore(db)
	strikeStore := models.NewStrikeStore(db)
	provider := arr.NewProvider(instanceStore, "sanitarr-test")

	service := cleaner.NewService(cleaner.DefaultConfig(), instanceStore, configStore, runLogStore, strikeStore, provider, nil)

	server := NewServer(&Dependencies{
		InstanceStore:  instanceStore,
		ConfigStore:    configStore,
		RunLogStore:    runLogStore,
		StrikeStore:    strikeStore,
		Provider:       provider,
		CleanerService: service,
		Stats:          cleaner.NewStatsAggregator(runLogStore),
	})

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		srv:           srv,
		instanceStore: instanceStore,
		configStore:   configStore,
		runLogStore:   runLogStore,
	}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestInstanceCRUD(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/api/instances", map[string]any{
		"type":    "sonarr",
		"name":    "sonarr-main",
		"baseUrl": "http://localhost:8989",
		"apiKey":  "secret",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[models.Instance](t, resp)
	assert.Positive(t, created.ID)
	assert.Empty(t, created.APIKeyEncrypted, "encrypted key never leaves the API")

	resp = env.request(t, http.MethodGet, fmt.Sprintf("/api/instances/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.request(t, http.MethodPut, fmt.Sprintf("/api/instances/%d", created.ID), map[string]any{
		"name": "sonarr-renamed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[models.Instance](t, resp)
	assert.Equal(t, "sonarr-renamed", updated.Name)

	resp = env.request(t, http.MethodGet, "/api/instances", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]models.Instance](t, resp)
	assert.Len(t, list, 1)

	resp = env.request(t, http.MethodDelete, fmt.Sprintf("/api/instances/%d", created.ID), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.request(t, http.MethodGet, fmt.Sprintf("/api/instances/%d", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInstanceCreateValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"bad type", map[string]any{"type": "lidarr", "name": "x", "baseUrl": "http://a", "apiKey": "k"}},
		{"missing name", map[string]any{"type": "sonarr", "baseUrl": "http://a", "apiKey": "k"}},
		{"missing api key", map[string]any{"type": "sonarr", "name": "x", "baseUrl": "http://a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.request(t, http.MethodPost, "/api/instances", tt.payload)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestCleanerConfigEndpoints(t *testing.T) {
	env := newTestEnv(t)

	instance, err := env.instanceStore.Create(context.Background(), models.InstanceTypeSonarr, "sonarr", "http://localhost:8989", "key", true, 30)
	require.NoError(t, err)

	// Unsaved config serves the defaults.
	resp := env.request(t, http.MethodGet, fmt.Sprintf("/api/instances/%d/cleaner", instance.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cfg := decodeBody[models.CleanerConfig](t, resp)
	assert.False(t, cfg.Enabled)
	assert.True(t, cfg.DryRunMode)

	cfg.Enabled = true
	cfg.Rules.StalledEnabled = true
	resp = env.request(t, http.MethodPut, fmt.Sprintf("/api/instances/%d/cleaner", instance.ID), cfg)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decodeBody[models.CleanerConfig](t, resp)
	assert.True(t, saved.Enabled)
	assert.True(t, saved.Rules.StalledEnabled)

	// Invalid config is rejected with the validation message.
	cfg.IntervalMins = 0
	resp = env.request(t, http.MethodPut, fmt.Sprintf("/api/instances/%d/cleaner", instance.ID), cfg)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown instances 404.
	resp = env.request(t, http.MethodGet, "/api/instances/999/cleaner", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunNowServiceNotStarted(t *testing.T) {
	env := newTestEnv(t)

	instance, err := env.instanceStore.Create(context.Background(), models.InstanceTypeSonarr, "sonarr", "http://localhost:8989", "key", true, 30)
	require.NoError(t, err)

	resp := env.request(t, http.MethodPost, fmt.Sprintf("/api/instances/%d/cleaner/run", instance.ID), nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRunHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t)

	instance, err := env.instanceStore.Create(context.Background(), models.InstanceTypeRadarr, "radarr", "http://localhost:7878", "key", true, 30)
	require.NoError(t, err)

	id, err := env.runLogStore.Append(context.Background(), &models.RunLog{
		InstanceID:   instance.ID,
		Status:       models.RunStatusCompleted,
		StartedAt:    time.Now().Add(-time.Minute),
		FinishedAt:   time.Now(),
		CleanedCount: 1,
		Items: []models.RunItem{
			{DownloadID: "abc", Rule: "failed", Reason: "download failed", Outcome: models.ItemOutcomeCleaned},
		},
	})
	require.NoError(t, err)

	resp := env.request(t, http.MethodGet, "/api/cleaner/runs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decodeBody[struct {
		Runs  []models.RunLog `json:"runs"`
		Total int             `json:"total"`
	}](t, resp)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Runs, 1)

	resp = env.request(t, http.MethodGet, fmt.Sprintf("/api/cleaner/runs/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decodeBody[models.RunLog](t, resp)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	require.Len(t, run.Items, 1)

	resp = env.request(t, http.MethodGet, "/api/cleaner/runs/9999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.request(t, http.MethodGet, "/api/cleaner/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[cleaner.Stats](t, resp)
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.RemovalsByRule["failed"])
}

func TestHealthEndpointNotStarted(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
