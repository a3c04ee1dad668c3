// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sanitarr/internal/models"
	"github.com/autobrr/sanitarr/internal/services/cleaner"
)

// CleanerHandler exposes per-instance cleaner configuration, manual run
// triggers, run history, strikes, and aggregate statistics.
type CleanerHandler struct {
	configStore   *models.CleanerConfigStore
	runLogStore   *models.RunLogStore
	strikeStore   *models.StrikeStore
	instanceStore *models.InstanceStore
	service       *cleaner.Service
	stats         *cleaner.StatsAggregator
}

func NewCleanerHandler(configStore *models.CleanerConfigStore, runLogStore *models.RunLogStore, strikeStore *models.StrikeStore, instanceStore *models.InstanceStore, service *cleaner.Service, stats *cleaner.StatsAggregator) *CleanerHandler {
	return &CleanerHandler{
		configStore:   configStore,
		runLogStore:   runLogStore,
		strikeStore:   strikeStore,
		instanceStore: instanceStore,
		service:       service,
		stats:         stats,
	}
}

func (h *CleanerHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	if !h.instanceExists(w, r, instanceID) {
		return
	}

	cfg, err := h.configStore.Get(r.Context(), instanceID)
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to load cleaner config")
		RespondError(w, http.StatusInternalServerError, "Failed to load cleaner configuration")
		return
	}
	RespondJSON(w, http.StatusOK, cfg)
}

func (h *CleanerHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	if !h.instanceExists(w, r, instanceID) {
		return
	}

	var cfg models.CleanerConfig
	if !DecodeJSON(w, r, &cfg) {
		return
	}
	cfg.InstanceID = instanceID

	updated, err := h.configStore.Update(r.Context(), &cfg)
	if err != nil {
		if validationErr := cfg.Validate(); validationErr != nil {
			RespondError(w, http.StatusBadRequest, validationErr.Error())
			return
		}
		log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to save cleaner config")
		RespondError(w, http.StatusInternalServerError, "Failed to save cleaner configuration")
		return
	}
	RespondJSON(w, http.StatusOK, updated)
}

// RunNow triggers a cleaning run outside the schedule. A run already in
// flight yields 409; the trigger is never queued.
func (h *CleanerHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	if !h.instanceExists(w, r, instanceID) {
		return
	}

	run, err := h.service.RunNow(instanceID)
	if errors.Is(err, cleaner.ErrRunInProgress) {
		RespondError(w, http.StatusConflict, "A cleaning run is already in progress for this instance")
		return
	}
	if errors.Is(err, cleaner.ErrNotStarted) {
		RespondError(w, http.StatusServiceUnavailable, "Cleaner service is not running")
		return
	}
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("manual cleaning run failed")
		RespondError(w, http.StatusInternalServerError, "Cleaning run failed")
		return
	}
	RespondJSON(w, http.StatusOK, run)
}

func (h *CleanerHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filters := models.RunLogFilters{
		InstanceID: queryInt(r, "instanceId", 0),
		Status:     r.URL.Query().Get("status"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	if sinceHours := queryInt(r, "sinceHours", 0); sinceHours > 0 {
		filters.Since = time.Now().Add(-time.Duration(sinceHours) * time.Hour)
	}

	runs, err := h.runLogStore.Query(r.Context(), filters)
	if err != nil {
		log.Error().Err(err).Msg("failed to query run logs")
		RespondError(w, http.StatusInternalServerError, "Failed to load run history")
		return
	}

	total, err := h.runLogStore.Count(r.Context(), filters.InstanceID)
	if err != nil {
		log.Error().Err(err).Msg("failed to count run logs")
		RespondError(w, http.StatusInternalServerError, "Failed to load run history")
		return
	}

	if runs == nil {
		runs = []*models.RunLog{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": total,
	})
}

func (h *CleanerHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "runID"), 10, 64)
	if err != nil || id <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := h.runLogStore.Get(r.Context(), id)
	if errors.Is(err, models.ErrRunLogNotFound) {
		RespondError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("runID", id).Msg("failed to load run log")
		RespondError(w, http.StatusInternalServerError, "Failed to load run")
		return
	}
	RespondJSON(w, http.StatusOK, run)
}

func (h *CleanerHandler) ListStrikes(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	strikes, err := h.strikeStore.ListByInstance(r.Context(), instanceID)
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to list strikes")
		RespondError(w, http.StatusInternalServerError, "Failed to load strikes")
		return
	}
	if strikes == nil {
		strikes = []*models.StrikeRecord{}
	}
	RespondJSON(w, http.StatusOK, strikes)
}

func (h *CleanerHandler) Stats(w http.ResponseWriter, r *http.Request) {
	window := time.Duration(queryInt(r, "windowHours", 0)) * time.Hour
	instanceID := queryInt(r, "instanceId", 0)

	stats, err := h.stats.Aggregate(r.Context(), instanceID, window)
	if err != nil {
		log.Error().Err(err).Msg("failed to aggregate cleaner stats")
		RespondError(w, http.StatusInternalServerError, "Failed to compute statistics")
		return
	}
	RespondJSON(w, http.StatusOK, stats)
}

func (h *CleanerHandler) instanceExists(w http.ResponseWriter, r *http.Request, instanceID int) bool {
	_, err := h.instanceStore.Get(r.Context(), instanceID)
	if errors.Is(err, models.ErrInstanceNotFound) {
		RespondError(w, http.StatusNotFound, "Instance not found")
		return false
	}
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to load instance")
		RespondError(w, http.StatusInternalServerError, "Failed to load instance")
		return false
	}
	return true
}
