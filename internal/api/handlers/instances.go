// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/sanitarr/internal/arr"
	"github.com/autobrr/sanitarr/internal/models"
)

// InstancesHandler manages the configured Sonarr/Radarr/Prowlarr
// instances.
type InstancesHandler struct {
	store    *models.InstanceStore
	provider *arr.Provider
}

func NewInstancesHandler(store *models.InstanceStore, provider *arr.Provider) *InstancesHandler {
	return &InstancesHandler{
		store:    store,
		provider: provider,
	}
}

type InstancePayload struct {
	Type                   string  `json:"type"`
	Name                   string  `json:"name"`
	BaseURL                string  `json:"baseUrl"`
	APIKey                 *string `json:"apiKey"`
	DownloadClientHost     *string `json:"downloadClientHost"`
	DownloadClientUsername *string `json:"downloadClientUsername"`
	DownloadClientPassword *string `json:"downloadClientPassword"`
	Enabled                *bool   `json:"enabled"`
	TimeoutSeconds         *int    `json:"timeoutSeconds"`
}

func (h *InstancesHandler) List(w http.ResponseWriter, r *http.Request) {
	instances, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list instances")
		RespondError(w, http.StatusInternalServerError, "Failed to load instances")
		return
	}
	RespondJSON(w, http.StatusOK, instances)
}

func (h *InstancesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload InstancePayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	instanceType, err := models.ParseInstanceType(payload.Type)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid instance type")
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		RespondError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if strings.TrimSpace(payload.BaseURL) == "" {
		RespondError(w, http.StatusBadRequest, "Base URL is required")
		return
	}
	if payload.APIKey == nil || strings.TrimSpace(*payload.APIKey) == "" {
		RespondError(w, http.StatusBadRequest, "API key is required")
		return
	}

	enabled := true
	if payload.Enabled != nil {
		enabled = *payload.Enabled
	}
	timeout := 30
	if payload.TimeoutSeconds != nil {
		timeout = *payload.TimeoutSeconds
	}

	instance, err := h.store.Create(r.Context(), instanceType, payload.Name, payload.BaseURL, *payload.APIKey, enabled, timeout)
	if err != nil {
		log.Error().Err(err).Str("name", payload.Name).Msg("failed to create instance")
		RespondError(w, http.StatusInternalServerError, "Failed to create instance")
		return
	}

	// Download client credentials are optional and stored separately.
	if payload.DownloadClientHost != nil {
		instance, err = h.store.Update(r.Context(), instance.ID, &models.InstanceUpdateParams{
			DownloadClientHost:     payload.DownloadClientHost,
			DownloadClientUsername: payload.DownloadClientUsername,
			DownloadClientPassword: payload.DownloadClientPassword,
		})
		if err != nil {
			log.Error().Err(err).Int("instanceID", instance.ID).Msg("failed to store download client credentials")
			RespondError(w, http.StatusInternalServerError, "Failed to store download client credentials")
			return
		}
	}

	RespondJSON(w, http.StatusCreated, instance)
}

func (h *InstancesHandler) Get(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	instance, err := h.store.Get(r.Context(), instanceID)
	if errors.Is(err, models.ErrInstanceNotFound) {
		RespondError(w, http.StatusNotFound, "Instance not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to get instance")
		RespondError(w, http.StatusInternalServerError, "Failed to load instance")
		return
	}
	RespondJSON(w, http.StatusOK, instance)
}

func (h *InstancesHandler) Update(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	var payload InstancePayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	params := &models.InstanceUpdateParams{
		APIKey:                 payload.APIKey,
		DownloadClientHost:     payload.DownloadClientHost,
		DownloadClientUsername: payload.DownloadClientUsername,
		DownloadClientPassword: payload.DownloadClientPassword,
		Enabled:                payload.Enabled,
		TimeoutSeconds:         payload.TimeoutSeconds,
	}
	if payload.Name != "" {
		params.Name = &payload.Name
	}
	if payload.BaseURL != "" {
		params.BaseURL = &payload.BaseURL
	}

	instance, err := h.store.Update(r.Context(), instanceID, params)
	if errors.Is(err, models.ErrInstanceNotFound) {
		RespondError(w, http.StatusNotFound, "Instance not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to update instance")
		RespondError(w, http.StatusInternalServerError, "Failed to update instance")
		return
	}
	RespondJSON(w, http.StatusOK, instance)
}

func (h *InstancesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), instanceID); err != nil {
		if errors.Is(err, models.ErrInstanceNotFound) {
			RespondError(w, http.StatusNotFound, "Instance not found")
			return
		}
		log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to delete instance")
		RespondError(w, http.StatusInternalServerError, "Failed to delete instance")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test checks connectivity and credentials against the instance and
// records the result.
func (h *InstancesHandler) Test(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	instance, err := h.store.Get(r.Context(), instanceID)
	if errors.Is(err, models.ErrInstanceNotFound) {
		RespondError(w, http.StatusNotFound, "Instance not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to load instance for test")
		RespondError(w, http.StatusInternalServerError, "Failed to load instance")
		return
	}

	if err := h.provider.Test(r.Context(), instance); err != nil {
		RespondJSON(w, http.StatusOK, map[string]any{
			"status": "failed",
			"error":  err.Error(),
		})
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
