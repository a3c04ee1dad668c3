// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/autobrr/sanitarr/internal/buildinfo"
	"github.com/autobrr/sanitarr/internal/services/cleaner"
)

// HealthHandler reports process liveness and scheduler health.
type HealthHandler struct {
	service *cleaner.Service
}

func NewHealthHandler(service *cleaner.Service) *HealthHandler {
	return &HealthHandler{service: service}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.service.Health()

	status := http.StatusOK
	if !health.Healthy || !health.Running {
		status = http.StatusServiceUnavailable
	}

	RespondJSON(w, status, map[string]any{
		"version": buildinfo.Version,
		"commit":  buildinfo.Commit,
		"cleaner": health,
	})
}
