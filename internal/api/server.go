// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api assembles the HTTP surface: instance management, cleaner
// configuration and control, run history, and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autobrr/sanitarr/internal/api/handlers"
	"github.com/autobrr/sanitarr/internal/arr"
	"github.com/autobrr/sanitarr/internal/metrics"
	"github.com/autobrr/sanitarr/internal/models"
	"github.com/autobrr/sanitarr/internal/services/cleaner"
)

// Dependencies carries everything the router needs.
type Dependencies struct {
	InstanceStore  *models.InstanceStore
	ConfigStore    *models.CleanerConfigStore
	RunLogStore    *models.RunLogStore
	StrikeStore    *models.StrikeStore
	Provider       *arr.Provider
	CleanerService *cleaner.Service
	Stats          *cleaner.StatsAggregator
	Metrics        *metrics.Manager
}

type Server struct {
	deps *Dependencies
}

func NewServer(deps *Dependencies) *Server {
	return &Server{deps: deps}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	instancesHandler := handlers.NewInstancesHandler(s.deps.InstanceStore, s.deps.Provider)
	cleanerHandler := handlers.NewCleanerHandler(s.deps.ConfigStore, s.deps.RunLogStore, s.deps.StrikeStore, s.deps.InstanceStore, s.deps.CleanerService, s.deps.Stats)
	healthHandler := handlers.NewHealthHandler(s.deps.CleanerService)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		r.Route("/instances", func(r chi.Router) {
			r.Get("/", instancesHandler.List)
			r.Post("/", instancesHandler.Create)

			r.Route("/{instanceID}", func(r chi.Router) {
				r.Get("/", instancesHandler.Get)
				r.Put("/", instancesHandler.Update)
				r.Delete("/", instancesHandler.Delete)
				r.Post("/test", instancesHandler.Test)

				r.Route("/cleaner", func(r chi.Router) {
					r.Get("/", cleanerHandler.GetConfig)
					r.Put("/", cleanerHandler.UpdateConfig)
					r.Post("/run", cleanerHandler.RunNow)
					r.Get("/strikes", cleanerHandler.ListStrikes)
				})
			})
		})

		r.Route("/cleaner", func(r chi.Router) {
			r.Get("/runs", cleanerHandler.ListRuns)
			r.Get("/runs/{runID}", cleanerHandler.GetRun)
			r.Get("/stats", cleanerHandler.Stats)
		})
	})

	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	return r
}
