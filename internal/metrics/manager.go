// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

// Manager owns the private prometheus registry and the engine-facing
// instruments. It satisfies the cleaner's Metrics interface.
type Manager struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	removalsTotal   *prometheus.CounterVec
	instanceHealthy *prometheus.GaugeVec
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,

		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sanitarr_cleaner_runs_total",
			Help: "Total number of cleaning runs by instance and terminal status",
		}, []string{"instance_id", "status"}),

		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sanitarr_cleaner_run_duration_seconds",
			Help:    "Duration of cleaning runs by instance",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"instance_id"}),

		removalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sanitarr_cleaner_removals_total",
			Help: "Total number of queue items removed by instance and rule",
		}, []string{"instance_id", "rule"}),

		instanceHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sanitarr_instance_healthy",
			Help: "Whether the instance's last runs succeeded (1 healthy, 0 unhealthy)",
		}, []string{"instance_id"}),
	}

	registry.MustRegister(m.runsTotal, m.runDuration, m.removalsTotal, m.instanceHealthy)

	log.Info().Msg("Metrics manager initialized")

	return m
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) ObserveRun(instanceID int, status string, duration time.Duration) {
	id := strconv.Itoa(instanceID)
	m.runsTotal.WithLabelValues(id, status).Inc()
	m.runDuration.WithLabelValues(id).Observe(duration.Seconds())
}

func (m *Manager) AddRemovals(instanceID int, rule string, count int) {
	m.removalsTotal.WithLabelValues(strconv.Itoa(instanceID), rule).Add(float64(count))
}

func (m *Manager) SetInstanceHealthy(instanceID int, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.instanceHealthy.WithLabelValues(strconv.Itoa(instanceID)).Set(v)
}
