// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdtm/internal/metrics/collector"
)

type Manager struct {
	registry          *prometheus.Registry
	reinjectCollector *collector.ReinjectCollector
	results           *collector.ResultCollector
}

func NewManager(service collector.SnapshotSource, limiter collector.LimiterSource) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	reinjectCollector := collector.NewReinjectCollector(service, limiter)
	registry.MustRegister(reinjectCollector)

	results := collector.NewResultCollector(registry)

	log.Info().Msg("Metrics manager initialized with reinject collector")

	return &Manager{
		registry:          registry,
		reinjectCollector: reinjectCollector,
		results:           results,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Results is the observer to hand to the reinject service.
func (m *Manager) Results() *collector.ResultCollector {
	return m.results
}
