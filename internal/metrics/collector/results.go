// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package collector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/autobrr/rdtm/internal/services/reinject"
)

const successKind = "success"

var _ reinject.Observer = (*ResultCollector)(nil)

// ResultCollector counts test and cleanup outcomes as they happen.
type ResultCollector struct {
	TestResultsTotal     *prometheus.CounterVec
	TestDurationSeconds  prometheus.Histogram
	CleanupAttemptsTotal *prometheus.CounterVec
}

func NewResultCollector(r *prometheus.Registry) *ResultCollector {
	m := &ResultCollector{
		TestResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdtm",
			Subsystem: "test",
			Name:      "results_total",
			Help:      "Total number of test results by failure kind",
		}, []string{"kind"}),
		TestDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rdtm",
			Subsystem: "test",
			Name:      "duration_seconds",
			Help:      "Duration of a single reinjection test",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		CleanupAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdtm",
			Subsystem: "cleanup",
			Name:      "attempts_total",
			Help:      "Total number of cleanup attempts by resulting status",
		}, []string{"status"}),
	}

	r.MustRegister(m.TestResultsTotal)
	r.MustRegister(m.TestDurationSeconds)
	r.MustRegister(m.CleanupAttemptsTotal)
	return m
}

func (m *ResultCollector) ObserveTest(kind string, success bool, elapsed time.Duration) {
	if success || kind == "" {
		kind = successKind
	}
	m.TestResultsTotal.WithLabelValues(kind).Inc()
	m.TestDurationSeconds.Observe(elapsed.Seconds())
}

func (m *ResultCollector) ObserveCleanup(status string) {
	m.CleanupAttemptsTotal.WithLabelValues(status).Inc()
}
