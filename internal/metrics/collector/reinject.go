// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdtm/internal/ratelimit"
	"github.com/autobrr/rdtm/internal/services/reinject"
)

type SnapshotSource interface {
	Snapshot() reinject.Snapshot
}

type LimiterSource interface {
	Snapshot() []ratelimit.ScopeStats
}

var taskStatuses = []reinject.TaskStatus{
	reinject.StatusPending,
	reinject.StatusProcessing,
	reinject.StatusCompleted,
	reinject.StatusFailed,
}

// ReinjectCollector exposes the run statistics and rate limiter state at
// scrape time.
type ReinjectCollector struct {
	service SnapshotSource
	limiter LimiterSource

	testsPerformedDesc     *prometheus.Desc
	infringingDetectedDesc *prometheus.Desc
	cleanupsCompletedDesc  *prometheus.Desc
	errorsEncounteredDesc  *prometheus.Desc
	infringingRateDesc     *prometheus.Desc
	testsPerHourDesc       *prometheus.Desc
	uptimeDesc             *prometheus.Desc
	dryRunDesc             *prometheus.Desc
	cleanupTasksDesc       *prometheus.Desc
	delayDesc              *prometheus.Desc
	callsDesc              *prometheus.Desc
	rateLimitedDesc        *prometheus.Desc
	failuresDesc           *prometheus.Desc
	avgResponseDesc        *prometheus.Desc
}

func NewReinjectCollector(service SnapshotSource, limiter LimiterSource) *ReinjectCollector {
	return &ReinjectCollector{
		service: service,
		limiter: limiter,

		testsPerformedDesc: prometheus.NewDesc(
			"rdtm_tests_performed_total",
			"Total number of reinjection tests performed",
			nil, nil,
		),
		infringingDetectedDesc: prometheus.NewDesc(
			"rdtm_infringing_detected_total",
			"Total number of tests refused as infringing or infected",
			nil, nil,
		),
		cleanupsCompletedDesc: prometheus.NewDesc(
			"rdtm_cleanups_completed_total",
			"Total number of cleanup tasks completed",
			nil, nil,
		),
		errorsEncounteredDesc: prometheus.NewDesc(
			"rdtm_errors_encountered_total",
			"Total number of unexpected errors and permanently failed cleanups",
			nil, nil,
		),
		infringingRateDesc: prometheus.NewDesc(
			"rdtm_infringing_rate",
			"Share of tests refused as infringing or infected since the stats began",
			nil, nil,
		),
		testsPerHourDesc: prometheus.NewDesc(
			"rdtm_tests_per_hour",
			"Average number of tests per hour since the stats began",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"rdtm_stats_runtime_seconds",
			"Seconds since the persisted stats began",
			nil, nil,
		),
		dryRunDesc: prometheus.NewDesc(
			"rdtm_dry_run",
			"Whether cleanup effects are only logged (1=dry run, 0=live)",
			nil, nil,
		),
		cleanupTasksDesc: prometheus.NewDesc(
			"rdtm_cleanup_tasks",
			"Cleanup tasks by status; completed and failed count only this process",
			[]string{"status"},
			nil,
		),
		delayDesc: prometheus.NewDesc(
			"rdtm_ratelimit_delay_seconds",
			"Current adaptive delay between calls by scope",
			[]string{"scope"},
			nil,
		),
		callsDesc: prometheus.NewDesc(
			"rdtm_ratelimit_calls_total",
			"Total number of permitted calls by scope",
			[]string{"scope"},
			nil,
		),
		rateLimitedDesc: prometheus.NewDesc(
			"rdtm_ratelimit_rate_limited_total",
			"Total number of calls answered with a rate limit by scope",
			[]string{"scope"},
			nil,
		),
		failuresDesc: prometheus.NewDesc(
			"rdtm_ratelimit_failures_total",
			"Total number of failed calls by scope",
			[]string{"scope"},
			nil,
		),
		avgResponseDesc: prometheus.NewDesc(
			"rdtm_ratelimit_avg_response_seconds",
			"Moving average response time by scope",
			[]string{"scope"},
			nil,
		),
	}
}

func (c *ReinjectCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.testsPerformedDesc
	ch <- c.infringingDetectedDesc
	ch <- c.cleanupsCompletedDesc
	ch <- c.errorsEncounteredDesc
	ch <- c.infringingRateDesc
	ch <- c.testsPerHourDesc
	ch <- c.uptimeDesc
	ch <- c.dryRunDesc
	ch <- c.cleanupTasksDesc
	ch <- c.delayDesc
	ch <- c.callsDesc
	ch <- c.rateLimitedDesc
	ch <- c.failuresDesc
	ch <- c.avgResponseDesc
}

func (c *ReinjectCollector) Collect(ch chan<- prometheus.Metric) {
	if c.service == nil {
		log.Debug().Msg("reinject service is nil, skipping run metrics")
	} else {
		c.collectRun(ch, c.service.Snapshot())
	}

	if c.limiter == nil {
		return
	}
	for _, scope := range c.limiter.Snapshot() {
		name := string(scope.Scope)
		ch <- prometheus.MustNewConstMetric(c.delayDesc, prometheus.GaugeValue, scope.CurrentDelay.Seconds(), name)
		ch <- prometheus.MustNewConstMetric(c.callsDesc, prometheus.CounterValue, float64(scope.Calls), name)
		ch <- prometheus.MustNewConstMetric(c.rateLimitedDesc, prometheus.CounterValue, float64(scope.RateLimited), name)
		ch <- prometheus.MustNewConstMetric(c.failuresDesc, prometheus.CounterValue, float64(scope.Failures), name)
		ch <- prometheus.MustNewConstMetric(c.avgResponseDesc, prometheus.GaugeValue, scope.AvgResponseTime.Seconds(), name)
	}
}

func (c *ReinjectCollector) collectRun(ch chan<- prometheus.Metric, snap reinject.Snapshot) {
	ch <- prometheus.MustNewConstMetric(c.testsPerformedDesc, prometheus.CounterValue, float64(snap.Stats.TestsPerformed))
	ch <- prometheus.MustNewConstMetric(c.infringingDetectedDesc, prometheus.CounterValue, float64(snap.Stats.InfringingDetected))
	ch <- prometheus.MustNewConstMetric(c.cleanupsCompletedDesc, prometheus.CounterValue, float64(snap.Stats.CleanupsCompleted))
	ch <- prometheus.MustNewConstMetric(c.errorsEncounteredDesc, prometheus.CounterValue, float64(snap.Stats.ErrorsEncountered))
	ch <- prometheus.MustNewConstMetric(c.infringingRateDesc, prometheus.GaugeValue, snap.InfringingRate)
	ch <- prometheus.MustNewConstMetric(c.testsPerHourDesc, prometheus.GaugeValue, snap.TestsPerHour)
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, snap.RuntimeHours*3600)

	dryRun := 0.0
	if snap.DryRun {
		dryRun = 1
	}
	ch <- prometheus.MustNewConstMetric(c.dryRunDesc, prometheus.GaugeValue, dryRun)

	for _, status := range taskStatuses {
		count := snap.Queue[status]
		if status.IsTerminal() {
			count = snap.Finished[status]
		}
		ch <- prometheus.MustNewConstMetric(c.cleanupTasksDesc, prometheus.GaugeValue, float64(count), string(status))
	}
}
