// Burndown Sync - Jira Delivery Metrics Sync Engine
// Copyright 2026 Nik Savis (niksavis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/niksavis/burndown-chart-sub003

// Package metrics provides Prometheus instrumentation for the sync engine,
// exposed on the /metrics endpoint in Prometheus text format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync operation metrics
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of sync operations by strategy",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"strategy"},
	)

	SyncRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_total",
			Help: "Issue records fetched per sync strategy",
		},
		[]string{"strategy"},
	)

	SyncErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_errors_total",
			Help: "Failed sync operations by error type",
		},
		[]string{"error_type"},
	)

	SyncLastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful sync",
		},
	)

	// Upstream API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jira_api_requests_total",
			Help: "Search API calls by HTTP status",
		},
		[]string{"status"},
	)

	APIRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jira_api_request_duration_seconds",
			Help:    "Search API call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	PagesFetchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jira_pages_fetched_total",
			Help: "Search result pages fetched",
		},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jira_retries_total",
			Help: "Retried API calls by operation",
		},
		[]string{"operation"},
	)

	RateLimitWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rate_limit_wait_duration_seconds",
			Help:    "Time spent waiting on the outbound token bucket",
			Buckets: []float64{.001, .01, .1, .5, 1, 5, 15},
		},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Upstream circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	// Cache metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Cache hits by layer",
		},
		[]string{"layer"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Cache misses by reason",
		},
		[]string{"reason"},
	)

	CacheCorruptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_corrupt_entries_total",
			Help: "Cache files demoted to a miss because they were malformed or oversized",
		},
	)

	// Task metrics
	TasksStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasks_started_total",
			Help: "Sync tasks started",
		},
	)

	TasksRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasks_rejected_total",
			Help: "Task starts rejected because another task was in progress",
		},
	)

	TasksOrphanedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasks_orphaned_total",
			Help: "In-progress tasks recovered as orphaned",
		},
	)
)

// ObserveSyncDuration records a completed sync of the given strategy.
func ObserveSyncDuration(strategy string, start time.Time) {
	SyncDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
}

// RecordSyncSuccess marks a successful sync completion.
func RecordSyncSuccess(strategy string, records int) {
	SyncRecordsTotal.WithLabelValues(strategy).Add(float64(records))
	SyncLastSuccessTimestamp.SetToCurrentTime()
}
