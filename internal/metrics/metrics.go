// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package metrics exposes Prometheus instrumentation for the ingestion
// pipeline, the reconciler, the cache and the query API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics

	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidpulse_events_ingested_total",
			Help: "Total events by ingest outcome (accepted, duplicate, dropped_late)",
		},
		[]string{"outcome"},
	)

	EventsByType = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidpulse_events_by_type_total",
			Help: "Accepted events by engagement type",
		},
		[]string{"event_type"},
	)

	WatermarkLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidpulse_watermark_lag_seconds",
			Help: "Wall-clock seconds between now and the current watermark",
		},
	)

	OpenWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidpulse_open_windows",
			Help: "Window aggregates currently held in memory",
		},
	)

	WindowsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidpulse_windows_closed_total",
			Help: "Windows transitioned open to closed by watermark advance",
		},
	)

	DedupKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidpulse_dedup_keys",
			Help: "Identity keys retained by the idempotency guard",
		},
	)

	// Reconciler metrics

	WindowsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidpulse_windows_flushed_total",
			Help: "Windows durably committed to the historical store",
		},
	)

	CommitRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidpulse_commit_retries_total",
			Help: "Reconciler commit attempts that failed and were retried",
		},
	)

	StuckWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidpulse_stuck_windows",
			Help: "Closed windows whose commit retry budget is exhausted",
		},
	)

	CommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidpulse_commit_duration_seconds",
			Help:    "Duration of reconciler batch commits",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidpulse_retention_deleted_total",
			Help: "Historical windows removed by the retention janitor",
		},
	)

	// Cache metrics

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidpulse_cache_hits_total",
			Help: "Snapshot cache hits on the query path",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidpulse_cache_misses_total",
			Help: "Snapshot cache misses on the query path (fallback to durable store)",
		},
	)

	// API metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidpulse_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidpulse_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)

	// Durable store metrics

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidpulse_duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidpulse_duckdb_query_errors_total",
			Help: "Total DuckDB query errors",
		},
		[]string{"operation"},
	)
)

// ObserveAPIRequest records one API request's counter and latency samples.
func ObserveAPIRequest(method, endpoint string, status int, elapsed time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())
}

// TimeDBQuery returns a function that records the query duration when called.
//
//	defer metrics.TimeDBQuery("upsert_window")()
func TimeDBQuery(operation string) func() {
	start := time.Now()
	return func() {
		DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
