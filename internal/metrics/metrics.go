// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

// Package metrics exposes Prometheus instrumentation for Widgetsync.
// All collectors register through promauto at package load; the /metrics
// endpoint serves the default registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchDuration observes third-party fetch latency per integration.
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "widgetsync",
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Third-party fetch duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"integration"})

	// FetchesTotal counts fetch attempts by final outcome.
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "widgetsync",
		Subsystem: "fetch",
		Name:      "total",
		Help:      "Fetch executions by integration and outcome",
	}, []string{"integration", "outcome"})

	// FetchRetriesTotal counts individual retry attempts.
	FetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "widgetsync",
		Subsystem: "fetch",
		Name:      "retries_total",
		Help:      "Fetch retry attempts by integration",
	}, []string{"integration"})

	// CredentialRotationsTotal counts persisted OAuth token rotations.
	CredentialRotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "widgetsync",
		Subsystem: "vault",
		Name:      "credential_rotations_total",
		Help:      "Credential rotations persisted by integration",
	}, []string{"integration"})

	// CacheWritesTotal counts cache upserts by status.
	CacheWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "widgetsync",
		Subsystem: "cache",
		Name:      "writes_total",
		Help:      "Cache entry writes by integration and status",
	}, []string{"integration", "status"})

	// SchedulerQueueDepth gauges jobs waiting for a worker.
	SchedulerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "widgetsync",
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Jobs currently queued for refresh workers",
	})

	// SchedulerDroppedTotal counts refresh requests suppressed by dedupe
	// or debounce.
	SchedulerDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "widgetsync",
		Subsystem: "scheduler",
		Name:      "dropped_total",
		Help:      "Refresh requests suppressed before queueing",
	}, []string{"reason"})

	// SchedulerScansTotal counts staleness scan passes.
	SchedulerScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "widgetsync",
		Subsystem: "scheduler",
		Name:      "scans_total",
		Help:      "Staleness scan passes completed",
	})

	// WebhookRequestsTotal counts inbound webhook deliveries by outcome.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "widgetsync",
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Inbound webhook deliveries by integration and outcome",
	}, []string{"integration", "outcome"})

	// BreakerState gauges circuit breaker state per integration
	// (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "widgetsync",
		Subsystem: "fetch",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per integration (0=closed, 1=half-open, 2=open)",
	}, []string{"integration"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "widgetsync",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	// APIActiveRequests gauges in-flight HTTP requests.
	APIActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "widgetsync",
		Subsystem: "api",
		Name:      "active_requests",
		Help:      "HTTP requests currently in flight",
	})
)

// RecordFetch records one completed fetch execution.
func RecordFetch(integration, outcome string, duration time.Duration) {
	FetchDuration.WithLabelValues(integration).Observe(duration.Seconds())
	FetchesTotal.WithLabelValues(integration, outcome).Inc()
}

// RecordCacheWrite records one cache upsert.
func RecordCacheWrite(integration, status string) {
	CacheWritesTotal.WithLabelValues(integration, status).Inc()
}

// RecordAPIRequest records one finished HTTP request.
func RecordAPIRequest(method, path, status string, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
