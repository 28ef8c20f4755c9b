// Package metrics Prometheus 指标，注册到默认 registry，由 /metrics 暴露
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ipd_http_request_duration_seconds",
		Help:    "HTTP request latency by method, route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// RevisionAppends result: ok / conflict / invalid / error
	RevisionAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipd_revision_appends_total",
		Help: "Revision append attempts by result",
	}, []string{"result"})

	RevisionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipd_revision_transitions_total",
		Help: "Revision status transitions by target status",
	}, []string{"status"})

	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipd_invariant_violations_total",
		Help: "Revision chain integrity failures detected",
	})

	SnapshotArchiveErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipd_snapshot_archive_errors_total",
		Help: "Committed revisions whose parts snapshot could not be archived",
	})

	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ipd_effectivity_resolve_duration_seconds",
		Help:    "Effectivity resolution latency including revision load",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	DriftChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipd_drift_checks_total",
		Help: "Observed configuration checks by outcome (match / opened / existing)",
	}, []string{"outcome"})

	RiskUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipd_risk_updates_total",
		Help: "Risk profile updates by event type",
	}, []string{"event"})

	QueueErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipd_event_queue_errors_total",
		Help: "Event queue publish/consume failures",
	}, []string{"op"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ipd_event_queue_depth",
		Help: "Pending risk events observed by the worker",
	})
)
