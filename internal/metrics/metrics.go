// Package metrics provides Prometheus metrics for FireHunt.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "firehunt"
)

// Hunt execution metrics
var (
	// ExecutionsTotal counts hunt executions by category, hunt, and outcome.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hunt",
			Name:      "executions_total",
			Help:      "Total number of hunt executions",
		},
		[]string{"category", "hunt", "status"},
	)

	// ExecutionDuration tracks hunt execution latency.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hunt",
			Name:      "execution_duration_seconds",
			Help:      "Hunt execution latency in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"category", "hunt"},
	)

	// SemaphoreWaitDuration tracks time spent waiting for a concurrency slot.
	SemaphoreWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hunt",
			Name:      "semaphore_wait_seconds",
			Help:      "Time spent waiting for a concurrency slot before execution",
			Buckets:   []float64{.001, .01, .1, 1, 5, 15, 60, 300, 900},
		},
		[]string{"category"},
	)

	// ExecutionsInFlight tracks concurrently running hunts.
	ExecutionsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hunt",
			Name:      "executions_in_flight",
			Help:      "Number of hunts currently executing",
		},
		[]string{"category"},
	)
)

// Manager metrics
var (
	// HuntsLoaded tracks the number of loaded hunts per category.
	HuntsLoaded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "hunts_loaded",
			Help:      "Number of hunt definitions currently loaded",
		},
		[]string{"category"},
	)

	// ReloadsTotal counts hunt set reloads per category.
	ReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "reloads_total",
			Help:      "Total number of hunt set reloads",
		},
		[]string{"category"},
	)

	// LoadFailuresTotal counts definition files that failed to load.
	LoadFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "load_failures_total",
			Help:      "Total number of hunt definition load failures",
		},
		[]string{"category"},
	)
)

// Submission metrics
var (
	// SubmissionsTotal counts submissions produced by hunts.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "produced_total",
			Help:      "Total number of submissions produced",
		},
		[]string{"category", "hunt"},
	)

	// SubmissionsForwarded counts submissions delivered to the sink.
	SubmissionsForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "forwarded_total",
			Help:      "Total number of submissions forwarded by outcome",
		},
		[]string{"status"},
	)

	// SubmissionQueueDepth tracks the number of submissions awaiting forwarding.
	SubmissionQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "queue_depth",
			Help:      "Number of submissions waiting in the forwarding queue",
		},
	)
)
