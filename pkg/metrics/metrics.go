// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MergeExecutionsTotal tracks merge executions by status
	MergeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "merge",
			Name:      "executions_total",
			Help:      "Total number of merge executions by status",
		},
		[]string{"tenant_id", "status"},
	)

	// MergeStepFailuresTotal tracks which merge step failed
	MergeStepFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "merge",
			Name:      "step_failures_total",
			Help:      "Total number of merge step failures by step",
		},
		[]string{"step"},
	)

	// MergeExecutionDuration tracks merge execution duration in seconds
	MergeExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "merge",
			Name:      "execution_duration_seconds",
			Help:      "Duration of merge executions in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// CRMRequestsTotal tracks outbound CRM backend requests
	CRMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "crm_client",
			Name:      "requests_total",
			Help:      "Total number of outbound CRM requests",
		},
		[]string{"method", "status_code"},
	)

	// CRMRequestDuration tracks outbound CRM request duration
	CRMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "crm_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound CRM requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// OptionFetchesTotal tracks fund context fetches by outcome
	OptionFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "options",
			Name:      "fetches_total",
			Help:      "Total number of fund option fetches by outcome",
		},
		[]string{"outcome"},
	)

	// SessionsOpen tracks currently open workflow sessions
	SessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "workflow",
			Name:      "sessions_open",
			Help:      "Number of currently open reconciliation sessions",
		},
	)
)
