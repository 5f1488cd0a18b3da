// Package metrics holds the Prometheus collectors shared by the client session
// and the backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapabilityRequestsTotal counts background removal calls by backend and outcome.
	CapabilityRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgremover_capability_requests_total",
			Help: "Background removal calls by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	CapabilityDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgremover_capability_duration_seconds",
			Help:    "Background removal call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"backend"},
	)

	EmbeddedWorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bgremover_embedded_workers_active",
			Help: "Embedded removal workers currently running",
		},
	)

	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgremover_session_transitions_total",
			Help: "Session state machine transitions",
		},
		[]string{"from", "to"},
	)

	// StaleResultsDiscarded counts capability responses dropped because a
	// newer request superseded them.
	StaleResultsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bgremover_stale_results_discarded_total",
			Help: "Capability responses discarded because a newer request was issued",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgremover_http_requests_total",
			Help: "Backend HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgremover_http_request_duration_seconds",
			Help:    "Backend HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
