// Package metrics exposes Prometheus metrics for the version negotiation
// and compatibility layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service. Each Metrics
// instance carries its own registry so tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	// NegotiationsTotal counts resolved versions by negotiation source.
	NegotiationsTotal *prometheus.CounterVec

	// UnknownVersionsTotal counts unregistered candidate tokens by source.
	UnknownVersionsTotal *prometheus.CounterVec

	// DeprecatedRequestsTotal counts requests served on deprecated or
	// sunset versions.
	DeprecatedRequestsTotal *prometheus.CounterVec

	// SunsetBlockedTotal counts requests refused under the hard sunset policy.
	SunsetBlockedTotal *prometheus.CounterVec

	// MigrationsTotal counts payload migrations by version pair and outcome.
	MigrationsTotal *prometheus.CounterVec

	// MigrationHops observes the length of resolved migration paths.
	MigrationHops prometheus.Histogram

	// RequestsTotal counts HTTP requests by method, route and status.
	RequestsTotal *prometheus.CounterVec

	// RequestDuration observes request latency in seconds.
	RequestDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		NegotiationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palabrita_version_negotiations_total",
				Help: "Total version negotiations by resolved version and source",
			},
			[]string{"version", "source"},
		),
		UnknownVersionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palabrita_unknown_versions_total",
				Help: "Total unregistered version candidates by source",
			},
			[]string{"source"},
		),
		DeprecatedRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palabrita_deprecated_requests_total",
				Help: "Total requests served on deprecated or sunset versions",
			},
			[]string{"version"},
		),
		SunsetBlockedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palabrita_sunset_blocked_total",
				Help: "Total requests refused for versions past their sunset date",
			},
			[]string{"version"},
		),
		MigrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palabrita_payload_migrations_total",
				Help: "Total payload migrations by version pair and outcome",
			},
			[]string{"from", "to", "outcome"},
		),
		MigrationHops: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "palabrita_migration_hops",
				Help:    "Number of transform hops per payload migration",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palabrita_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "palabrita_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		m.NegotiationsTotal,
		m.UnknownVersionsTotal,
		m.DeprecatedRequestsTotal,
		m.SunsetBlockedTotal,
		m.MigrationsTotal,
		m.MigrationHops,
		m.RequestsTotal,
		m.RequestDuration,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
