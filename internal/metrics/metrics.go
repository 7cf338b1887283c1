// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// RouteKey is the echo context key handlers use to report which dispatch
// branch served a request.
const RouteKey = "metrics.route"

// Route label values.
const (
	RouteAsset      = "asset"
	RouteForward    = "forward"
	RouteUpgrade    = "upgrade"
	RouteUnresolved = "unresolved"
	RouteInternal   = "internal"
	RouteOther      = "other"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	AssetResponses *prometheus.CounterVec
	VersionProbes  *prometheus.CounterVec

	Upgrades       *prometheus.CounterVec
	UpgradesActive prometheus.Gauge
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screeps_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screeps_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screeps_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screeps_proxy_upstream_request_duration_seconds",
			Help:    "Backend call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screeps_proxy_upstream_responses_total",
			Help: "Total backend responses by method and status code.",
		}, []string{"method", "status_code"}),

		AssetResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screeps_proxy_asset_responses_total",
			Help: "Archive lookups by outcome.",
		}, []string{"outcome"}),

		VersionProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screeps_proxy_version_probes_total",
			Help: "Backend /api/version probes by result.",
		}, []string{"result"}),

		Upgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screeps_proxy_websocket_upgrades_total",
			Help: "WebSocket upgrade attempts by outcome.",
		}, []string{"outcome"}),

		UpgradesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screeps_proxy_websocket_bridges_active",
			Help: "Number of WebSocket bridges currently open.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.AssetResponses,
		m.VersionProbes,
		m.Upgrades,
		m.UpgradesActive,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

var knownRoutes = map[string]bool{
	RouteAsset: true, RouteForward: true, RouteUpgrade: true,
	RouteUnresolved: true, RouteInternal: true,
}

// NormalizeRoute returns a bounded route label. Anything not reported by a
// handler maps to "other".
func NormalizeRoute(route string) string {
	if knownRoutes[route] {
		return route
	}
	return RouteOther
}
