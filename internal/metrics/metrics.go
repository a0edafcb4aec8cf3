// Package metrics registers the prometheus counters and histograms the
// core increments while routing chat requests and executing chains. The
// teacher's go.mod already carries github.com/prometheus/client_golang
// without an in-pack call site to ground it on; this package wires it
// against the domain nouns spec §3/§4.3/§4.4 name. Registering an
// `/metrics` HTTP exporter endpoint is out of scope (spec §1 Non-goals)
// — only the instrumentation itself is.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric a RoleRuntime's router and chain engine
// report to, namespaced "intellirouter" the way client_golang examples
// group a service's metrics under one prefix.
type Registry struct {
	RouteRequestsTotal   *prometheus.CounterVec
	RouteLatencySeconds  *prometheus.HistogramVec
	BreakerStateChanges  *prometheus.CounterVec
	BackendInFlight      *prometheus.GaugeVec
	ChainExecutionsTotal *prometheus.CounterVec
	ChainNodeLatency     *prometheus.HistogramVec
	ChainCacheHitsTotal  prometheus.Counter
}

// New builds a Registry and registers every metric against reg. Callers
// typically pass prometheus.NewRegistry() (a private registry, since
// spec §1 excludes running the default /metrics exporter) rather than
// the global DefaultRegisterer.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		RouteRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intellirouter",
			Subsystem: "router",
			Name:      "requests_total",
			Help:      "Total chat completion requests routed, labeled by backend id and outcome.",
		}, []string{"backend_id", "outcome"}),
		RouteLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "intellirouter",
			Subsystem: "router",
			Name:      "backend_latency_seconds",
			Help:      "Backend call latency observed by the router, labeled by backend id.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend_id"}),
		BreakerStateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intellirouter",
			Subsystem: "router",
			Name:      "breaker_state_changes_total",
			Help:      "Circuit breaker transitions, labeled by backend id and resulting state.",
		}, []string{"backend_id", "state"}),
		BackendInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "intellirouter",
			Subsystem: "router",
			Name:      "backend_in_flight",
			Help:      "Requests currently admitted to a backend's bounded in-flight counter.",
		}, []string{"backend_id"}),
		ChainExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intellirouter",
			Subsystem: "chain",
			Name:      "executions_total",
			Help:      "Chain executions, labeled by terminal status.",
		}, []string{"status"}),
		ChainNodeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "intellirouter",
			Subsystem: "chain",
			Name:      "node_latency_seconds",
			Help:      "Per-node execution latency, labeled by node type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node_type"}),
		ChainCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intellirouter",
			Subsystem: "chain",
			Name:      "cache_hits_total",
			Help:      "Chain LlmNode response cache hits.",
		}),
	}

	reg.MustRegister(
		m.RouteRequestsTotal,
		m.RouteLatencySeconds,
		m.BreakerStateChanges,
		m.BackendInFlight,
		m.ChainExecutionsTotal,
		m.ChainNodeLatency,
		m.ChainCacheHitsTotal,
	)
	return m
}
