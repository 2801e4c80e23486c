// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// BackendKey is the echo context key under which the proxy handler stores the
// resolved backend name. Only configured backend names are ever stored there,
// which keeps the backend label bounded.
const BackendKey = "agentauth.backend"

// NoBackend labels requests that did not resolve to a configured backend.
const NoBackend = "none"

// Default histogram buckets for API latency. Upper buckets cover slow LLM responses.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamErrors    *prometheus.CounterVec

	Denials              *prometheus.CounterVec
	CredentialInjections *prometheus.CounterVec
	AuditWriteFailures   prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentauth_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "backend"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentauth_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "backend"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentauth_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentauth_upstream_request_duration_seconds",
			Help:    "Time until upstream response headers, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"backend", "method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentauth_upstream_responses_total",
			Help: "Total upstream responses by backend, method and status code.",
		}, []string{"backend", "method", "status_code"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentauth_upstream_errors_total",
			Help: "Upstream requests that failed before response headers arrived.",
		}, []string{"backend"}),

		Denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentauth_denied_requests_total",
			Help: "Requests rejected before reaching an upstream, by error code.",
		}, []string{"code"}),

		CredentialInjections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentauth_credential_injections_total",
			Help: "Credential headers injected into upstream requests.",
		}, []string{"backend"}),

		AuditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentauth_audit_write_failures_total",
			Help: "Audit entries that could not be persisted.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamErrors,
		m.Denials,
		m.CredentialInjections,
		m.AuditWriteFailures,
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

// BackendLabel converts a value stored under BackendKey into a label.
func BackendLabel(v any) string {
	if name, ok := v.(string); ok && name != "" {
		return name
	}
	return NoBackend
}
