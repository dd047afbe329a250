package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// namespace prefixes every metric family the service exports.
const namespace = "kumbu"

// MetricsCollector owns the process-local Prometheus registry and the model
// and gateway families. Other packages (agent, security) register their own
// families on the same registry. Nothing touches the prometheus default
// registry.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Model backend.
	LLMRequestsTotal   *prometheus.CounterVec   // provider, model, status
	LLMRequestDuration *prometheus.HistogramVec // provider, model
	LLMTokensUsed      *prometheus.CounterVec   // provider, model, direction

	// HTTP gateway.
	HTTPRequestsTotal   *prometheus.CounterVec   // method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec // method, path
	ActiveRequests      prometheus.Gauge
}

// NewMetricsCollector builds the registry and registers every family on it.
func NewMetricsCollector() *MetricsCollector {
	m := &MetricsCollector{Registry: prometheus.NewRegistry()}

	m.LLMRequestsTotal = counterVec("llm", "requests_total",
		"Total model API requests.", "provider", "model", "status")
	m.LLMRequestDuration = histogramVec("llm", "request_duration_seconds",
		"Model API request duration in seconds.",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}, "provider", "model")
	m.LLMTokensUsed = counterVec("llm", "tokens_used_total",
		"Total model tokens consumed.", "provider", "model", "direction")

	m.HTTPRequestsTotal = counterVec("http", "requests_total",
		"Total HTTP requests.", "method", "path", "status_code")
	m.HTTPRequestDuration = histogramVec("http", "request_duration_seconds",
		"HTTP request duration in seconds.", prometheus.DefBuckets, "method", "path")
	m.ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_requests",
		Help:      "Number of in-flight HTTP requests.",
	})

	m.Registry.MustRegister(
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)
	return m
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func histogramVec(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}
