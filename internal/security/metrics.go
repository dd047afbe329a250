package security

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the audit trail.
type Metrics struct {
	RecordsWritten prometheus.Counter
	WriteFailures  prometheus.Counter
}

// NewMetrics creates and registers audit metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		RecordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kumbu",
			Subsystem: "audit",
			Name:      "records_written_total",
			Help:      "Total audit records accepted for writing.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kumbu",
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Total audit records dropped or failed to persist.",
		}),
	}
	reg.MustRegister(m.RecordsWritten, m.WriteFailures)
	return m
}
