package ingest

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts ingest activity on a private registry.
type Metrics struct {
	reg        *prometheus.Registry
	pushes     *prometheus.CounterVec
	dispatched prometheus.Counter
	skipped    prometheus.Counter
	syncErrors prometheus.Counter
	syncTime   prometheus.Histogram
}

// NewMetrics registers the ingest collectors plus the Go runtime collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "formbot",
			Subsystem: "ingest",
			Name:      "push_total",
			Help:      "Push notifications received, by result.",
		}, []string{"result"}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "formbot",
			Subsystem: "ingest",
			Name:      "dispatched_total",
			Help:      "Form responses handed to the dispatcher.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "formbot",
			Subsystem: "ingest",
			Name:      "duplicates_total",
			Help:      "Form responses skipped because they were already relayed.",
		}),
		syncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "formbot",
			Subsystem: "ingest",
			Name:      "sync_errors_total",
			Help:      "Form syncs that ended with an error.",
		}),
		syncTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "formbot",
			Subsystem: "ingest",
			Name:      "sync_duration_seconds",
			Help:      "Duration of a single form sync.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.reg.MustRegister(
		m.pushes, m.dispatched, m.skipped, m.syncErrors, m.syncTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) push(result string) {
	if m != nil {
		m.pushes.WithLabelValues(result).Inc()
	}
}
