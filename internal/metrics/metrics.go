package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hazardguard"

// Metrics holds the Prometheus collectors for the pipeline.
type Metrics struct {
	Registry *prometheus.Registry

	RawMessages         *prometheus.CounterVec // labels: connection
	IngestDropped       *prometheus.CounterVec // labels: connection
	NormalizationErrors *prometheus.CounterVec // labels: source
	Classifications     *prometheus.CounterVec // labels: source, classification
	Suppressed          *prometheus.CounterVec // labels: reason
	Decisions           *prometheus.CounterVec // labels: source
	InvariantViolations prometheus.Counter
	Lineages            prometheus.Gauge

	Reconnects      *prometheus.CounterVec // labels: connection, endpoint
	ConnectionState *prometheus.GaugeVec   // labels: connection; 1 connected, 0 otherwise

	QueueDepth      prometheus.Gauge
	DispatchDropped prometheus.Counter
	DispatchSent    *prometheus.CounterVec // labels: sink
	DispatchErrors  *prometheus.CounterVec // labels: sink

	PipelineLatency prometheus.Histogram
}

func newMetrics() *Metrics {
	return &Metrics{
		RawMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_messages_total",
			Help:      "Payloads received per connection.",
		}, []string{"connection"}),
		IngestDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_dropped_total",
			Help:      "Payloads dropped because the ingest queue was full.",
		}, []string{"connection"}),
		NormalizationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalization_errors_total",
			Help:      "Payloads dropped because they could not be normalized.",
		}, []string{"source"}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Events classified by the deduplicator.",
		}, []string{"source", "classification"}),
		Suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suppressed_total",
			Help:      "Events that did not produce a push decision, by reason.",
		}, []string{"reason"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_decisions_total",
			Help:      "Push decisions emitted per source.",
		}, []string{"source"}),
		InvariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Lineages reset after failing an invariant check.",
		}),
		Lineages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lineages",
			Help:      "Lineages currently held in memory.",
		}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Connection attempts after a failure.",
		}, []string{"connection", "endpoint"}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_up",
			Help:      "1 while the connection is established.",
		}, []string{"connection"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Decisions waiting for the dispatcher.",
		}),
		DispatchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_dropped_total",
			Help:      "Decisions evicted from a full dispatch queue.",
		}),
		DispatchSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_sent_total",
			Help:      "Decisions delivered per sink.",
		}, []string{"sink"}),
		DispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_errors_total",
			Help:      "Delivery failures per sink.",
		}, []string{"sink"}),
		PipelineLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_latency_seconds",
			Help:      "Time from receipt to decision.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RawMessages,
		m.IngestDropped,
		m.NormalizationErrors,
		m.Classifications,
		m.Suppressed,
		m.Decisions,
		m.InvariantViolations,
		m.Lineages,
		m.Reconnects,
		m.ConnectionState,
		m.QueueDepth,
		m.DispatchDropped,
		m.DispatchSent,
		m.DispatchErrors,
		m.PipelineLatency,
	}
}

// NewMetrics creates the collectors and registers them with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting registers with a fresh registry so tests can build
// as many instances as they like.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	m.Registry = prometheus.NewRegistry()
	m.Registry.MustRegister(m.collectors()...)
	return m
}
