package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics exports the scheduler's operational counters:
// concurrency, queue depth, node latency and credit spend, namespaced
// "graphexec_" for scraping (§5, §9).
type PrometheusMetrics struct {
	activeNodeExecs  prometheus.Gauge
	activeGraphExecs prometheus.Gauge
	queueDepth       prometheus.Gauge

	nodeLatency *prometheus.HistogramVec
	nodeErrors  *prometheus.CounterVec
	creditSpend *prometheus.CounterVec
}

// NewPrometheusMetrics registers and returns a PrometheusMetrics bound
// to registry (use prometheus.DefaultRegisterer for the global one).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		activeNodeExecs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphexec",
			Name:      "active_node_executions",
			Help:      "Node executions currently RUNNING across all graph workers.",
		}),
		activeGraphExecs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphexec",
			Name:      "active_graph_executions",
			Help:      "Graph executions currently in flight.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphexec",
			Name:      "ready_queue_depth",
			Help:      "Pending ready entries across all graph schedulers.",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graphexec",
			Name:      "node_execution_wall_seconds",
			Help:      "Wall-clock duration of a node execution.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"block_id", "status"}),
		nodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphexec",
			Name:      "node_errors_total",
			Help:      "Node executions that ended FAILED.",
		}, []string{"block_id"}),
		creditSpend: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphexec",
			Name:      "credits_spent_total",
			Help:      "Credits debited via SpendCredits.",
		}, []string{"block_id"}),
	}
}

func (m *PrometheusMetrics) RecordNodeLatency(blockID, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeLatency.WithLabelValues(blockID, status).Observe(d.Seconds())
}

func (m *PrometheusMetrics) IncNodeError(blockID string) {
	if m == nil {
		return
	}
	m.nodeErrors.WithLabelValues(blockID).Inc()
}

func (m *PrometheusMetrics) AddCreditSpend(blockID string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditSpend.WithLabelValues(blockID).Add(float64(amount))
}

func (m *PrometheusMetrics) SetActiveNodeExecs(n int) {
	if m == nil {
		return
	}
	m.activeNodeExecs.Set(float64(n))
}

func (m *PrometheusMetrics) IncActiveNodeExecs() {
	if m == nil {
		return
	}
	m.activeNodeExecs.Inc()
}

func (m *PrometheusMetrics) DecActiveNodeExecs() {
	if m == nil {
		return
	}
	m.activeNodeExecs.Dec()
}

func (m *PrometheusMetrics) SetActiveGraphExecs(n int) {
	if m == nil {
		return
	}
	m.activeGraphExecs.Set(float64(n))
}

func (m *PrometheusMetrics) IncActiveGraphExecs() {
	if m == nil {
		return
	}
	m.activeGraphExecs.Inc()
}

func (m *PrometheusMetrics) DecActiveGraphExecs() {
	if m == nil {
		return
	}
	m.activeGraphExecs.Dec()
}

func (m *PrometheusMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
