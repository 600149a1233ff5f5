package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveRequests    prometheus.Gauge
	RequestsTotal     *prometheus.CounterVec
	StageLatency      *prometheus.HistogramVec
	StageFailures     *prometheus.CounterVec
	RoutingDecisions  *prometheus.CounterVec
	Evictions         prometheus.Counter
	SummariesWritten  prometheus.Counter
	IndexWrites       *prometheus.CounterVec
	GuardrailVerdicts *prometheus.CounterVec
	CommitLatency     prometheus.Histogram
	SessionEvents     *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveRequests: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of pipeline requests currently in flight.",
		}),
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Pipeline requests by terminal state.",
		}, []string{"state"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Collaborator stage call latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"stage"}),
		StageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Collaborator stage failures by stage and kind.",
		}, []string{"stage", "kind"}),
		RoutingDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by branch.",
		}, []string{"branch"}),
		Evictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hot_buffer_evictions_total",
			Help:      "Turns evicted from the hot buffer into the episodic store.",
		}),
		SummariesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_written_total",
			Help:      "Conversation summaries written to the episodic store.",
		}),
		IndexWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "semantic_index_writes_total",
			Help:      "Semantic index writes by result.",
		}, []string{"result"}),
		GuardrailVerdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_verdicts_total",
			Help:      "Guardrail verdicts by outcome.",
		}, []string{"verdict"}),
		CommitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_latency_ms",
			Help:      "Memory commit latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_session_events_total",
			Help:      "Chat session lifecycle events.",
		}, []string{"event"}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_chat_sessions",
			Help:      "Chat sessions with recent activity.",
		}),
	}
}

func (m *Metrics) ObserveStageLatency(stage string, d time.Duration) {
	m.StageLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveCommitLatency(d time.Duration) {
	m.CommitLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
