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
	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	FramesIngested prometheus.Counter
	WSMessages     *prometheus.CounterVec
	JobEvents      *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	ProviderErrors *prometheus.CounterVec
	SweptSessions  prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions with at least one connected participant.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		FramesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_ingested_total",
			Help:      "Frames decoded and written to session storage.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		JobEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mesh_job_events_total",
			Help:      "Mesh generation job outcomes by strategy and result.",
		}, []string{"strategy", "result"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mesh_job_duration_seconds",
			Help:      "Mesh generation job duration by strategy.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 120, 300, 480},
		}, []string{"strategy"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		SweptSessions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_sessions_total",
			Help:      "Expired session directories removed by the janitor.",
		}),
	}
}

func (m *Metrics) ObserveJob(strategy, result string, d time.Duration) {
	m.JobEvents.WithLabelValues(strategy, result).Inc()
	m.JobDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
