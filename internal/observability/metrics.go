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
	ActiveConnections  prometheus.Gauge
	ActiveCalls        prometheus.Gauge
	WSMessages         *prometheus.CounterVec
	RouterErrors       *prometheus.CounterVec
	CallEvents         *prometheus.CounterVec
	CapabilityErrors   *prometheus.CounterVec
	FanoutDeliveries   *prometheus.CounterVec
	DeliveryFailures   *prometheus.CounterVec
	TranscribeLatency  prometheus.Histogram
	TranscribeAttempts *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of live transport connections.",
		}),
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of call sessions not yet expired.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		RouterErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_errors_total",
			Help:      "Inbound messages rejected by the router, by code.",
		}, []string{"code"}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		CapabilityErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_errors_total",
			Help:      "External capability failures by operation and code.",
		}, []string{"op", "code"}),
		FanoutDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_deliveries_total",
			Help:      "Observer fan-out deliveries by event kind and outcome.",
		}, []string{"kind", "outcome"}),
		DeliveryFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Directed and broadcast send failures by reason.",
		}, []string{"reason"}),
		TranscribeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcribe_latency_ms",
			Help:      "Latency of transcription attempts in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000},
		}),
		TranscribeAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcribe_attempts_total",
			Help:      "Transcription attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveTranscribeLatency(d time.Duration) {
	m.TranscribeLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
