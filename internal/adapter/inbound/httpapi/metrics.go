package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gate service.
type Metrics struct {
	RequestsTotal           *prometheus.CounterVec
	RequestDuration         *prometheus.HistogramVec
	GateDenialsTotal        *prometheus.CounterVec
	RateLimitedTotal        *prometheus.CounterVec
	SessionTransitionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pacegate",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"path", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pacegate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		GateDenialsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pacegate",
				Name:      "gate_denials_total",
				Help:      "Terminal gate denials by gate and response code",
			},
			[]string{"gate", "code"},
		),
		RateLimitedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pacegate",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the abuse limiter, by scope",
			},
			[]string{"scope"},
		),
		SessionTransitionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pacegate",
				Name:      "session_transitions_total",
				Help:      "Session lifecycle transitions observed at resolution",
			},
			[]string{"event"},
		),
	}
}

// RegisterAuditDrops exposes the audit drop counter as a gauge sourced from
// the audit service itself.
func RegisterAuditDrops(reg prometheus.Registerer, dropped func() int64) {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "pacegate",
			Name:      "audit_dropped_events",
			Help:      "Audit events dropped due to backpressure",
		},
		func() float64 { return float64(dropped()) },
	)
}
