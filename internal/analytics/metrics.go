package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for analytics delivery.
type Metrics struct {
	Delivered           prometheus.Counter
	Dropped             *prometheus.CounterVec
	DeliveryFailures    prometheus.Counter
	CircuitBreakerState prometheus.Gauge
}

// NewMetrics registers analytics metrics on reg, or on the default registry
// when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Delivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "qx7_analytics_delivered_total",
			Help: "Total number of analytics events delivered to the sink",
		}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qx7_analytics_dropped_total",
			Help: "Total number of analytics events dropped before delivery",
		}, []string{"reason"}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "qx7_analytics_delivery_failures_total",
			Help: "Total number of analytics delivery attempts that failed",
		}),
		CircuitBreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "qx7_analytics_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

func (m *Metrics) IncDelivered() {
	m.Delivered.Inc()
}

// IncDropped counts a dropped event. reason is one of "buffer_full",
// "circuit_open" or "closed".
func (m *Metrics) IncDropped(reason string) {
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncDeliveryFailures() {
	m.DeliveryFailures.Inc()
}

func (m *Metrics) SetCircuitBreakerState(open bool) {
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}
