package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for identity resolution.
type Metrics struct {
	Resolutions     *prometheus.CounterVec
	NotModified     prometheus.Counter
	Fallbacks       *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates the identity metrics on reg. A nil reg registers on the default
// Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qx7_identity_resolutions_total",
			Help: "Total number of identity resolutions by endpoint and persistence method",
		}, []string{"endpoint", "method"}),
		NotModified: factory.NewCounter(prometheus.CounterOpts{
			Name: "qx7_identity_not_modified_total",
			Help: "Total number of step-1 resolutions answered with 304 Not Modified",
		}),
		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qx7_identity_fallbacks_total",
			Help: "Total number of responses served from the error fallback path",
		}, []string{"endpoint"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qx7_identity_request_duration_seconds",
			Help:    "Identity endpoint latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// IncResolution counts one resolution.
func (m *Metrics) IncResolution(endpoint, method string) {
	m.Resolutions.WithLabelValues(endpoint, method).Inc()
}

// IncNotModified counts one 304 answer.
func (m *Metrics) IncNotModified() {
	m.NotModified.Inc()
}

// IncFallback counts one fallback response.
func (m *Metrics) IncFallback(endpoint string) {
	m.Fallbacks.WithLabelValues(endpoint).Inc()
}

// ObserveRequest records request latency.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.RequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
