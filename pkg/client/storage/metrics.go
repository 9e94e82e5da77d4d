package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the storage orchestrator.
type Metrics struct {
	WriteFailures *prometheus.CounterVec
	ReadHits      *prometheus.CounterVec
	ReadErrors    *prometheus.CounterVec
	ExpiredPurges *prometheus.CounterVec
	Demotions     *prometheus.CounterVec
}

// NewMetrics registers storage metrics on reg, or on the default registry
// when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		WriteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qx7_storage_write_failures_total",
			Help: "Total number of failed backend writes",
		}, []string{"backend"}),
		ReadHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qx7_storage_read_hits_total",
			Help: "Total number of reads answered by each backend",
		}, []string{"backend"}),
		ReadErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qx7_storage_read_errors_total",
			Help: "Total number of backend read errors",
		}, []string{"backend"}),
		ExpiredPurges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qx7_storage_expired_purges_total",
			Help: "Total number of expired records purged on read",
		}, []string{"backend"}),
		Demotions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qx7_storage_demotions_total",
			Help: "Total number of backends removed from the active set",
		}, []string{"backend"}),
	}
}

func (m *Metrics) IncWriteFailure(k Kind) {
	m.WriteFailures.WithLabelValues(string(k)).Inc()
}

func (m *Metrics) IncReadHit(k Kind) {
	m.ReadHits.WithLabelValues(string(k)).Inc()
}

func (m *Metrics) IncReadError(k Kind) {
	m.ReadErrors.WithLabelValues(string(k)).Inc()
}

func (m *Metrics) IncExpiredPurge(k Kind) {
	m.ExpiredPurges.WithLabelValues(string(k)).Inc()
}

func (m *Metrics) IncDemotion(k Kind) {
	m.Demotions.WithLabelValues(string(k)).Inc()
}
