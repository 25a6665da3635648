package remote

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports remote call volume.
type Metrics struct {
	requests *prometheus.CounterVec
}

// NewMetrics registers the remote collectors on reg. A nil registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autolender",
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Remote API attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests)
	}
	return m
}

func (m *Metrics) observe(op, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op, outcome).Inc()
}
