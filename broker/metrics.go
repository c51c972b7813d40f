package broker

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dtalk_ack_adapter"

// Metrics groups the counters updated by the broker.
type Metrics struct {
	IncomingAcks  prometheus.Counter
	OutgoingAcks  prometheus.Counter
	InvalidAcks   prometheus.Counter
	DuplicateAcks prometheus.Counter
}

// NewMetrics returns unregistered broker metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		IncomingAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "incoming_acks_total",
			Help:      "The total number of acks received.",
		}),
		OutgoingAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "outgoing_acks_total",
			Help:      "The total number of acks published.",
		}),
		InvalidAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invalid_acks_total",
			Help:      "The total number of acks that could not be decoded or validated.",
		}),
		DuplicateAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "duplicate_acks_total",
			Help:      "The total number of acks delivered more than once.",
		}),
	}
}

// Register adds the metrics to the given registerer.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.IncomingAcks, m.OutgoingAcks, m.InvalidAcks, m.DuplicateAcks} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
