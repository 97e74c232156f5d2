package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricConnections      = "alert_connections"
	MetricBroadcasts       = "alert_broadcasts_total"
	MetricDeliveries       = "alert_deliveries_total"
	MetricDeliveryFailures = "alert_delivery_failures_total"
)

// Metrics contains Prometheus metrics for the alert broadcaster.
// All operations are thread-safe.
type Metrics struct {
	connections      prometheus.Gauge
	broadcasts       prometheus.Counter
	deliveries       prometheus.Counter
	deliveryFailures prometheus.Counter
}

// NewMetrics creates a Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricConnections,
			Help: "Number of live monitoring connections",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricBroadcasts,
			Help: "Total number of report broadcast events",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDeliveries,
			Help: "Total number of successful per-connection deliveries",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDeliveryFailures,
			Help: "Total number of failed deliveries that dropped a connection",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.connections,
		m.broadcasts,
		m.deliveries,
		m.deliveryFailures,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// SetConnections records the current size of the connection set.
func (m *Metrics) SetConnections(n int) {
	m.connections.Set(float64(n))
}

// IncBroadcasts increments the broadcast events counter.
func (m *Metrics) IncBroadcasts() {
	m.broadcasts.Inc()
}

// IncDeliveries increments the successful deliveries counter.
func (m *Metrics) IncDeliveries() {
	m.deliveries.Inc()
}

// IncDeliveryFailures increments the failed deliveries counter.
func (m *Metrics) IncDeliveryFailures() {
	m.deliveryFailures.Inc()
}
