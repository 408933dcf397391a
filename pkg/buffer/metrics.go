package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/entitystream/metric"
)

// ringMetrics holds Prometheus metrics for ring operations.
type ringMetrics struct {
	writes  prometheus.Counter
	drops   prometheus.Counter
	expires prometheus.Counter

	size        prometheus.Gauge
	utilization prometheus.Gauge
}

// newRingMetrics creates and registers ring metrics with the provided registry.
func newRingMetrics(registry *metric.Registry, prefix string) (*ringMetrics, error) {
	m := &ringMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "ring",
			Name:        "writes_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of ring append operations",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "ring",
			Name:        "drops_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of items displaced by capacity",
		}),
		expires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "ring",
			Name:        "expires_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of items evicted by age",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "ring",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of retained items",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "ring",
			Name:        "utilization",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Ring fill ratio (0.0 to 1.0)",
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"writes_total":  m.writes,
		"drops_total":   m.drops,
		"expires_total": m.expires,
		"size":          m.size,
		"utilization":   m.utilization,
	} {
		if err := registry.Register(prefix+"_ring", name, c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *ringMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *ringMetrics) recordDrop() {
	m.drops.Inc()
}

func (m *ringMetrics) recordExpire() {
	m.expires.Inc()
}

func (m *ringMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	if capacity > 0 {
		m.utilization.Set(float64(size) / float64(capacity))
	}
}
