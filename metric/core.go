package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the Prometheus namespace for all entitystream metrics.
const Namespace = "entitystream"

// Core contains platform-level metrics shared across components.
type Core struct {
	// Event pipeline metrics
	EventsPublished  *prometheus.CounterVec
	EventsDelivered  *prometheus.CounterVec
	DeliveriesFailed *prometheus.CounterVec
	DeliveryRetries  prometheus.Counter
	DeliveryDuration *prometheus.HistogramVec
	QueueDepth       *prometheus.GaugeVec

	// Fan-out metrics
	SubscribersActive prometheus.Gauge
	ConnectionsActive *prometheus.GaugeVec
	FanoutDropped     prometheus.Counter

	// Analysis metrics
	FindingsTotal *prometheus.CounterVec

	// Bus metrics
	BusConnected  prometheus.Gauge
	BusReconnects prometheus.Counter
}

// NewCore creates a new Core instance with all platform metrics
func NewCore() *Core {
	return &Core{
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total number of events accepted for distribution",
			},
			[]string{"entity_type", "event_type"},
		),

		EventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "delivered_total",
				Help:      "Total number of events successfully delivered",
			},
			[]string{"destination"},
		),

		DeliveriesFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "failed_total",
				Help:      "Total number of terminally failed deliveries",
			},
			[]string{"destination"},
		),

		DeliveryRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "retries_total",
				Help:      "Total number of delivery retry attempts scheduled",
			},
		),

		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "delivery_duration_seconds",
				Help:      "Time spent in a single delivery attempt",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"destination"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Current number of pending items per destination queue",
			},
			[]string{"destination"},
		),

		SubscribersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "subscribers_active",
				Help:      "Number of currently registered subscriptions",
			},
		),

		ConnectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "connections_active",
				Help:      "Number of live client connections per transport",
			},
			[]string{"transport"},
		),

		FanoutDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "fanout_dropped_total",
				Help:      "Events dropped because a subscriber buffer was full",
			},
		),

		FindingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "analysis",
				Name:      "findings_total",
				Help:      "Patterns, correlations, and anomalies detected",
			},
			[]string{"kind", "type"},
		),

		BusConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "connected",
				Help:      "NATS connection status (1=connected, 0=disconnected)",
			},
		),

		BusReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnects",
			},
		),
	}
}

// collectors returns every core metric for bulk registration.
func (c *Core) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.EventsPublished,
		c.EventsDelivered,
		c.DeliveriesFailed,
		c.DeliveryRetries,
		c.DeliveryDuration,
		c.QueueDepth,
		c.SubscribersActive,
		c.ConnectionsActive,
		c.FanoutDropped,
		c.FindingsTotal,
		c.BusConnected,
		c.BusReconnects,
	}
}
