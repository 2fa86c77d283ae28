package metrics

import "github.com/prometheus/client_golang/prometheus"

// Delivery results.
const (
	DeliveryOK   = "ok"
	DeliveryGone = "gone"
	DeliverySlow = "slow"
)

// RelayMetrics holds Prometheus metrics for the broker and per-connection loops.
type RelayMetrics struct {
	ConnectedClients prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	EventsTotal      *prometheus.CounterVec
	DeliveriesTotal  *prometheus.CounterVec
	TeardownsTotal   *prometheus.CounterVec
	WriteDuration    prometheus.Histogram
	StopTimeouts     prometheus.Counter
}

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connected_clients",
			Help:      "Number of connections currently in the registry.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "Total number of connections registered.",
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "events_total",
			Help:      "Total number of events resolved by the broker, by kind.",
		}, []string{"kind"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Total number of payloads enqueued to outbound queues, by result.",
		}, []string{"result"}),
		TeardownsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "teardowns_total",
			Help:      "Total number of connection teardowns, by reason.",
		}, []string{"reason"}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "write_duration_seconds",
			Help:      "Duration of a single frame write and flush.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
		StopTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "stop_timeouts_total",
			Help:      "Relay stops that exceeded the stop timeout.",
		}),
	}

	reg.MustRegister(m.ConnectedClients, m.ConnectionsTotal, m.EventsTotal, m.DeliveriesTotal, m.TeardownsTotal, m.WriteDuration, m.StopTimeouts)
	return m
}
