package metrics

import "github.com/prometheus/client_golang/prometheus"

// RealtimeMetrics tracks live connections and fan-out volume.
type RealtimeMetrics struct {
	connections prometheus.Gauge
	broadcasts  *prometheus.CounterVec
	dropped     prometheus.Counter
}

func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	if reg == nil {
		return &RealtimeMetrics{}
	}
	connections := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_connections",
		Help:      "Open websocket connections.",
	})
	broadcasts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_broadcasts_total",
		Help:      "Events broadcast by channel kind.",
	}, []string{"kind"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_dropped_total",
		Help:      "Events dropped because a subscriber was too slow.",
	})
	reg.MustRegister(connections, broadcasts, dropped)
	return &RealtimeMetrics{connections: connections, broadcasts: broadcasts, dropped: dropped}
}

func (m *RealtimeMetrics) ConnectionOpened() {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Inc()
}

func (m *RealtimeMetrics) ConnectionClosed() {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Dec()
}

func (m *RealtimeMetrics) IncBroadcast(kind string) {
	if m == nil || m.broadcasts == nil {
		return
	}
	m.broadcasts.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *RealtimeMetrics) IncDropped() {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.Inc()
}
