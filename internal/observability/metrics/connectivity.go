package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConnectivityMetrics tracks the online signal.
type ConnectivityMetrics struct {
	Online      prometheus.Gauge
	Transitions *prometheus.CounterVec
}

// NewConnectivityMetrics creates and registers the connectivity collectors.
func NewConnectivityMetrics(registry *prometheus.Registry) (*ConnectivityMetrics, error) {
	m := &ConnectivityMetrics{
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipecounter_connectivity_online",
			Help: "1 when the client believes it is online",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipecounter_connectivity_transitions_total",
			Help: "Online/offline edges observed",
		}, []string{"to"}),
	}
	m.Online.Set(1) // cold start assumes online
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordTransition records an edge to the given state.
func (m *ConnectivityMetrics) RecordTransition(online bool) {
	if m == nil {
		return
	}
	if online {
		m.Online.Set(1)
		m.Transitions.WithLabelValues("online").Inc()
		return
	}
	m.Online.Set(0)
	m.Transitions.WithLabelValues("offline").Inc()
}

// Describe implements prometheus.Collector.
func (m *ConnectivityMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Online.Describe(ch)
	m.Transitions.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *ConnectivityMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Online.Collect(ch)
	m.Transitions.Collect(ch)
}
