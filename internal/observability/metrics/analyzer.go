package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AnalyzerMetrics tracks calls to the remote analyzer and the other
// collaborators (feedback, inventory).
type AnalyzerMetrics struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	detections   prometheus.Histogram
}

// NewAnalyzerMetrics creates and registers the analyzer collectors.
func NewAnalyzerMetrics(registry *prometheus.Registry) (*AnalyzerMetrics, error) {
	m := &AnalyzerMetrics{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipecounter_collaborator_calls_total",
			Help: "Calls to external collaborators by operation, provider and result",
		}, []string{"operation", "provider", "result"}), // operation: analyze, feedback, inventory
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipecounter_collaborator_call_duration_seconds",
			Help:    "Latency of collaborator calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"operation", "provider"}),
		detections: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipecounter_analysis_detections",
			Help:    "Pipes detected per successful analysis",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200, 500},
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveCall records one collaborator call.
func (m *AnalyzerMetrics) ObserveCall(operation, provider string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.callsTotal.WithLabelValues(operation, provider, result).Inc()
	m.callDuration.WithLabelValues(operation, provider).Observe(elapsed.Seconds())
}

// ObserveDetections records the pipe count of a successful analysis.
func (m *AnalyzerMetrics) ObserveDetections(n int) {
	if m == nil {
		return
	}
	m.detections.Observe(float64(n))
}

// Describe implements prometheus.Collector.
func (m *AnalyzerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.callsTotal.Describe(ch)
	m.callDuration.Describe(ch)
	m.detections.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *AnalyzerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.callsTotal.Collect(ch)
	m.callDuration.Collect(ch)
	m.detections.Collect(ch)
}
