package metrics

import "github.com/prometheus/client_golang/prometheus"

// StorageMetrics tracks the queue and history stores.
type StorageMetrics struct {
	QueueDepth     prometheus.Gauge
	HistoryRecords prometheus.Gauge
	EnqueuedTotal  prometheus.Counter
	ErrorsTotal    *prometheus.CounterVec
}

// NewStorageMetrics creates and registers the storage collectors.
func NewStorageMetrics(registry *prometheus.Registry) (*StorageMetrics, error) {
	m := &StorageMetrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipecounter_queue_depth",
			Help: "Number of captures waiting for connectivity",
		}),
		HistoryRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipecounter_history_records",
			Help: "Number of records in history",
		}),
		EnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipecounter_queue_enqueued_total",
			Help: "Total number of captures queued while offline",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipecounter_storage_errors_total",
			Help: "Storage failures by store",
		}, []string{"store"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// SetQueueDepth reports the current queue size.
func (m *StorageMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetHistoryRecords reports the current history length.
func (m *StorageMetrics) SetHistoryRecords(n int) {
	if m == nil {
		return
	}
	m.HistoryRecords.Set(float64(n))
}

// RecordEnqueue counts one queued capture.
func (m *StorageMetrics) RecordEnqueue() {
	if m == nil {
		return
	}
	m.EnqueuedTotal.Inc()
}

// RecordError counts a storage failure in store ("queue" or "history").
func (m *StorageMetrics) RecordError(store string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(store).Inc()
}

// Describe implements prometheus.Collector.
func (m *StorageMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.QueueDepth.Describe(ch)
	m.HistoryRecords.Describe(ch)
	m.EnqueuedTotal.Describe(ch)
	m.ErrorsTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *StorageMetrics) Collect(ch chan<- prometheus.Metric) {
	m.QueueDepth.Collect(ch)
	m.HistoryRecords.Collect(ch)
	m.EnqueuedTotal.Collect(ch)
	m.ErrorsTotal.Collect(ch)
}
