package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pass results.
const (
	PassCompleted = "completed"
	PassEmpty     = "empty"
	PassFailed    = "failed"
)

// SyncMetrics tracks the sync orchestrator.
type SyncMetrics struct {
	PassesTotal     *prometheus.CounterVec
	ItemsTotal      *prometheus.CounterVec
	PassDuration    prometheus.Histogram
	IgnoredTriggers prometheus.Counter
	InProgress      prometheus.Gauge
}

// NewSyncMetrics creates and registers the sync collectors.
func NewSyncMetrics(registry *prometheus.Registry) (*SyncMetrics, error) {
	m := &SyncMetrics{
		PassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipecounter_sync_passes_total",
			Help: "Total number of sync passes by result",
		}, []string{"result"}),
		ItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipecounter_sync_items_total",
			Help: "Total number of replayed captures by outcome",
		}, []string{"outcome"}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipecounter_sync_pass_duration_seconds",
			Help:    "Duration of non-empty sync passes",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		IgnoredTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipecounter_sync_ignored_triggers_total",
			Help: "Sync triggers dropped because a pass was already running",
		}),
		InProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipecounter_sync_in_progress",
			Help: "1 while a sync pass is running",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordPass records a finished pass.
func (m *SyncMetrics) RecordPass(result string, synced, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(result).Inc()
	if result == PassEmpty {
		return
	}
	m.ItemsTotal.WithLabelValues("synced").Add(float64(synced))
	m.ItemsTotal.WithLabelValues("failed").Add(float64(failed))
	m.PassDuration.Observe(elapsed.Seconds())
}

// RecordIgnoredTrigger counts a dropped trigger.
func (m *SyncMetrics) RecordIgnoredTrigger() {
	if m == nil {
		return
	}
	m.IgnoredTriggers.Inc()
}

// SetInProgress flips the in-progress gauge.
func (m *SyncMetrics) SetInProgress(running bool) {
	if m == nil {
		return
	}
	if running {
		m.InProgress.Set(1)
		return
	}
	m.InProgress.Set(0)
}

// Describe implements prometheus.Collector.
func (m *SyncMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.PassesTotal.Describe(ch)
	m.ItemsTotal.Describe(ch)
	m.PassDuration.Describe(ch)
	m.IgnoredTriggers.Describe(ch)
	m.InProgress.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *SyncMetrics) Collect(ch chan<- prometheus.Metric) {
	m.PassesTotal.Collect(ch)
	m.ItemsTotal.Collect(ch)
	m.PassDuration.Collect(ch)
	m.IgnoredTriggers.Collect(ch)
	m.InProgress.Collect(ch)
}
