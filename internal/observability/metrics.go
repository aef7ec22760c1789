package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry     *prometheus.Registry
	Sync         *metrics.SyncMetrics
	Storage      *metrics.StorageMetrics
	Analyzer     *metrics.AnalyzerMetrics
	HTTP         *metrics.HTTPMetrics
	Connectivity *metrics.ConnectivityMetrics
	MQTT         *metrics.MQTTMetrics
}

// NewMetrics creates a private registry with every collector registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	syncMetrics, err := metrics.NewSyncMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}
	storageMetrics, err := metrics.NewStorageMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage metrics: %w", err)
	}
	analyzerMetrics, err := metrics.NewAnalyzerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer metrics: %w", err)
	}
	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}
	connectivityMetrics, err := metrics.NewConnectivityMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectivity metrics: %w", err)
	}
	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	return &Metrics{
		registry:     registry,
		Sync:         syncMetrics,
		Storage:      storageMetrics,
		Analyzer:     analyzerMetrics,
		HTTP:         httpMetrics,
		Connectivity: connectivityMetrics,
		MQTT:         mqttMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogAdapter{},
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// promLogAdapter routes promhttp errors to the package logger.
type promLogAdapter struct{}

func (promLogAdapter) Println(v ...any) {
	GetLogger().Error("metrics handler error", logger.String("detail", fmt.Sprint(v...)))
}
