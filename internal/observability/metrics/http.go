package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics covers the API server and outbound collaborator calls.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	outboundTotal    *prometheus.CounterVec
	outboundDuration *prometheus.HistogramVec
}

// NewHTTPMetrics creates and registers the HTTP collectors.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipecounter_http_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status_code"}, // path is the route template, e.g. /api/v1/history/:id
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipecounter_http_request_duration_seconds",
				Help:    "Time taken to serve API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		outboundTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipecounter_http_outbound_requests_total",
				Help: "Total number of outbound requests to collaborators",
			},
			[]string{"host", "status_code"}, // status_code is "error" when no response arrived
		),
		outboundDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipecounter_http_outbound_duration_seconds",
				Help:    "Latency of outbound requests",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"host"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRequest records one served API request.
func (m *HTTPMetrics) RecordRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// RecordOutbound records one outbound request. status 0 means transport error.
func (m *HTTPMetrics) RecordOutbound(host string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.outboundTotal.WithLabelValues(host, code).Inc()
	m.outboundDuration.WithLabelValues(host).Observe(elapsed.Seconds())
}

// Describe implements prometheus.Collector.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requestsTotal.Describe(ch)
	m.requestDuration.Describe(ch)
	m.outboundTotal.Describe(ch)
	m.outboundDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requestsTotal.Collect(ch)
	m.requestDuration.Collect(ch)
	m.outboundTotal.Collect(ch)
	m.outboundDuration.Collect(ch)
}
