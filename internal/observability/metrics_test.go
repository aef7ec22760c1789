package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pipecounter/internal/observability/metrics"
)

// Each call builds its own registry, so concurrent construction must not
// collide on registration.
func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if err != nil {
				t.Errorf("NewMetrics failed: %v", err)
				return
			}
			if m.Sync == nil || m.Storage == nil || m.Analyzer == nil || m.HTTP == nil || m.Connectivity == nil || m.MQTT == nil {
				t.Error("collector left nil")
			}
		})
	}
	wg.Wait()
}

func TestSyncMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Sync.RecordPass(metrics.PassCompleted, 3, 1, 2*time.Second)
	m.Sync.RecordPass(metrics.PassEmpty, 0, 0, 0)
	m.Sync.RecordIgnoredTrigger()
	m.Sync.SetInProgress(true)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Sync.PassesTotal.WithLabelValues(metrics.PassCompleted)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Sync.PassesTotal.WithLabelValues(metrics.PassEmpty)), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.Sync.ItemsTotal.WithLabelValues("synced")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Sync.ItemsTotal.WithLabelValues("failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Sync.IgnoredTriggers), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Sync.InProgress), 0)
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var (
		s  *metrics.SyncMetrics
		st *metrics.StorageMetrics
		a  *metrics.AnalyzerMetrics
		h  *metrics.HTTPMetrics
		c  *metrics.ConnectivityMetrics
		q  *metrics.MQTTMetrics
	)
	assert.NotPanics(t, func() {
		s.RecordPass(metrics.PassCompleted, 1, 0, time.Second)
		s.RecordIgnoredTrigger()
		s.SetInProgress(false)
		st.SetQueueDepth(1)
		st.RecordEnqueue()
		st.RecordError("queue")
		a.ObserveCall("analyze", "mock", nil, time.Second)
		a.ObserveDetections(4)
		h.RecordRequest(http.MethodGet, "/", 200, time.Millisecond)
		h.RecordOutbound("example.com", 0, time.Millisecond)
		c.RecordTransition(true)
		q.UpdateConnectionStatus(true)
		q.ObservePublish(10, time.Millisecond, nil)
	})
}

func TestConnectivityStartsOnline(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Connectivity.Online), 0)

	m.Connectivity.RecordTransition(false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.Connectivity.Online), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Connectivity.Transitions.WithLabelValues("offline")), 0)
}

func TestMetricsEndpointAndMiddleware(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	e := echo.New()
	e.Use(m.Middleware())
	m.RegisterRoutes(e)
	e.GET("/api/v1/history/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Param("id"))
	})
	e.GET("/boom", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "busy")
	})

	for _, path := range []string{"/api/v1/history/a", "/api/v1/history/b", "/boom"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `pipecounter_http_requests_total{method="GET",path="/api/v1/history/:id",status_code="200"} 2`)
	assert.Contains(t, body, `pipecounter_http_requests_total{method="GET",path="/boom",status_code="409"} 1`)
	assert.False(t, strings.Contains(body, `path="/metrics"`))
}
