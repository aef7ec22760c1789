package analyzer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/httpclient"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
	"github.com/tphakala/pipecounter/internal/observability/metrics"
)

const testEndpoint = "https://gemini.test/v1beta"

var generateURL = testEndpoint + "/models/" + DefaultGeminiModel + ":generateContent"

// jpegHeader is enough for content sniffing.
var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func newGemini(t *testing.T) (*GeminiAnalyzer, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: mock})
	t.Cleanup(client.Close)

	g, err := NewGemini(client, GeminiConfig{APIKey: "test-key", Endpoint: testEndpoint + "/"},
		logger.NewSlogLogger(nil, logger.LogLevelDebug, nil))
	require.NoError(t, err)
	g.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return g, mock
}

// envelope wraps a model answer the way generateContent does.
func envelope(answer string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content":      map[string]any{"parts": []any{map[string]any{"text": answer}}, "role": "model"},
			"finishReason": "STOP",
		}},
	})
	return string(b)
}

const goodAnswer = `{
  "pipes": [
    {"size": "Small", "boundingBox": {"x": 10, "y": 10, "width": 5, "height": 5}, "confidence": 0.91},
    {"size": "Large", "boundingBox": {"x": 95, "y": 50, "width": 20, "height": 10}, "confidence": 1.4},
    {"size": "Huge", "boundingBox": {"x": 30, "y": 30, "width": 5, "height": 5}, "confidence": 0.5}
  ],
  "overallConfidence": 0.87,
  "notes": "<b>3 pipes</b> &amp; one unclear"
}`

func TestGeminiAnalyzeSuccess(t *testing.T) {
	g, mock := newGemini(t)

	var sent map[string]any
	mock.RegisterResponder(http.MethodPost, generateURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "test-key", req.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &sent)
		return httpmock.NewStringResponse(http.StatusOK, envelope(goodAnswer)), nil
	})

	lat := 60.17
	rec, err := g.Analyze(t.Context(), jpegHeader, &model.Location{Latitude: &lat})
	require.NoError(t, err)

	assert.Equal(t, model.KindAnalysis, model.KindOf(rec.ID))
	assert.Equal(t, DefaultGeminiModel, rec.Source.ModelVersion)
	assert.Equal(t, model.SourceAIModel, rec.Source.Kind)
	assert.InDelta(t, 0.87, rec.Confidence, 1e-9)
	assert.Equal(t, "3 pipes & one unclear", rec.Notes)
	require.NotNil(t, rec.Location)
	assert.InDelta(t, lat, *rec.Location.Latitude, 1e-9)

	require.Len(t, rec.Detections, 3)
	assert.Equal(t, 3, rec.Counts.Total)
	assert.True(t, rec.Counts.Valid())
	assert.Equal(t, 1, rec.Counts.BySize[model.SizeUnknown], "unrecognized size maps to Unknown")

	// Normalized on the way in.
	large := rec.Detections[1]
	assert.InDelta(t, 1.0, large.Confidence, 1e-9)
	assert.InDelta(t, 5.0, large.BoundingBox.Width, 1e-9)
	assert.Equal(t, "pipe_1_1700000000000", large.ID)

	// Request carries the image inline and asks for JSON.
	contents := sent["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	inline := parts[0].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "image/jpeg", inline["mimeType"])
	assert.NotEmpty(t, inline["data"])
	gen := sent["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", gen["responseMimeType"])
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestGeminiMissingOverallConfidenceIsZero(t *testing.T) {
	g, mock := newGemini(t)
	mock.RegisterResponder(http.MethodPost, generateURL,
		httpmock.NewStringResponder(http.StatusOK, envelope(`{"pipes": [], "notes": "nothing"}`)))

	rec, err := g.Analyze(t.Context(), jpegHeader, nil)
	require.NoError(t, err)
	assert.Zero(t, rec.Confidence)
	assert.Zero(t, rec.Counts.Total)
	assert.Nil(t, rec.Location)
}

func TestGeminiFailuresAreAnalysisErrors(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"server error", httpmock.NewStringResponder(http.StatusInternalServerError, `{"error":{"message":"boom"}}`)},
		{"quota", httpmock.NewStringResponder(http.StatusTooManyRequests, `{}`)},
		{"not json", httpmock.NewStringResponder(http.StatusOK, `<html>oops</html>`)},
		{"no candidates", httpmock.NewStringResponder(http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`)},
		{"answer not json", httpmock.NewStringResponder(http.StatusOK, envelope("Sorry, I cannot help"))},
		{"transport error", httpmock.NewErrorResponder(io.ErrUnexpectedEOF)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, mock := newGemini(t)
			mock.RegisterResponder(http.MethodPost, generateURL, tt.responder)

			rec, err := g.Analyze(t.Context(), jpegHeader, nil)
			require.Error(t, err)
			assert.Nil(t, rec)
			assert.True(t, errors.IsAnalysisFailed(err))
			assert.Equal(t, FailureMessage, errors.UserMessage(err, ""))
		})
	}
}

func TestGeminiEmptyImage(t *testing.T) {
	g, mock := newGemini(t)
	_, err := g.Analyze(t.Context(), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsAnalysisFailed(err))
	assert.Zero(t, mock.GetTotalCallCount())
}

func TestGeminiRequiresAPIKey(t *testing.T) {
	_, err := NewGemini(httpclient.New(nil), GeminiConfig{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestGeminiRateLimiterHonorsContext(t *testing.T) {
	mock := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: mock})
	t.Cleanup(client.Close)
	g, err := NewGemini(client, GeminiConfig{APIKey: "k", Endpoint: testEndpoint, RateLimit: 0.001}, nil)
	require.NoError(t, err)
	mock.RegisterResponder(http.MethodPost, generateURL,
		httpmock.NewStringResponder(http.StatusOK, envelope(`{"pipes": [], "overallConfidence": 1, "notes": ""}`)))

	// First call consumes the single token.
	_, err = g.Analyze(t.Context(), jpegHeader, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Analyze(ctx, jpegHeader, nil)
	require.Error(t, err)
	assert.True(t, errors.IsAnalysisFailed(err))
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestPlainNotes(t *testing.T) {
	assert.Equal(t, "plain", plainNotes("  plain \n"))
	assert.Equal(t, "a & b", plainNotes("a &amp; b"))
	assert.Equal(t, "bold", plainNotes("<strong>bold</strong>"))
	// NFD e + combining acute composes to a single rune.
	assert.Equal(t, "caf\u00e9", plainNotes("cafe\u0301"))
}

func newTestMock(cfg MockConfig) *MockAnalyzer {
	cfg.Seed = 42
	m := NewMock(cfg, logger.NewSlogLogger(nil, logger.LogLevelDebug, nil))
	m.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return m
}

func TestMockAnalyzerSuccess(t *testing.T) {
	m := newTestMock(MockConfig{MinDelay: time.Second, MaxDelay: 2 * time.Second})

	var delays []time.Duration
	m.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	for range 5 {
		rec, err := m.Analyze(t.Context(), jpegHeader, nil)
		require.NoError(t, err)
		assert.Equal(t, model.KindAnalysis, model.KindOf(rec.ID))
		assert.True(t, rec.Counts.Valid())
		assert.GreaterOrEqual(t, rec.Counts.Total, 3)
		assert.Equal(t, MockModelVersion, rec.Source.ModelVersion)
		for _, d := range rec.Detections {
			assert.LessOrEqual(t, d.BoundingBox.X+d.BoundingBox.Width, 100.0)
			assert.LessOrEqual(t, d.BoundingBox.Y+d.BoundingBox.Height, 100.0)
		}
	}
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 2*time.Second)
	}
}

func TestMockAnalyzerAlwaysFails(t *testing.T) {
	m := newTestMock(MockConfig{FailureRate: 1})
	_, err := m.Analyze(t.Context(), jpegHeader, nil)
	require.Error(t, err)
	assert.True(t, errors.IsAnalysisFailed(err))
	assert.Equal(t, FailureMessage, errors.UserMessage(err, ""))
}

func TestMockAnalyzerCancelled(t *testing.T) {
	m := newTestMock(MockConfig{})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := m.Analyze(ctx, jpegHeader, nil)
	require.Error(t, err)
	assert.True(t, errors.IsAnalysisFailed(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewMockCorrectsConfig(t *testing.T) {
	m := NewMock(MockConfig{MinDelay: -time.Second, MaxDelay: -2 * time.Second, FailureRate: 3}, nil)
	assert.Zero(t, m.cfg.MinDelay)
	assert.Zero(t, m.cfg.MaxDelay)
	assert.InDelta(t, 1.0, m.cfg.FailureRate, 0)
}

func TestInstrumented(t *testing.T) {
	reg := prometheus.NewRegistry()
	am, err := metrics.NewAnalyzerMetrics(reg)
	require.NoError(t, err)

	calls := 0
	inner := Func(func(_ context.Context, image []byte, loc *model.Location) (*model.AnalysisRecord, error) {
		calls++
		if calls == 2 {
			return nil, Failed(io.EOF, "fake")
		}
		rec := model.NewAIRecord(image, loc, []model.Detection{{Size: model.SizeSmall}}, 1, "", "fake", time.Now())
		return &rec, nil
	})
	a := Instrumented(inner, "fake", am)

	_, err = a.Analyze(t.Context(), jpegHeader, nil)
	require.NoError(t, err)
	_, err = a.Analyze(t.Context(), jpegHeader, nil)
	require.Error(t, err)

	assert.Equal(t, 2, testutil.CollectAndCount(am, "pipecounter_collaborator_calls_total"))
	assert.Equal(t, 2, calls)
}
