// Package analyzer sends captured images to the remote pipe classifier and
// turns its answer into analysis records.
package analyzer

import (
	"context"
	"time"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/model"
	"github.com/tphakala/pipecounter/internal/observability/metrics"
)

// FailureMessage is the only text about a failed analysis that reaches users.
const FailureMessage = "The AI model could not process the image. It might be too blurry or in an unsupported format. Please try again."

// Analyzer classifies one image. Implementations mint the analysis_ id of the
// returned record and fail with a CategoryAnalysis error.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, loc *model.Location) (*model.AnalysisRecord, error)
}

// Func adapts a function to Analyzer.
type Func func(ctx context.Context, image []byte, loc *model.Location) (*model.AnalysisRecord, error)

// Analyze calls f.
func (f Func) Analyze(ctx context.Context, image []byte, loc *model.Location) (*model.AnalysisRecord, error) {
	return f(ctx, image, loc)
}

// Failed wraps err as an analysis failure carrying FailureMessage.
func Failed(err error, provider string) error {
	return errors.New(err).
		Component("analyzer").
		Category(errors.CategoryAnalysis).
		Context("provider", provider).
		UserMessage(FailureMessage).
		Build()
}

// Instrumented records call counts and latencies of a under provider.
func Instrumented(a Analyzer, provider string, m *metrics.AnalyzerMetrics) Analyzer {
	if m == nil {
		return a
	}
	return Func(func(ctx context.Context, image []byte, loc *model.Location) (*model.AnalysisRecord, error) {
		start := time.Now()
		rec, err := a.Analyze(ctx, image, loc)
		m.ObserveCall("analyze", provider, err, time.Since(start))
		if err == nil && rec != nil {
			m.ObserveDetections(rec.Counts.Total)
		}
		return rec, err
	})
}
