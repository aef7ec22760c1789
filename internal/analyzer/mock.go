package analyzer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
)

// Mock defaults.
const (
	DefaultMockMinDelay    = time.Second
	DefaultMockMaxDelay    = 2 * time.Second
	DefaultMockFailureRate = 0.05

	MockModelVersion = "mock-pipe-detector"
	providerMock     = "mock"
)

// MockConfig configures MockAnalyzer.
type MockConfig struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	FailureRate float64
	Seed        uint64 // 0 seeds from the clock
}

// MockAnalyzer fabricates plausible detections after a random delay and fails
// a configurable share of calls.
type MockAnalyzer struct {
	cfg MockConfig
	log logger.Logger

	mu  sync.Mutex
	rnd *rand.Rand

	// sleep waits for d or until ctx ends.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewMock returns a mock analyzer. Negative or inverted delays are corrected.
func NewMock(cfg MockConfig, log logger.Logger) *MockAnalyzer {
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	cfg.FailureRate = min(max(cfg.FailureRate, 0), 1)
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if log == nil {
		log = logger.Global().Module("analyzer")
	}
	return &MockAnalyzer{
		cfg:   cfg,
		log:   log,
		rnd:   rand.New(rand.NewPCG(seed, seed>>1|1)),
		sleep: sleepContext,
		now:   time.Now,
	}
}

// Analyze implements Analyzer.
func (m *MockAnalyzer) Analyze(ctx context.Context, image []byte, loc *model.Location) (*model.AnalysisRecord, error) {
	m.mu.Lock()
	delay := m.cfg.MinDelay
	if spread := m.cfg.MaxDelay - m.cfg.MinDelay; spread > 0 {
		delay += time.Duration(m.rnd.Int64N(int64(spread)))
	}
	fail := m.rnd.Float64() < m.cfg.FailureRate
	detections := m.fabricateLocked()
	confidence := 0.7 + m.rnd.Float64()*0.3
	m.mu.Unlock()

	if err := m.sleep(ctx, delay); err != nil {
		return nil, Failed(err, providerMock)
	}
	if len(image) == 0 {
		return nil, Failed(fmt.Errorf("empty image"), providerMock)
	}
	if fail {
		m.log.Debug("mock analyzer injected failure", logger.Duration("delay", delay))
		return nil, Failed(fmt.Errorf("injected failure"), providerMock)
	}

	counts := model.RecomputeCounts(detections)
	notes := fmt.Sprintf("Detected %d pipes: %d small, %d medium, %d large, %d unknown.",
		counts.Total, counts.BySize[model.SizeSmall], counts.BySize[model.SizeMedium],
		counts.BySize[model.SizeLarge], counts.BySize[model.SizeUnknown])
	rec := model.NewAIRecord(image, loc, detections, confidence, notes, MockModelVersion, m.now())
	return &rec, nil
}

// fabricateLocked lays pipes out on a grid so boxes never overlap.
func (m *MockAnalyzer) fabricateLocked() []model.Detection {
	const cols, cell = 8, 12.5
	n := 3 + m.rnd.IntN(22)
	out := make([]model.Detection, n)
	for i := range out {
		out[i] = model.Detection{
			Size: model.Sizes[m.rnd.IntN(len(model.Sizes))],
			BoundingBox: model.BoundingBox{
				X:      float64(i%cols) * cell,
				Y:      float64(i/cols) * cell,
				Width:  cell * 0.9,
				Height: cell * 0.9,
			},
			Confidence: 0.6 + m.rnd.Float64()*0.4,
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
