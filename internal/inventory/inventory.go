// Package inventory pushes verified pipe counts to the stock system.
package inventory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
)

// UnavailableMessage is shown when a sync attempt fails.
const UnavailableMessage = "Inventory system temporarily unavailable. Please retry."

// Syncer delivers one record to the inventory system and returns the message
// to show the user.
type Syncer interface {
	Sync(ctx context.Context, rec model.AnalysisRecord) (string, error)
}

// SuccessMessage is the confirmation for a synced record.
func SuccessMessage(id string) string {
	return "Inventory sync successful for Analysis ID: " + model.ShortID(id)
}

func unavailable(err error, provider string) error {
	return errors.New(err).
		Component("inventory").
		Category(errors.CategoryIntegration).
		Context("provider", provider).
		UserMessage(UnavailableMessage).
		Build()
}

// Mock defaults.
const (
	DefaultMockDelay       = 1500 * time.Millisecond
	DefaultMockSuccessRate = 0.9
)

// MockSyncer accepts a share of records after a fixed delay.
type MockSyncer struct {
	Delay       time.Duration
	SuccessRate float64

	mu  sync.Mutex
	rnd *rand.Rand
	log logger.Logger
}

// NewMockSyncer returns a syncer with the default delay and success rate.
// seed 0 seeds from the clock.
func NewMockSyncer(seed uint64, log logger.Logger) *MockSyncer {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if log == nil {
		log = GetLogger()
	}
	return &MockSyncer{
		Delay:       DefaultMockDelay,
		SuccessRate: DefaultMockSuccessRate,
		rnd:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		log:         log,
	}
}

// Sync implements Syncer.
func (m *MockSyncer) Sync(ctx context.Context, rec model.AnalysisRecord) (string, error) {
	if m.Delay > 0 {
		t := time.NewTimer(m.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", unavailable(ctx.Err(), "mock")
		case <-t.C:
		}
	}

	m.mu.Lock()
	ok := m.rnd.Float64() < m.SuccessRate
	m.mu.Unlock()

	if !ok {
		m.log.Debug("mock inventory rejected record", logger.String("record_id", rec.ID))
		return "", unavailable(fmt.Errorf("mock inventory rejected %s", rec.ID), "mock")
	}
	return SuccessMessage(rec.ID), nil
}

// GetLogger returns the package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("inventory")
}
