// Package feedback submits human-verified corrections back to the model
// training pipeline.
package feedback

import (
	"context"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/httpclient"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
)

const (
	// ReceivedMessage confirms a submission.
	ReceivedMessage = "AI feedback received. The model will be improved with your corrections."
	// FailedMessage is shown when a submission fails.
	FailedMessage = "Feedback could not be submitted. Please try again."

	// DefaultMockDelay matches the latency of the training endpoint.
	DefaultMockDelay = time.Second
)

// Submitter delivers one verified record and returns the message to show.
type Submitter interface {
	Submit(ctx context.Context, rec model.AnalysisRecord) (string, error)
}

// Payload is what the training endpoint receives.
type Payload struct {
	ID          string            `json:"id"`
	Model       string            `json:"model"`
	Corrections []model.Detection `json:"corrections"`
}

// NewPayload builds the submission for rec.
func NewPayload(rec model.AnalysisRecord) Payload {
	corrections := rec.Detections
	if corrections == nil {
		corrections = []model.Detection{}
	}
	return Payload{ID: rec.ID, Model: rec.Source.ModelVersion, Corrections: corrections}
}

// HTTPSubmitter posts the payload as JSON.
type HTTPSubmitter struct {
	client   *httpclient.Client
	endpoint string
	log      logger.Logger
}

// NewHTTPSubmitter posts to endpoint through client.
func NewHTTPSubmitter(client *httpclient.Client, endpoint string, log logger.Logger) *HTTPSubmitter {
	if log == nil {
		log = GetLogger()
	}
	return &HTTPSubmitter{client: client, endpoint: endpoint, log: log}
}

// Submit implements Submitter. A "message" field in the reply replaces the
// default confirmation.
func (s *HTTPSubmitter) Submit(ctx context.Context, rec model.AnalysisRecord) (string, error) {
	body, err := s.client.PostJSON(ctx, s.endpoint, NewPayload(rec), nil)
	if err != nil {
		s.log.Warn("feedback submission failed", logger.String("record_id", rec.ID), logger.Error(err))
		return "", errors.New(err).
			Component("feedback").
			Category(errors.CategoryIntegration).
			Context("record_id", rec.ID).
			UserMessage(FailedMessage).
			Build()
	}

	msg := ReceivedMessage
	if reply, err := jason.NewObjectFromBytes(body); err == nil {
		if m, err := reply.GetString("message"); err == nil && m != "" {
			msg = m
		}
	}
	s.log.Info("feedback submitted",
		logger.String("record_id", rec.ID),
		logger.Int("corrections", len(rec.Detections)))
	return msg, nil
}

// MockSubmitter logs the payload and always succeeds after Delay.
type MockSubmitter struct {
	Delay time.Duration
	log   logger.Logger
}

// NewMockSubmitter returns a submitter with the default delay.
func NewMockSubmitter(log logger.Logger) *MockSubmitter {
	if log == nil {
		log = GetLogger()
	}
	return &MockSubmitter{Delay: DefaultMockDelay, log: log}
}

// Submit implements Submitter.
func (m *MockSubmitter) Submit(ctx context.Context, rec model.AnalysisRecord) (string, error) {
	p := NewPayload(rec)
	m.log.Info("submitting feedback for model fine-tuning",
		logger.String("id", p.ID),
		logger.String("model", p.Model),
		logger.Int("corrections", len(p.Corrections)))

	if m.Delay > 0 {
		t := time.NewTimer(m.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", errors.New(ctx.Err()).
				Component("feedback").
				Category(errors.CategoryCancellation).
				UserMessage(FailedMessage).
				Build()
		case <-t.C:
		}
	}
	return ReceivedMessage, nil
}

// GetLogger returns the package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("feedback")
}
