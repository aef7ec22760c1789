package lifecycle

import (
	"context"

	"github.com/tphakala/pipecounter/internal/analyzer"
	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
	"github.com/tphakala/pipecounter/internal/notification"
)

// CaptureResult is the record produced by a capture. Queued is set when the
// capture was stored for a later sync and Record is its placeholder.
type CaptureResult struct {
	Record model.AnalysisRecord `json:"record"`
	Queued bool                 `json:"queued"`
}

// Capture analyzes image right away when online, or queues it with a pending
// placeholder when offline.
func (c *Controller) Capture(ctx context.Context, image []byte, loc *model.Location) (CaptureResult, error) {
	if len(image) == 0 {
		return CaptureResult{}, errors.Newf("image is empty").
			Component(component).
			Category(errors.CategoryValidation).
			UserMessage("No image was provided.").
			Build()
	}
	if err := c.checkConsent(ctx); err != nil {
		return CaptureResult{}, err
	}

	if c.online != nil && !c.online.Online() {
		return c.captureOffline(ctx, image, loc)
	}

	rec, err := c.analyzer.Analyze(ctx, image, loc)
	if err != nil {
		msg := errors.UserMessage(err, analyzer.FailureMessage)
		c.log.Warn("live analysis failed", logger.Error(err))
		c.notify(notification.TypeError, "Analysis failed: "+msg)
		return CaptureResult{}, err
	}
	if err := c.history.Append(ctx, *rec); err != nil {
		c.metrics.RecordError("history")
		c.log.Error("failed to store analysis", logger.String("record_id", rec.ID), logger.Error(err))
		return CaptureResult{}, err
	}
	c.log.Info("capture analyzed",
		logger.String("record_id", rec.ID),
		logger.Int("total", rec.Counts.Total))
	return CaptureResult{Record: rec.Clone()}, nil
}

// captureOffline writes the queue first so a storage failure commits nothing.
// Both writes run under the admission lock so a sync pass never snapshots
// the capture without its placeholder.
func (c *Controller) captureOffline(ctx context.Context, image []byte, loc *model.Location) (CaptureResult, error) {
	qc := model.NewQueuedCapture(image, loc, c.now())
	placeholder := model.NewPlaceholder(qc)
	if err := c.admit(func() error { return c.enqueueWithPlaceholder(ctx, qc, placeholder) }); err != nil {
		c.notify(notification.TypeError, errors.UserMessage(err, StorageMessage))
		return CaptureResult{}, err
	}

	c.metrics.RecordEnqueue()
	c.log.Info("offline capture queued", logger.String("capture_id", qc.ID))
	c.notify(notification.TypeInfo, OfflineQueuedMessage)
	return CaptureResult{Record: placeholder, Queued: true}, nil
}

func (c *Controller) enqueueWithPlaceholder(ctx context.Context, qc model.QueuedCapture, placeholder model.AnalysisRecord) error {
	if err := c.queue.Enqueue(ctx, qc); err != nil {
		c.metrics.RecordError("queue")
		c.log.Error("failed to queue offline capture", logger.String("capture_id", qc.ID), logger.Error(err))
		return err
	}
	if err := c.history.Append(ctx, placeholder); err != nil {
		c.metrics.RecordError("history")
		if rmErr := c.queue.Remove(context.WithoutCancel(ctx), qc.ID); rmErr != nil {
			c.log.Error("failed to roll back queued capture",
				logger.String("capture_id", qc.ID),
				logger.Error(rmErr))
		}
		return err
	}
	return nil
}

func (c *Controller) admit(fn func() error) error {
	if c.admission == nil {
		return fn()
	}
	return c.admission.Admit(fn)
}

func (c *Controller) checkConsent(ctx context.Context) error {
	if !c.requireConsent {
		return nil
	}
	granted := false
	if c.consent != nil {
		var err error
		granted, err = c.consent.ConsentGranted(ctx)
		if err != nil {
			return errors.New(err).
				Component(component).
				Category(errors.CategoryStorage).
				Context("operation", "read_consent").
				Build()
		}
	}
	if !granted {
		return errors.Newf("privacy consent not granted").
			Component(component).
			Category(errors.CategoryValidation).
			UserMessage(ConsentMessage).
			Build()
	}
	return nil
}
