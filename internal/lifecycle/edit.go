package lifecycle

import (
	"context"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/feedback"
	"github.com/tphakala/pipecounter/internal/inventory"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
	"github.com/tphakala/pipecounter/internal/notification"
)

// StartManualEntry creates a verified manual record for image. It stays an
// unsaved draft until SaveCorrections writes it to history.
func (c *Controller) StartManualEntry(image []byte, loc *model.Location) model.AnalysisRecord {
	rec := model.NewManualEntry(image, loc, c.now())
	c.mu.Lock()
	c.drafts[rec.ID] = rec
	c.mu.Unlock()
	c.log.Debug("manual entry started", logger.String("record_id", rec.ID))
	return rec.Clone()
}

// OpenCorrection marks id as being edited. Pending records cannot be edited.
func (c *Controller) OpenCorrection(id string) (model.AnalysisRecord, error) {
	rec, err := c.Get(id)
	if err != nil {
		return model.AnalysisRecord{}, err
	}
	if rec.IsPending {
		return model.AnalysisRecord{}, illegalTransition(id, StatePending, "open_correction")
	}
	c.mu.Lock()
	c.editing[id] = struct{}{}
	c.mu.Unlock()
	return rec, nil
}

// CancelCorrection leaves editing mode without saving. Unsaved manual drafts
// are discarded.
func (c *Controller) CancelCorrection(id string) {
	c.mu.Lock()
	delete(c.editing, id)
	delete(c.drafts, id)
	c.mu.Unlock()
}

// SaveCorrections replaces the detections of id, marks it verified and stores
// it. A manual draft is added to history here.
func (c *Controller) SaveCorrections(ctx context.Context, id string, detections []model.Detection) (model.AnalysisRecord, error) {
	state, err := c.State(id)
	if err != nil {
		return model.AnalysisRecord{}, err
	}
	if state != StateEditingDraft && state != StateVerified {
		return model.AnalysisRecord{}, illegalTransition(id, state, "save_corrections")
	}

	apply := func(rec *model.AnalysisRecord) error {
		if rec.IsPending {
			return illegalTransition(id, StatePending, "save_corrections")
		}
		rec.Detections = model.NormalizeDetections(detections, c.now())
		rec.Counts = model.RecomputeCounts(rec.Detections)
		rec.Verified = true
		rec.FeedbackSubmitted = false
		c.mu.Lock()
		c.revisions[id]++
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	draft, isDraft := c.drafts[id]
	c.mu.Unlock()

	var saved model.AnalysisRecord
	if isDraft {
		_ = apply(&draft)
		if _, err := c.history.Upsert(ctx, draft); err != nil {
			c.metrics.RecordError("history")
			return model.AnalysisRecord{}, err
		}
		saved = draft
	} else {
		saved, err = c.history.Update(ctx, id, apply)
		if err != nil {
			if errors.IsStorageUnavailable(err) {
				c.metrics.RecordError("history")
			}
			return model.AnalysisRecord{}, err
		}
	}

	c.mu.Lock()
	delete(c.drafts, id)
	delete(c.editing, id)
	c.mu.Unlock()

	c.log.Info("corrections saved",
		logger.String("record_id", id),
		logger.Int("total", saved.Counts.Total))
	c.notify(notification.TypeSuccess, SavedMessage)
	return saved.Clone(), nil
}

// UpdateNotes changes the notes of id without changing its state.
func (c *Controller) UpdateNotes(ctx context.Context, id, notes string) (model.AnalysisRecord, error) {
	c.mu.Lock()
	if draft, ok := c.drafts[id]; ok {
		draft.Notes = notes
		c.drafts[id] = draft
		c.mu.Unlock()
		return draft.Clone(), nil
	}
	c.mu.Unlock()

	return c.history.Update(ctx, id, func(rec *model.AnalysisRecord) error {
		if rec.IsPending {
			return illegalTransition(id, StatePending, "update_notes")
		}
		rec.Notes = notes
		return nil
	})
}

// SubmitFeedback sends the verified detections of id to the training
// collaborator. Failures leave the record unchanged and can be retried. If
// the corrections are saved again while the submission is in flight, the
// record is not marked as submitted.
func (c *Controller) SubmitFeedback(ctx context.Context, id string) (string, error) {
	rev := c.revision(id)
	rec, ok := c.history.Get(id)
	if !ok {
		return "", notFound(id)
	}
	if state := deriveState(&rec, c.isEditing(id)); state != StateVerified {
		return "", illegalTransition(id, state, "submit_feedback")
	}

	msg, err := c.feedback.Submit(ctx, rec)
	if err != nil {
		c.log.Warn("feedback submission failed", logger.String("record_id", id), logger.Error(err))
		c.notify(notification.TypeError, errors.UserMessage(err, feedback.FailedMessage))
		return "", err
	}

	if _, err := c.history.Update(ctx, id, func(r *model.AnalysisRecord) error {
		if c.revision(id) != rev || !r.Verified {
			return errors.Newf("record %s was edited while feedback was submitted", id).
				Component(component).
				Category(errors.CategoryConflict).
				Context("record_id", id).
				UserMessage(EditedDuringFeedbackMessage).
				Build()
		}
		r.FeedbackSubmitted = true
		return nil
	}); err != nil {
		return "", err
	}
	c.notify(notification.TypeSuccess, msg)
	return msg, nil
}

// SyncInventory pushes the verified counts of id to the inventory system. A
// call while a sync for id is running is rejected.
func (c *Controller) SyncInventory(ctx context.Context, id string) (inventory.Entry, error) {
	rec, ok := c.history.Get(id)
	if !ok {
		return inventory.Entry{}, notFound(id)
	}
	if state := deriveState(&rec, c.isEditing(id)); state != StateVerified {
		return inventory.Entry{}, illegalTransition(id, state, "sync_inventory")
	}
	if !c.statuses.Begin(id) {
		return c.statuses.Get(id), errors.Newf("inventory sync already running for %s", id).
			Component(component).
			Category(errors.CategoryConflict).
			Context("record_id", id).
			Build()
	}

	msg, err := c.inventory.Sync(ctx, rec)
	if err != nil {
		userMsg := errors.UserMessage(err, inventory.UnavailableMessage)
		c.statuses.Fail(id, userMsg)
		c.notify(notification.TypeError, userMsg)
		return c.statuses.Get(id), err
	}
	c.statuses.Succeed(id, msg)
	c.notify(notification.TypeSuccess, msg)
	return c.statuses.Get(id), nil
}

// InventoryStatus returns the sync status of id.
func (c *Controller) InventoryStatus(id string) inventory.Entry {
	return c.statuses.Get(id)
}

// ClearHistory empties the offline queue and history and drops all
// unpersisted state. The queue goes first so a failure never leaves queued
// captures without placeholders; retrying finishes a partial clear.
func (c *Controller) ClearHistory(ctx context.Context) error {
	if err := c.queue.Clear(ctx); err != nil {
		c.metrics.RecordError("queue")
		return err
	}
	if err := c.history.RemoveAll(ctx); err != nil {
		c.metrics.RecordError("history")
		c.log.Error("history clear incomplete, queue already cleared", logger.Error(err))
		return errors.New(err).
			Component(component).
			Category(errors.CategoryStorage).
			Context("operation", "clear_history").
			Context("partial", true).
			UserMessage(PartialClearMessage).
			Build()
	}

	c.mu.Lock()
	clear(c.editing)
	clear(c.drafts)
	clear(c.revisions)
	c.mu.Unlock()
	c.statuses.Reset()

	c.log.Info("history cleared")
	c.notify(notification.TypeSuccess, ClearedMessage)
	return nil
}
