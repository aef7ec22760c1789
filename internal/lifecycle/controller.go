// Package lifecycle drives a record from capture through correction, feedback
// and inventory sync.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/pipecounter/internal/analyzer"
	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/feedback"
	"github.com/tphakala/pipecounter/internal/inventory"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
	"github.com/tphakala/pipecounter/internal/notification"
	"github.com/tphakala/pipecounter/internal/observability/metrics"
)

const component = "lifecycle"

// User-facing messages.
const (
	ConsentMessage       = "You must consent to the data policy to use the AI analysis feature."
	OfflineQueuedMessage = "You are offline. Analysis queued."
	SavedMessage         = "Corrections have been saved."
	ClearedMessage       = "History cleared successfully."
	StorageMessage       = "The capture could not be saved. Free up space and try again."
	PartialClearMessage  = "History could not be fully cleared. Try again."

	EditedDuringFeedbackMessage = "The record was edited while feedback was being sent. Submit feedback again."
)

// State is the derived lifecycle state of a record.
type State string

const (
	StatePending      State = "pending"
	StateDraft        State = "draft"
	StateEditingDraft State = "editing"
	StateVerified     State = "verified"
)

// History is the part of the history store the controller mutates.
type History interface {
	Append(ctx context.Context, r model.AnalysisRecord) error
	Upsert(ctx context.Context, r model.AnalysisRecord) (bool, error)
	Update(ctx context.Context, id string, fn func(*model.AnalysisRecord) error) (model.AnalysisRecord, error)
	RemoveAll(ctx context.Context) error
	Get(id string) (model.AnalysisRecord, bool)
	List() []model.AnalysisRecord
}

// Queue is the part of the queue store used for offline captures.
type Queue interface {
	Enqueue(ctx context.Context, c model.QueuedCapture) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// Connectivity reports whether the remote analyzer is reachable.
type Connectivity interface {
	Online() bool
}

// Admission serializes offline captures against sync snapshots.
type Admission interface {
	Admit(fn func() error) error
}

// ConsentStore reads the persisted privacy consent.
type ConsentStore interface {
	ConsentGranted(ctx context.Context) (bool, error)
}

// Config wires a Controller. Notifier, Consent, Admission and Metrics may be
// nil; a nil Consent with RequireConsent set rejects every capture.
type Config struct {
	History        History
	Queue          Queue
	Analyzer       analyzer.Analyzer
	Connectivity   Connectivity
	Admission      Admission
	Consent        ConsentStore
	RequireConsent bool
	Feedback       feedback.Submitter
	Inventory      inventory.Syncer
	Statuses       *inventory.StatusStore
	Notifier       notification.Notifier
	Metrics        *metrics.StorageMetrics
}

// Controller owns the editing and draft state that is not persisted.
type Controller struct {
	history        History
	queue          Queue
	analyzer       analyzer.Analyzer
	online         Connectivity
	admission      Admission
	consent        ConsentStore
	requireConsent bool
	feedback       feedback.Submitter
	inventory      inventory.Syncer
	statuses       *inventory.StatusStore
	notifier       notification.Notifier
	metrics        *metrics.StorageMetrics
	log            logger.Logger
	now            func() time.Time

	mu        sync.Mutex
	editing   map[string]struct{}
	drafts    map[string]model.AnalysisRecord // manual entries not yet saved
	revisions map[string]uint64               // bumped on every saved correction
}

// New returns a Controller.
func New(cfg Config, log logger.Logger) *Controller {
	if log == nil {
		log = GetLogger()
	}
	statuses := cfg.Statuses
	if statuses == nil {
		statuses = inventory.NewStatusStore(inventory.DefaultStatusTTL)
	}
	return &Controller{
		history:        cfg.History,
		queue:          cfg.Queue,
		analyzer:       cfg.Analyzer,
		online:         cfg.Connectivity,
		admission:      cfg.Admission,
		consent:        cfg.Consent,
		requireConsent: cfg.RequireConsent,
		feedback:       cfg.Feedback,
		inventory:      cfg.Inventory,
		statuses:       statuses,
		notifier:       cfg.Notifier,
		metrics:        cfg.Metrics,
		log:            log,
		now:            time.Now,
		editing:        make(map[string]struct{}),
		drafts:         make(map[string]model.AnalysisRecord),
		revisions:      make(map[string]uint64),
	}
}

// Get returns a record from history or an unsaved manual draft.
func (c *Controller) Get(id string) (model.AnalysisRecord, error) {
	c.mu.Lock()
	draft, ok := c.drafts[id]
	c.mu.Unlock()
	if ok {
		return draft.Clone(), nil
	}
	if rec, ok := c.history.Get(id); ok {
		return rec, nil
	}
	return model.AnalysisRecord{}, notFound(id)
}

// List returns the history, most recent first.
func (c *Controller) List() []model.AnalysisRecord {
	return c.history.List()
}

// State derives the lifecycle state of id.
func (c *Controller) State(id string) (State, error) {
	rec, err := c.Get(id)
	if err != nil {
		return "", err
	}
	return deriveState(&rec, c.isEditing(id)), nil
}

func (c *Controller) isEditing(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.editing[id]
	return ok
}

func (c *Controller) revision(id string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revisions[id]
}

func deriveState(rec *model.AnalysisRecord, editing bool) State {
	switch {
	case rec.IsPending:
		return StatePending
	case editing:
		return StateEditingDraft
	case rec.Verified:
		return StateVerified
	default:
		return StateDraft
	}
}

func (c *Controller) notify(t notification.Type, msg string) {
	if c.notifier != nil {
		c.notifier.Notify(t, component, msg)
	}
}

func notFound(id string) error {
	return errors.Newf("record %s not found", id).
		Component(component).
		Category(errors.CategoryNotFound).
		Context("record_id", id).
		Build()
}

func illegalTransition(id string, from State, operation string) error {
	return errors.Newf("%s not allowed for %s record %s", operation, from, id).
		Component(component).
		Category(errors.CategoryState).
		Context("record_id", id).
		Context("state", string(from)).
		Context("operation", operation).
		Build()
}

// GetLogger returns the package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("lifecycle")
}
