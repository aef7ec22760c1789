// Package orchestrator drains the offline queue when connectivity returns and
// reconciles the results into history.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/pipecounter/internal/analyzer"
	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
	"github.com/tphakala/pipecounter/internal/notification"
	"github.com/tphakala/pipecounter/internal/observability/metrics"
)

const component = "sync"

// ErrSyncInProgress is returned by Run while another pass is running.
var ErrSyncInProgress = errors.NewStd("sync pass already in progress")

// Queue is the part of the queue store a pass needs.
type Queue interface {
	ListAll(ctx context.Context) ([]model.QueuedCapture, error)
	Remove(ctx context.Context, id string) error
}

// History is the part of the history store a pass needs.
type History interface {
	Reconcile(ctx context.Context, removeIDs []string, prepend []model.AnalysisRecord) error
}

// Result summarizes one pass.
type Result struct {
	Attempted int                    `json:"attempted"`
	Synced    int                    `json:"synced"`
	Failed    int                    `json:"failed"`
	Records   []model.AnalysisRecord `json:"records,omitempty"`
	FailedIDs []string               `json:"failedIds,omitempty"`
	Duration  time.Duration          `json:"duration"`
}

// Config holds the collaborators of an Orchestrator. Notifier and Metrics
// may be nil.
type Config struct {
	Queue       Queue
	History     History
	Analyzer    analyzer.Analyzer
	Notifier    notification.Notifier
	Metrics     *metrics.SyncMetrics
	Concurrency int
}

// Orchestrator runs at most one sync pass at a time.
type Orchestrator struct {
	queue    Queue
	history  History
	analyzer analyzer.Analyzer
	notifier notification.Notifier
	metrics  *metrics.SyncMetrics
	limit    int
	log      logger.Logger

	running atomic.Bool
	wg      sync.WaitGroup

	// admit is held shared by offline captures while they write the queue
	// entry and its placeholder, and exclusively while a pass snapshots.
	admit sync.RWMutex
}

// New returns an Orchestrator. A Concurrency of zero or less runs every item
// of a pass at once.
func New(cfg Config, log logger.Logger) *Orchestrator {
	if log == nil {
		log = GetLogger()
	}
	return &Orchestrator{
		queue:    cfg.Queue,
		history:  cfg.History,
		analyzer: cfg.Analyzer,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		limit:    cfg.Concurrency,
		log:      log,
	}
}

// Running reports whether a pass is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Run performs one pass and blocks until it is done.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	if !o.acquire("run") {
		return Result{}, ErrSyncInProgress
	}
	defer o.release()
	return o.pass(ctx)
}

// Trigger starts a pass in the background. It returns false when a pass is
// already running and the trigger was ignored.
func (o *Orchestrator) Trigger(ctx context.Context) bool {
	if !o.acquire("trigger") {
		return false
	}
	o.wg.Go(func() {
		defer o.release()
		if _, err := o.pass(ctx); err != nil {
			o.log.Error("background sync pass failed", logger.Error(err))
		}
	})
	return true
}

// Admit runs fn so that no pass takes its snapshot while fn runs. Offline
// captures enqueue and append their placeholder inside fn, so a pass sees
// either both or neither.
func (o *Orchestrator) Admit(fn func() error) error {
	o.admit.RLock()
	defer o.admit.RUnlock()
	return fn()
}

// Wait blocks until every background pass started by Trigger has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) acquire(source string) bool {
	if o.running.CompareAndSwap(false, true) {
		o.metrics.SetInProgress(true)
		return true
	}
	o.log.Info("sync already in progress, ignoring request", logger.String("source", source))
	o.metrics.RecordIgnoredTrigger()
	return false
}

func (o *Orchestrator) release() {
	o.metrics.SetInProgress(false)
	o.running.Store(false)
}

type outcome struct {
	mu        sync.Mutex
	records   []model.AnalysisRecord
	syncedIDs []string
	failedIDs []string
}

func (r *outcome) succeed(captureID string, rec model.AnalysisRecord) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.syncedIDs = append(r.syncedIDs, captureID)
	r.mu.Unlock()
}

func (r *outcome) fail(id string) {
	r.mu.Lock()
	r.failedIDs = append(r.failedIDs, id)
	r.mu.Unlock()
}

func (o *Orchestrator) pass(ctx context.Context) (Result, error) {
	start := time.Now()

	o.admit.Lock()
	snapshot, err := o.queue.ListAll(ctx)
	o.admit.Unlock()
	if err != nil {
		o.metrics.RecordPass(metrics.PassFailed, 0, 0, time.Since(start))
		return Result{}, errors.New(err).
			Component(component).
			Category(errors.CategoryStorage).
			Context("operation", "list_queue").
			Build()
	}
	if len(snapshot) == 0 {
		o.log.Debug("queue empty, nothing to sync")
		o.metrics.RecordPass(metrics.PassEmpty, 0, 0, time.Since(start))
		return Result{Duration: time.Since(start)}, nil
	}

	o.log.Info("sync pass started", logger.Int("items", len(snapshot)))
	o.notify(notification.TypeInfo, fmt.Sprintf("Back online! Syncing %d items...", len(snapshot)))

	var out outcome
	var g errgroup.Group
	if o.limit > 0 {
		g.SetLimit(o.limit)
	}
	for _, item := range snapshot {
		g.Go(func() error {
			o.replay(ctx, item, &out)
			return nil
		})
	}
	_ = g.Wait()

	ids := make([]string, len(snapshot))
	for i := range snapshot {
		ids[i] = snapshot[i].ID
	}

	res := Result{
		Attempted: len(snapshot),
		Synced:    len(out.records),
		Failed:    len(out.failedIDs),
		Records:   out.records,
		FailedIDs: out.failedIDs,
	}

	if err := o.history.Reconcile(ctx, ids, out.records); err != nil {
		res.Duration = time.Since(start)
		o.metrics.RecordPass(metrics.PassFailed, res.Synced, res.Failed, res.Duration)
		o.log.Error("history reconciliation failed", logger.Int("synced", res.Synced), logger.Error(err))
		o.notify(notification.TypeError, "Synced analyses could not be saved to history.")
		return res, err
	}

	// Captures leave the queue only once their results are committed. A
	// failed Remove replays the capture next pass instead of losing it.
	removeCtx := context.WithoutCancel(ctx)
	for _, id := range out.syncedIDs {
		if err := o.queue.Remove(removeCtx, id); err != nil {
			o.log.Error("failed to remove synced capture from queue",
				logger.String("capture_id", id),
				logger.Error(err))
		}
	}

	if res.Synced > 0 {
		o.notify(notification.TypeSuccess, fmt.Sprintf("%d queued analyses synced successfully.", res.Synced))
	}
	if res.Failed > 0 {
		o.notify(notification.TypeError, fmt.Sprintf("%d items failed to sync and will be retried.", res.Failed))
	}

	res.Duration = time.Since(start)
	o.metrics.RecordPass(metrics.PassCompleted, res.Synced, res.Failed, res.Duration)
	o.log.Info("sync pass finished",
		logger.Int("attempted", res.Attempted),
		logger.Int("synced", res.Synced),
		logger.Int("failed", res.Failed),
		logger.Duration("duration", res.Duration))
	return res, nil
}

// replay analyzes one capture. Failures leave the capture queued.
func (o *Orchestrator) replay(ctx context.Context, item model.QueuedCapture, out *outcome) {
	rec, err := o.analyzer.Analyze(ctx, item.Image, item.Location)
	if err != nil {
		o.log.Warn("queued analysis failed, will retry",
			logger.String("capture_id", item.ID),
			logger.Error(err))
		out.fail(item.ID)
		return
	}

	o.log.Debug("queued analysis completed",
		logger.String("capture_id", item.ID),
		logger.String("record_id", rec.ID))
	out.succeed(item.ID, *rec)
}

func (o *Orchestrator) notify(t notification.Type, msg string) {
	if o.notifier != nil {
		o.notifier.Notify(t, component, msg)
	}
}

// GetLogger returns the package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("orchestrator")
}
