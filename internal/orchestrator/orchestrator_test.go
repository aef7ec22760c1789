package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/pipecounter/internal/analyzer"
	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/history"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
	"github.com/tphakala/pipecounter/internal/notification"
	"github.com/tphakala/pipecounter/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)

type memQueue struct {
	mu        sync.Mutex
	items     []model.QueuedCapture
	removeErr map[string]error
	removes   map[string]int
}

func (q *memQueue) ListAll(context.Context) ([]model.QueuedCapture, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items), nil
}

func (q *memQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.removeErr[id]; err != nil {
		return err
	}
	if q.removes == nil {
		q.removes = map[string]int{}
	}
	q.removes[id]++
	q.items = slices.DeleteFunc(q.items, func(c model.QueuedCapture) bool { return c.ID == id })
	return nil
}

func (q *memQueue) enqueue(c model.QueuedCapture) {
	q.mu.Lock()
	q.items = append(q.items, c)
	q.mu.Unlock()
}

func (q *memQueue) ids() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.items))
	for i := range q.items {
		out[i] = q.items[i].ID
	}
	return out
}

type recorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *recorder) Notify(t notification.Type, _, msg string) *notification.Notification {
	r.mu.Lock()
	r.sent = append(r.sent, string(t)+": "+msg)
	r.mu.Unlock()
	return notification.NewNotification(t, msg)
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sent)
}

type fixture struct {
	queue   *memQueue
	history *history.Store
	notes   *recorder
}

// newFixture enqueues n captures with their placeholders, as a capture
// taken offline would.
func newFixture(t *testing.T, n int) (*fixture, []model.QueuedCapture) {
	t.Helper()
	f := &fixture{
		queue:   &memQueue{},
		history: history.New(&history.MemoryPersister{}, 50, quiet),
		notes:   &recorder{},
	}
	base := time.UnixMilli(1_700_000_000_000)
	var caps []model.QueuedCapture
	for i := range n {
		c := model.NewQueuedCapture([]byte{byte(i)}, nil, base.Add(time.Duration(i)*time.Second))
		f.queue.items = append(f.queue.items, c)
		require.NoError(t, f.history.Append(t.Context(), model.NewPlaceholder(c)))
		caps = append(caps, c)
	}
	return f, caps
}

func (f *fixture) orchestrator(a analyzer.Analyzer, m *metrics.SyncMetrics) *Orchestrator {
	return New(Config{
		Queue:       f.queue,
		History:     f.history,
		Analyzer:    a,
		Notifier:    f.notes,
		Metrics:     m,
		Concurrency: 4,
	}, quiet)
}

// byImage succeeds for captures whose first image byte is listed in ok.
func byImage(ok ...byte) analyzer.Func {
	return func(_ context.Context, image []byte, loc *model.Location) (*model.AnalysisRecord, error) {
		if !slices.Contains(ok, image[0]) {
			return nil, analyzer.Failed(fmt.Errorf("blurry"), "test")
		}
		rec := model.NewAIRecord(image, loc, []model.Detection{{Size: model.SizeSmall}}, 0.9, "", "test", time.Now())
		return &rec, nil
	}
}

func pendingCount(records []model.AnalysisRecord) int {
	n := 0
	for i := range records {
		if records[i].IsPending {
			n++
		}
	}
	return n
}

func TestOfflineCaptureSyncsOnReconnect(t *testing.T) {
	f, caps := newFixture(t, 1)
	o := f.orchestrator(byImage(0), nil)

	res, err := o.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 1, res.Synced)
	assert.Zero(t, res.Failed)

	assert.Empty(t, f.queue.ids())
	records := f.history.List()
	require.Len(t, records, 1)
	assert.Equal(t, model.KindAnalysis, model.KindOf(records[0].ID))
	assert.False(t, records[0].IsPending)
	_, placeholder := f.history.Get(caps[0].ID)
	assert.False(t, placeholder)

	assert.Equal(t, []string{
		"info: Back online! Syncing 1 items...",
		"success: 1 queued analyses synced successfully.",
	}, f.notes.messages())
}

func TestPartialFailureKeepsFailedItemQueued(t *testing.T) {
	f, caps := newFixture(t, 2)
	o := f.orchestrator(byImage(0), nil)

	res, err := o.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{caps[1].ID}, res.FailedIDs)

	assert.Equal(t, []string{caps[1].ID}, f.queue.ids())
	records := f.history.List()
	require.Len(t, records, 1, "both placeholders are dropped, only the success is added")
	assert.Zero(t, pendingCount(records))

	msgs := f.notes.messages()
	assert.Contains(t, msgs, "success: 1 queued analyses synced successfully.")
	assert.Contains(t, msgs, "error: 1 items failed to sync and will be retried.")
	for _, m := range msgs {
		assert.NotContains(t, m, "blurry", "raw analyzer errors never reach notifications")
	}
}

func TestFailedItemIsRetriedOnNextPass(t *testing.T) {
	f, caps := newFixture(t, 1)
	var attempts atomic.Int32
	flaky := analyzer.Func(func(ctx context.Context, image []byte, loc *model.Location) (*model.AnalysisRecord, error) {
		if attempts.Add(1) == 1 {
			return nil, analyzer.Failed(fmt.Errorf("timeout"), "test")
		}
		return byImage(0)(ctx, image, loc)
	})
	o := f.orchestrator(flaky, nil)

	res, err := o.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{caps[0].ID}, f.queue.ids())

	res, err = o.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, f.queue.ids())
	assert.Len(t, f.history.List(), 1)
}

func TestOverlappingTriggersSyncOnce(t *testing.T) {
	f, caps := newFixture(t, 2)
	release := make(chan struct{})
	var calls atomic.Int32
	blocking := analyzer.Func(func(ctx context.Context, image []byte, loc *model.Location) (*model.AnalysisRecord, error) {
		calls.Add(1)
		<-release
		return byImage(0, 1)(ctx, image, loc)
	})

	reg := prometheus.NewRegistry()
	m, err := metrics.NewSyncMetrics(reg)
	require.NoError(t, err)
	o := f.orchestrator(blocking, m)

	require.True(t, o.Trigger(t.Context()))
	assert.True(t, o.Running())
	assert.False(t, o.Trigger(t.Context()), "second transition while a pass runs is ignored")
	_, err = o.Run(t.Context())
	require.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	o.Wait()

	assert.False(t, o.Running())
	assert.EqualValues(t, 2, calls.Load())
	for _, c := range caps {
		assert.Equal(t, 1, f.queue.removes[c.ID])
	}
	assert.Len(t, f.history.List(), 2)
	assert.InDelta(t, 2, testutil.ToFloat64(m.IgnoredTriggers), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PassesTotal.WithLabelValues(metrics.PassCompleted)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.ItemsTotal.WithLabelValues("synced")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.InProgress), 0)
}

func TestSuccessesPrependedInCompletionOrder(t *testing.T) {
	f, _ := newFixture(t, 2)
	firstDone := make(chan struct{})
	ordered := analyzer.Func(func(ctx context.Context, image []byte, loc *model.Location) (*model.AnalysisRecord, error) {
		if image[0] == 0 {
			<-firstDone
			time.Sleep(50 * time.Millisecond)
		} else {
			defer close(firstDone)
		}
		return byImage(0, 1)(ctx, image, loc)
	})
	o := f.orchestrator(ordered, nil)

	res, err := o.Run(t.Context())
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, byte(1), res.Records[0].Image[0])

	records := f.history.List()
	require.Len(t, records, 2)
	assert.Equal(t, byte(1), records[0].Image[0], "the item that finished first is first")
	assert.Equal(t, byte(0), records[1].Image[0])
}

func TestRemoveFailureAfterCommitReplaysNextPass(t *testing.T) {
	f, caps := newFixture(t, 1)
	f.queue.removeErr = map[string]error{caps[0].ID: fmt.Errorf("disk I/O error")}
	o := f.orchestrator(byImage(0), nil)

	res, err := o.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Zero(t, res.Failed)
	assert.Equal(t, []string{caps[0].ID}, f.queue.ids(), "capture stays queued for another attempt")
	assert.Len(t, f.history.List(), 1)
}

func TestEmptyQueueIsSilent(t *testing.T) {
	f, _ := newFixture(t, 0)
	reg := prometheus.NewRegistry()
	m, err := metrics.NewSyncMetrics(reg)
	require.NoError(t, err)
	o := f.orchestrator(byImage(), m)

	res, err := o.Run(t.Context())
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Empty(t, f.notes.messages())
	assert.InDelta(t, 1, testutil.ToFloat64(m.PassesTotal.WithLabelValues(metrics.PassEmpty)), 0)
}

func TestReconcileFailureIsReported(t *testing.T) {
	f, caps := newFixture(t, 1)
	persist := &history.MemoryPersister{Err: fmt.Errorf("database is locked")}
	f.history = history.New(persist, 50, quiet)
	o := f.orchestrator(byImage(0), nil)

	res, err := o.Run(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsStorageUnavailable(err))
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, []string{caps[0].ID}, f.queue.ids(), "an uncommitted result never leaves the queue")
	assert.Empty(t, f.queue.removes)
	assert.Contains(t, f.notes.messages(), "error: Synced analyses could not be saved to history.")

	// Storage comes back; the next pass delivers the capture.
	persist.Err = nil
	res, err = o.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, f.queue.ids())
	records := f.history.List()
	require.Len(t, records, 1)
	assert.False(t, records[0].IsPending)
}

func TestPassWaitsForAdmittedCapture(t *testing.T) {
	f, _ := newFixture(t, 0)
	o := f.orchestrator(byImage(7), nil)

	c := model.NewQueuedCapture([]byte{7}, nil, time.Now())
	err := o.Admit(func() error {
		f.queue.enqueue(c)
		require.True(t, o.Trigger(t.Context()))
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, []string{c.ID}, f.queue.ids(), "pass must not snapshot mid-capture")
		return f.history.Append(t.Context(), model.NewPlaceholder(c))
	})
	require.NoError(t, err)
	o.Wait()

	assert.Empty(t, f.queue.ids())
	records := f.history.List()
	require.Len(t, records, 1)
	assert.Zero(t, pendingCount(records), "no placeholder survives without its queued capture")
}

func TestPassWithoutNotifier(t *testing.T) {
	f, _ := newFixture(t, 1)
	o := New(Config{Queue: f.queue, History: f.history, Analyzer: byImage(0)}, quiet)

	res, err := o.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
}
