package app

import (
	"context"

	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
	"github.com/tphakala/pipecounter/internal/observability/metrics"
	"github.com/tphakala/pipecounter/internal/queue"
)

// TrackedQueue keeps the queue depth gauge and storage error counter in step
// with every write to the durable queue.
type TrackedQueue struct {
	*queue.Store
	metrics *metrics.StorageMetrics
}

// NewTrackedQueue wraps q. m may be nil.
func NewTrackedQueue(q *queue.Store, m *metrics.StorageMetrics) *TrackedQueue {
	return &TrackedQueue{Store: q, metrics: m}
}

// Enqueue persists c and refreshes the depth gauge.
func (q *TrackedQueue) Enqueue(ctx context.Context, c model.QueuedCapture) error {
	return q.track(ctx, q.Store.Enqueue(ctx, c))
}

// Remove deletes the capture and refreshes the depth gauge.
func (q *TrackedQueue) Remove(ctx context.Context, id string) error {
	return q.track(ctx, q.Store.Remove(ctx, id))
}

// Clear empties the queue and refreshes the depth gauge.
func (q *TrackedQueue) Clear(ctx context.Context) error {
	return q.track(ctx, q.Store.Clear(ctx))
}

// Refresh reads the current depth into the gauge.
func (q *TrackedQueue) Refresh(ctx context.Context) {
	if q.metrics == nil {
		return
	}
	n, err := q.Store.Count(ctx)
	if err != nil {
		GetLogger().Debug("queue depth unavailable", logger.Error(err))
		return
	}
	q.metrics.SetQueueDepth(n)
}

func (q *TrackedQueue) track(ctx context.Context, err error) error {
	if err != nil {
		q.metrics.RecordError("queue")
		return err
	}
	q.Refresh(ctx)
	return nil
}
