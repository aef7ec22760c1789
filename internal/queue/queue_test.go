package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pipecounter/internal/datastore"
	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
)

var quiet = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)

type fullDisk struct{}

func (fullDisk) CheckSpace(context.Context) error {
	return errors.Newf("disk full").Category(errors.CategoryStorage).Build()
}

func newTestQueue(t *testing.T, space SpaceChecker) (*Store, *datastore.Store) {
	t.Helper()
	ds, err := datastore.Open(t.Context(), datastore.Options{
		Type:       datastore.TypeSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "queue.db"),
		Logger:     quiet,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })
	return New(ds.DB, space, quiet), ds
}

func capture(t *testing.T, img string) model.QueuedCapture {
	t.Helper()
	lat, lon := 60.17, 24.94
	return model.NewQueuedCapture([]byte(img), &model.Location{Latitude: &lat, Longitude: &lon}, time.Now())
}

func TestEnqueueListPreservesOrder(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	ctx := t.Context()

	var ids []string
	for _, img := range []string{"a", "b", "c"} {
		c := capture(t, img)
		ids = append(ids, c.ID)
		require.NoError(t, q.Enqueue(ctx, c))
	}

	got, err := q.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range got {
		assert.Equal(t, ids[i], got[i].ID)
	}
	assert.Equal(t, []byte("a"), got[0].Image)
	require.NotNil(t, got[0].Location)
	assert.InDelta(t, 60.17, *got[0].Location.Latitude, 1e-9)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRemoveIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	ctx := t.Context()

	c := capture(t, "x")
	require.NoError(t, q.Enqueue(ctx, c))

	require.NoError(t, q.Remove(ctx, c.ID))
	require.NoError(t, q.Remove(ctx, c.ID))
	require.NoError(t, q.Remove(ctx, "queued_never_existed"))

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClear(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	ctx := t.Context()

	require.NoError(t, q.Enqueue(ctx, capture(t, "1")))
	require.NoError(t, q.Enqueue(ctx, capture(t, "2")))
	require.NoError(t, q.Clear(ctx))

	got, err := q.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEnqueueOverQuota(t *testing.T) {
	q, _ := newTestQueue(t, fullDisk{})

	err := q.Enqueue(t.Context(), capture(t, "x"))
	require.Error(t, err)
	assert.True(t, errors.IsStorageUnavailable(err))

	n, err := q.Count(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is committed when the guard rejects")
}

func TestEnqueueClosedDatabase(t *testing.T) {
	q, ds := newTestQueue(t, nil)
	require.NoError(t, ds.Close())

	err := q.Enqueue(t.Context(), capture(t, "x"))
	require.Error(t, err)
	assert.True(t, errors.IsStorageUnavailable(err))
}

func TestConcurrentEnqueue(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	ctx := t.Context()

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			assert.NoError(t, q.Enqueue(ctx, capture(t, "p")))
		})
	}
	wg.Wait()

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestListAllSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	open := func() *datastore.Store {
		ds, err := datastore.Open(t.Context(), datastore.Options{Type: datastore.TypeSQLite, SQLitePath: path, Logger: quiet})
		require.NoError(t, err)
		return ds
	}

	ds := open()
	c := capture(t, "survivor")
	require.NoError(t, New(ds.DB, nil, quiet).Enqueue(t.Context(), c))
	require.NoError(t, ds.Close())

	ds = open()
	t.Cleanup(func() { _ = ds.Close() })
	got, err := New(ds.DB, nil, quiet).ListAll(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)
}
