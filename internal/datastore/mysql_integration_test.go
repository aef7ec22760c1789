//go:build integration

package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/tphakala/pipecounter/internal/history"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
	"github.com/tphakala/pipecounter/internal/queue"
)

func TestMySQLBackedStores(t *testing.T) {
	ctx := t.Context()

	ctr, err := mysql.Run(ctx, "mysql:8.0.36",
		mysql.WithDatabase("pipecounter"),
		mysql.WithUsername("pipes"),
		mysql.WithPassword("pipes"),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "charset=utf8mb4", "parseTime=true", "loc=UTC")
	require.NoError(t, err)

	s, err := Open(ctx, Options{
		Type:     TypeMySQL,
		MySQLDSN: dsn,
		Logger:   logger.NewSlogLogger(nil, logger.LogLevelInfo, nil),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.True(t, s.DB.Migrator().HasTable("queued_captures"))
	require.NoError(t, s.SetConsent(ctx, true))
	require.NoError(t, s.SetConsent(ctx, true), "upsert must tolerate an existing row")

	granted, err := s.ConsentGranted(ctx)
	require.NoError(t, err)
	assert.True(t, granted)

	// queue and history share the dialector
	now := time.Now().UTC().Truncate(time.Second)
	q := queue.New(s.DB, s, nil)
	capture := model.NewQueuedCapture([]byte("jpeg"), nil, now)
	require.NoError(t, q.Enqueue(ctx, capture))

	items, err := q.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, capture.ID, items[0].ID)
	assert.Equal(t, capture.Image, items[0].Image)

	h := history.New(history.NewGormPersister(s.DB), 10, nil)
	require.NoError(t, h.Append(ctx, model.NewPlaceholder(capture)))
	require.NoError(t, q.Remove(ctx, capture.ID))

	reloaded := history.New(history.NewGormPersister(s.DB), 10, nil)
	reloaded.Load(ctx)
	require.Equal(t, 1, reloaded.Len())
	assert.True(t, reloaded.List()[0].IsPending)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
