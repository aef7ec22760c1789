package datastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
)

func openTestStore(t *testing.T, minFree uint64) *Store {
	t.Helper()
	s, err := Open(t.Context(), Options{
		Type:         TypeSQLite,
		SQLitePath:   filepath.Join(t.TempDir(), "db", "test.db"),
		MinFreeBytes: minFree,
		Logger:       logger.NewSlogLogger(nil, logger.LogLevelInfo, nil),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSQLiteMigrates(t *testing.T) {
	s := openTestStore(t, 0)

	assert.Equal(t, TypeSQLite, s.Type())
	require.NoError(t, s.Ping(t.Context()))
	for _, table := range []string{"queued_captures", "history_entries", "app_state"} {
		assert.True(t, s.DB.Migrator().HasTable(table), table)
	}
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := Open(t.Context(), Options{Type: "postgres"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestConsentRoundTrip(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := t.Context()

	granted, err := s.ConsentGranted(ctx)
	require.NoError(t, err)
	assert.False(t, granted, "no row means no consent")

	require.NoError(t, s.SetConsent(ctx, true))
	granted, err = s.ConsentGranted(ctx)
	require.NoError(t, err)
	assert.True(t, granted)

	require.NoError(t, s.SetConsent(ctx, false))
	granted, err = s.ConsentGranted(ctx)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestCheckSpace(t *testing.T) {
	orig := freeSpace
	t.Cleanup(func() { freeSpace = orig })

	s := openTestStore(t, 1024)

	freeSpace = func(context.Context, string) (uint64, error) { return 4096, nil }
	require.NoError(t, s.CheckSpace(t.Context()))

	freeSpace = func(context.Context, string) (uint64, error) { return 10, nil }
	err := s.CheckSpace(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsStorageUnavailable(err))

	freeSpace = func(context.Context, string) (uint64, error) { return 0, errors.NewStd("statfs failed") }
	assert.NoError(t, s.CheckSpace(t.Context()), "unknown usage does not block writes")
}

func TestCheckSpaceDisabled(t *testing.T) {
	s := openTestStore(t, 0)
	assert.NoError(t, s.CheckSpace(t.Context()))
}
