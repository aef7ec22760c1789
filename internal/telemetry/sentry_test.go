package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pipecounter/internal/conf"
	"github.com/tphakala/pipecounter/internal/errors"
)

type mockTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

//nolint:gocritic // hugeParam: interface requirement
func (t *mockTransport) Configure(sentry.ClientOptions) {}

func (t *mockTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *mockTransport) Flush(time.Duration) bool              { return true }
func (t *mockTransport) FlushWithContext(context.Context) bool { return true }
func (t *mockTransport) Close()                                {}

func (t *mockTransport) Events() []*sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*sentry.Event(nil), t.events...)
}

func TestInitDisabled(t *testing.T) {
	closeFn, err := Init(&conf.Settings{})
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	closeFn()
}

func TestInitReportsStorageErrors(t *testing.T) {
	settings := &conf.Settings{}
	settings.Telemetry.Sentry.Enabled = true
	settings.Telemetry.Sentry.DSN = "https://public@example.invalid/1"

	transport := &mockTransport{}
	closeFn, err := Init(settings, WithTransport(transport))
	require.NoError(t, err)
	t.Cleanup(closeFn)

	_ = errors.Newf("disk full").
		Component("queue").
		Category(errors.CategoryStorage).
		Context("operation", "enqueue").
		Build()
	_ = errors.Newf("bad input").
		Component("lifecycle").
		Category(errors.CategoryValidation).
		Build()

	events := transport.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "storage-unavailable", events[0].Tags["category"])
	assert.Equal(t, "queue", events[0].Tags["component"])
	assert.Empty(t, events[0].ServerName)
}

func TestScrubEvent(t *testing.T) {
	event := sentry.NewEvent()
	event.ServerName = "camera-phone"
	event.User = sentry.User{ID: "42"}
	event.Extra = map[string]any{"component": "queue", "path": "/home/user"}
	event.Tags = map[string]string{"hostname": "box", "category": "storage"}

	out := scrubEvent(event, nil)
	assert.Empty(t, out.ServerName)
	assert.True(t, out.User.IsEmpty())
	assert.Equal(t, map[string]any{"component": "queue"}, out.Extra)
	assert.Equal(t, map[string]string{"category": "storage"}, out.Tags)
}
