package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
)

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(nil, logger.LogLevelDebug, nil)
}

func verifiedRecord() model.AnalysisRecord {
	now := time.UnixMilli(1_700_000_000_000)
	rec := model.NewAIRecord([]byte{1}, nil, []model.Detection{
		{Size: model.SizeSmall}, {Size: model.SizeLarge}, {Size: model.SizeLarge},
	}, 0.9, "", "gemini-2.5-flash", now)
	rec.Verified = true
	return rec
}

func TestSuccessMessageUsesLastSixChars(t *testing.T) {
	assert.Equal(t, "Inventory sync successful for Analysis ID: abcdef", SuccessMessage("analysis_123_abcdef"))
}

func TestMockSyncer(t *testing.T) {
	rec := verifiedRecord()

	ok := NewMockSyncer(7, quietLogger())
	ok.Delay = 0
	ok.SuccessRate = 1
	msg, err := ok.Sync(t.Context(), rec)
	require.NoError(t, err)
	assert.Equal(t, SuccessMessage(rec.ID), msg)

	bad := NewMockSyncer(7, quietLogger())
	bad.Delay = 0
	bad.SuccessRate = 0
	_, err = bad.Sync(t.Context(), rec)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryIntegration))
	assert.Equal(t, UnavailableMessage, errors.UserMessage(err, ""))
}

func TestMockSyncerHonorsContext(t *testing.T) {
	m := NewMockSyncer(1, quietLogger())
	m.Delay = time.Hour
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := m.Sync(ctx, verifiedRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	publishErr error
	topic      string
	payload    []byte
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topic, f.payload = topic, payload
	return f.publishErr
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Disconnect() {}

func TestMQTTSyncerPublishesCounts(t *testing.T) {
	fc := &fakeClient{}
	s := NewMQTTSyncer(fc, "pipecounter/inventory", quietLogger())
	rec := verifiedRecord()

	msg, err := s.Sync(t.Context(), rec)
	require.NoError(t, err)
	assert.Equal(t, SuccessMessage(rec.ID), msg)
	assert.True(t, fc.IsConnected(), "syncer connects lazily")
	assert.Equal(t, "pipecounter/inventory", fc.topic)

	var got Message
	require.NoError(t, json.Unmarshal(fc.payload, &got))
	assert.Equal(t, rec.ID, got.RecordID)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 2, got.BySize[model.SizeLarge])
	assert.True(t, got.Verified)
	assert.Equal(t, "gemini-2.5-flash", got.ModelVersion)
}

func TestMQTTSyncerFailures(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
	}{
		{"connect", &fakeClient{connectErr: fmt.Errorf("refused")}},
		{"publish", &fakeClient{connected: true, publishErr: fmt.Errorf("timeout")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMQTTSyncer(tt.client, "t", quietLogger())
			_, err := s.Sync(t.Context(), verifiedRecord())
			require.Error(t, err)
			assert.Equal(t, UnavailableMessage, errors.UserMessage(err, ""))
		})
	}
}

func TestStatusStoreTransitions(t *testing.T) {
	s := NewStatusStore(time.Hour)

	assert.Equal(t, StatusIdle, s.Get("a").Status)
	require.True(t, s.Begin("a"))
	assert.Equal(t, StatusSyncing, s.Get("a").Status)
	assert.False(t, s.Begin("a"), "second sync while syncing is rejected")

	s.Fail("a", UnavailableMessage)
	e := s.Get("a")
	assert.Equal(t, StatusError, e.Status)
	assert.Equal(t, UnavailableMessage, e.Message)

	require.True(t, s.Begin("a"), "error retries only through an explicit call")
	s.Succeed("a", "ok")
	assert.Equal(t, StatusSuccess, s.Get("a").Status)

	s.Forget("a")
	assert.Equal(t, StatusIdle, s.Get("a").Status)
}

func TestStatusStoreSuccessExpires(t *testing.T) {
	s := NewStatusStore(30 * time.Millisecond)
	s.Succeed("ok", "done")
	s.Fail("bad", "nope")

	assert.Eventually(t, func() bool { return s.Get("ok").Status == StatusIdle }, time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusError, s.Get("bad").Status, "error entries never expire")
}

func TestStatusStoreConcurrentBegin(t *testing.T) {
	s := NewStatusStore(time.Hour)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 20 {
		wg.Go(func() {
			if s.Begin("r") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	s.Reset()
	assert.Equal(t, StatusIdle, s.Get("r").Status)
}
