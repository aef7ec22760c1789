package connectivity

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/httpclient"
	"github.com/tphakala/pipecounter/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

var quiet = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)

func TestColdStartAssumesOnline(t *testing.T) {
	m := NewMonitor(nil, 0, quiet)
	assert.True(t, m.Online())
}

func TestReconnectFiresOncePerTransition(t *testing.T) {
	m := NewMonitor(nil, 0, quiet)
	var fired atomic.Int32
	m.OnReconnect(func() { fired.Add(1) })

	assert.False(t, m.Report(true), "already online")
	assert.True(t, m.Report(false))
	assert.True(t, m.Report(true))
	assert.False(t, m.Report(true), "heartbeat while online")
	assert.False(t, m.Report(true))

	assert.Equal(t, int32(1), fired.Load())

	m.Report(false)
	m.Report(true)
	assert.Equal(t, int32(2), fired.Load())
}

func TestConcurrentReportsProduceOneTransition(t *testing.T) {
	m := NewMonitor(nil, 0, quiet)
	var fired atomic.Int32
	m.OnReconnect(func() { fired.Add(1) })
	m.Report(false)

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() { m.Report(true) })
	}
	wg.Wait()

	assert.Equal(t, int32(1), fired.Load())
}

func TestSubscribe(t *testing.T) {
	m := NewMonitor(nil, 0, quiet)
	ch, unsubscribe := m.Subscribe()

	m.Report(false)
	m.Report(true)

	first := <-ch
	second := <-ch
	assert.False(t, first.Online)
	assert.True(t, second.Online)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	assert.NotPanics(t, func() { m.Report(false) })
}

func TestTransitionHook(t *testing.T) {
	var seen []bool
	m := NewMonitor(nil, 0, quiet, WithTransitionHook(func(online bool) { seen = append(seen, online) }))
	m.Report(false)
	m.Report(false)
	m.Report(true)
	assert.Equal(t, []bool{false, true}, seen)
}

func TestRunProbesUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	results := []bool{false, false, true}
	prober := ProberFunc(func(context.Context) (bool, error) {
		n := int(calls.Add(1)) - 1
		return results[min(n, len(results)-1)], nil
	})

	m := NewMonitor(prober, 5*time.Millisecond, quiet)
	reconnected := make(chan struct{}, 1)
	m.OnReconnect(func() { reconnected <- struct{}{} })

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect handler not invoked")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.True(t, m.Online())
}

func TestRunProbeErrorMeansOffline(t *testing.T) {
	prober := ProberFunc(func(context.Context) (bool, error) { return true, errors.NewStd("boom") })
	m := NewMonitor(prober, time.Hour, quiet)

	m.probeOnce(t.Context())
	assert.False(t, m.Online())
}

func TestInterfaceProber(t *testing.T) {
	p := &InterfaceProber{list: func(context.Context) (psnet.InterfaceStatList, error) {
		return psnet.InterfaceStatList{
			{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}},
			{Name: "eth0", Flags: []string{"broadcast"}, Addrs: psnet.InterfaceAddrList{{Addr: "10.0.0.2/24"}}},
		}, nil
	}}
	online, err := p.Probe(t.Context())
	require.NoError(t, err)
	assert.False(t, online, "loopback and down interfaces do not count")

	p.list = func(context.Context) (psnet.InterfaceStatList, error) {
		return psnet.InterfaceStatList{
			{Name: "wlan0", Flags: []string{"up", "broadcast"}, Addrs: psnet.InterfaceAddrList{{Addr: "192.168.1.5/24"}}},
		}, nil
	}
	online, err = p.Probe(t.Context())
	require.NoError(t, err)
	assert.True(t, online)
}

func TestHTTPProber(t *testing.T) {
	mock := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: mock})

	mock.RegisterResponder(http.MethodHead, "https://probe.example/", httpmock.NewStringResponder(200, ""))
	mock.RegisterResponder(http.MethodHead, "https://broken.example/", httpmock.NewStringResponder(502, ""))

	online, err := NewHTTPProber(client, "https://probe.example/").Probe(t.Context())
	require.NoError(t, err)
	assert.True(t, online)

	online, err = NewHTTPProber(client, "https://broken.example/").Probe(t.Context())
	require.NoError(t, err)
	assert.False(t, online)

	_, err = NewHTTPProber(client, "https://unregistered.example/").Probe(t.Context())
	require.Error(t, err)
}

func TestAllOf(t *testing.T) {
	up := ProberFunc(func(context.Context) (bool, error) { return true, nil })
	down := ProberFunc(func(context.Context) (bool, error) { return false, nil })

	online, err := AllOf(up, up).Probe(t.Context())
	require.NoError(t, err)
	assert.True(t, online)

	online, err = AllOf(up, down).Probe(t.Context())
	require.NoError(t, err)
	assert.False(t, online)
}
