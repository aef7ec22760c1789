//go:build integration

package mqtt

import (
	"fmt"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/observability/metrics"
)

// mosquitto 1.6 accepts anonymous clients on all interfaces without a config file.
func startBroker(t *testing.T) string {
	t.Helper()
	ctx := t.Context()

	ctr, err := testcontainers.Run(ctx, "eclipse-mosquitto:1.6",
		testcontainers.WithExposedPorts("1883/tcp"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("1883/tcp").WithStartupTimeout(time.Minute)),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	require.NoError(t, err)

	endpoint, err := ctr.PortEndpoint(ctx, "1883/tcp", "tcp")
	require.NoError(t, err)
	return endpoint
}

func TestPublishReachesSubscriber(t *testing.T) {
	broker := startBroker(t)

	received := make(chan []byte, 1)
	subOpts := paho.NewClientOptions().AddBroker(broker).SetClientID("pipecounter-sub")
	sub := paho.NewClient(subOpts)
	require.True(t, sub.Connect().WaitTimeout(10*time.Second))
	t.Cleanup(func() { sub.Disconnect(100) })
	tok := sub.Subscribe("pipecounter/inventory", 1, func(_ paho.Client, msg paho.Message) {
		received <- msg.Payload()
	})
	require.True(t, tok.WaitTimeout(10*time.Second))
	require.NoError(t, tok.Error())

	reg := prometheus.NewRegistry()
	m, err := metrics.NewMQTTMetrics(reg)
	require.NoError(t, err)

	c, err := NewClient(Config{Broker: broker, ClientID: "pipecounter-pub", QoS: 1}, m,
		logger.NewSlogLogger(nil, logger.LogLevelDebug, nil))
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)

	require.NoError(t, c.Connect(t.Context()))
	require.True(t, c.IsConnected())

	payload := []byte(fmt.Sprintf(`{"recordId":"analysis_%d"}`, time.Now().UnixMilli()))
	require.NoError(t, c.Publish(t.Context(), "pipecounter/inventory", payload))

	select {
	case got := <-received:
		assert.Equal(t, payload, got)
	case <-time.After(10 * time.Second):
		t.Fatal("message not received")
	}
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesDelivered), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ConnectionStatus), 0)
}
