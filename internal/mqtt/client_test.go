package mqtt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
)

func newTestClient(t *testing.T, broker string) Client {
	t.Helper()
	c, err := NewClient(Config{Broker: broker, ClientID: "pipecounter-test", ReconnectCooldown: time.Minute},
		nil, logger.NewSlogLogger(nil, logger.LogLevelDebug, nil))
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

func TestNewClientRequiresBroker(t *testing.T) {
	_, err := NewClient(Config{}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewClientAppliesDefaults(t *testing.T) {
	c, err := NewClient(Config{Broker: "tcp://localhost:1883"}, nil, nil)
	require.NoError(t, err)
	impl := c.(*client)
	def := DefaultConfig()
	assert.Equal(t, def.ConnectTimeout, impl.config.ConnectTimeout)
	assert.Equal(t, def.PublishTimeout, impl.config.PublishTimeout)
	assert.Equal(t, def.ReconnectCooldown, impl.config.ReconnectCooldown)
}

func TestPublishWhileDisconnected(t *testing.T) {
	c := newTestClient(t, "tcp://localhost:1883")
	assert.False(t, c.IsConnected())

	err := c.Publish(t.Context(), "pipecounter/inventory", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
}

func TestConnectUnresolvableBrokerThenCooldown(t *testing.T) {
	c := newTestClient(t, "tcp://broker.pipecounter.invalid:1883")

	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.False(t, c.IsConnected())

	err = c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "too recent"))
}

func TestDisconnectWithoutConnectIsSafe(t *testing.T) {
	c := newTestClient(t, "tcp://localhost:1883")
	assert.NotPanics(t, c.Disconnect)
	assert.NotPanics(t, c.Disconnect)
}
