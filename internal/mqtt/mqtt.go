// Package mqtt wraps the paho client for publishing inventory updates.
package mqtt

import (
	"context"
	"time"

	"github.com/tphakala/pipecounter/internal/logger"
)

// Client defines the MQTT operations the inventory syncer needs.
type Client interface {
	// Connect dials the broker. Attempts closer together than the reconnect
	// cooldown are refused.
	Connect(ctx context.Context) error

	// Publish sends payload to topic and waits for the broker to accept it.
	Publish(ctx context.Context, topic string, payload []byte) error

	IsConnected() bool

	// Disconnect closes the connection. The client can connect again afterwards.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	QoS               byte
	Retain            bool
	ReconnectCooldown time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values.
func DefaultConfig() Config {
	return Config{
		QoS:               1,
		ReconnectCooldown: 5 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// GetLogger returns the package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("mqtt")
}
