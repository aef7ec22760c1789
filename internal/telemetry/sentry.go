// Package telemetry wires opt-in error reporting to Sentry.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/pipecounter/internal/buildinfo"
	"github.com/tphakala/pipecounter/internal/conf"
	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
)

// FlushTimeout bounds how long Close waits for queued events.
const FlushTimeout = 2 * time.Second

var initMu sync.Mutex

// GetLogger returns the telemetry module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// Option tweaks the sentry client options before Init.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, mainly for tests.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) { o.Transport = t }
}

// Init starts Sentry when it is enabled in settings and routes enhanced
// errors to it. The returned close func flushes pending events and detaches
// the reporter; it is safe to call when reporting is disabled.
func Init(settings *conf.Settings, opts ...Option) (func(), error) {
	initMu.Lock()
	defer initMu.Unlock()

	log := GetLogger()
	if !settings.Telemetry.Sentry.Enabled {
		log.Debug("sentry reporting is disabled")
		return func() {}, nil
	}

	options := sentry.ClientOptions{
		Dsn:              settings.Telemetry.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		Release:          fmt.Sprintf("pipecounter@%s", buildinfo.Current().Version),
		BeforeSend:       scrubEvent,
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := sentry.Init(options); err != nil {
		return nil, errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Info("sentry reporting enabled")

	return func() {
		errors.SetTelemetryReporter(nil)
		ctx, cancel := context.WithTimeout(context.Background(), FlushTimeout)
		defer cancel()
		if !sentry.FlushWithContext(ctx) {
			log.Warn("sentry flush timed out")
		}
	}, nil
}

// scrubEvent drops host and user identifying data from every event.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}
	delete(event.Tags, "server_name")
	delete(event.Tags, "hostname")
	return event
}
