// Package app assembles the PipeCounter services from settings. The serve
// command runs the assembled graph; the one-shot commands borrow parts of it.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/tphakala/pipecounter/internal/analyzer"
	"github.com/tphakala/pipecounter/internal/conf"
	"github.com/tphakala/pipecounter/internal/connectivity"
	"github.com/tphakala/pipecounter/internal/datastore"
	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/feedback"
	"github.com/tphakala/pipecounter/internal/history"
	"github.com/tphakala/pipecounter/internal/httpclient"
	"github.com/tphakala/pipecounter/internal/inventory"
	"github.com/tphakala/pipecounter/internal/lifecycle"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/mqtt"
	"github.com/tphakala/pipecounter/internal/notification"
	"github.com/tphakala/pipecounter/internal/observability"
	"github.com/tphakala/pipecounter/internal/observability/metrics"
	"github.com/tphakala/pipecounter/internal/orchestrator"
	"github.com/tphakala/pipecounter/internal/queue"
)

const userAgent = "PipeCounter/1.0"

// GetLogger returns the app module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// App is the assembled service graph.
type App struct {
	Settings      *conf.Settings
	Store         *datastore.Store
	Queue         *TrackedQueue
	History       *history.Store
	Monitor       *connectivity.Monitor
	Orchestrator  *orchestrator.Orchestrator
	Records       *lifecycle.Controller
	Notifications *notification.Service
	Statuses      *inventory.StatusStore
	Metrics       *observability.Metrics // nil when telemetry.metrics is off

	prober connectivity.Prober
	http   *httpclient.Client
	mqtt   mqtt.Client
	log    logger.Logger
}

// Option customizes New.
type Option func(*options)

type options struct {
	analyzer   analyzer.Analyzer
	prober     connectivity.Prober
	overridden bool
}

// WithAnalyzer bypasses analyzer.provider.
func WithAnalyzer(a analyzer.Analyzer) Option {
	return func(o *options) { o.analyzer = a }
}

// WithProber replaces the probers derived from connectivity settings. A nil
// prober leaves the monitor driven by Report alone.
func WithProber(p connectivity.Prober) Option {
	return func(o *options) { o.prober, o.overridden = p, true }
}

// New opens storage and builds every service. Close releases them.
func New(ctx context.Context, settings *conf.Settings, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Settings: settings, log: GetLogger()}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	var err error

	if settings.Telemetry.Metrics {
		if a.Metrics, err = observability.NewMetrics(); err != nil {
			return nil, errors.New(err).
				Component("app").
				Category(errors.CategorySystem).
				Context("operation", "create_metrics").
				Build()
		}
	}

	a.http = httpclient.New(&httpclient.Config{UserAgent: userAgent})
	if a.Metrics != nil {
		httpMetrics := a.Metrics.HTTP
		a.http.SetAfterResponseHook(func(req *http.Request, resp *http.Response, _ error, elapsed time.Duration) {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			httpMetrics.RecordOutbound(req.URL.Host, status, elapsed)
		})
	}

	if a.Store, err = datastore.Open(ctx, datastore.OptionsFromSettings(settings)); err != nil {
		return nil, err
	}

	storage := a.storageMetrics()
	a.Queue = NewTrackedQueue(queue.New(a.Store.DB, a.Store, nil), storage)
	a.Queue.Refresh(ctx)

	a.History = history.New(history.NewGormPersister(a.Store.DB), settings.History.Capacity, nil,
		history.WithCommitHook(storage.SetHistoryRecords))
	a.History.Load(ctx)

	a.Notifications, err = a.buildNotifications()
	if err != nil {
		return nil, err
	}

	an := o.analyzer
	if an == nil {
		if an, err = a.buildAnalyzer(); err != nil {
			return nil, err
		}
	}
	if a.Metrics != nil {
		an = analyzer.Instrumented(an, settings.Analyzer.Provider, a.Metrics.Analyzer)
	}

	a.prober = o.prober
	if !o.overridden {
		a.prober = a.buildProber()
	}
	a.Monitor = connectivity.NewMonitor(a.prober, settings.Connectivity.ProbeInterval, nil,
		connectivity.WithTransitionHook(a.connectivityMetrics().RecordTransition))

	a.Orchestrator = orchestrator.New(orchestrator.Config{
		Queue:       a.Queue,
		History:     a.History,
		Analyzer:    an,
		Notifier:    a.Notifications,
		Metrics:     a.syncMetrics(),
		Concurrency: settings.Sync.Concurrency,
	}, nil)
	a.Monitor.OnReconnect(func() {
		a.Orchestrator.Trigger(ctx)
	})

	fb, err := a.buildFeedback()
	if err != nil {
		return nil, err
	}
	inv, err := a.buildInventory()
	if err != nil {
		return nil, err
	}
	a.Statuses = inventory.NewStatusStore(settings.Inventory.StatusTTL)

	a.Records = lifecycle.New(lifecycle.Config{
		History:        a.History,
		Queue:          a.Queue,
		Analyzer:       an,
		Connectivity:   a.Monitor,
		Admission:      a.Orchestrator,
		Consent:        a.Store,
		RequireConsent: settings.Privacy.RequireConsent,
		Feedback:       fb,
		Inventory:      inv,
		Statuses:       a.Statuses,
		Notifier:       a.Notifications,
		Metrics:        storage,
	}, nil)

	a.log.Info("services assembled",
		logger.String("datastore", a.Store.Type()),
		logger.String("analyzer", settings.Analyzer.Provider),
		logger.String("feedback", settings.Feedback.Provider),
		logger.String("inventory", settings.Inventory.Provider),
		logger.Int("history_records", a.History.Len()))
	built = true
	return a, nil
}

// ProbeOnce runs the configured probers a single time and reports the result
// to the monitor. Without probers the monitor keeps its current state.
func (a *App) ProbeOnce(ctx context.Context) bool {
	if a.prober == nil {
		return a.Monitor.Online()
	}
	ok, err := a.prober.Probe(ctx)
	if err != nil {
		a.log.Debug("connectivity probe failed", logger.Error(err))
		ok = false
	}
	a.Monitor.Report(ok)
	return a.Monitor.Online()
}

// Close waits for in-flight sync passes and releases every resource.
func (a *App) Close() {
	if a.Orchestrator != nil {
		a.Orchestrator.Wait()
	}
	if a.Notifications != nil {
		a.Notifications.Stop()
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	if a.http != nil {
		a.http.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.log.Warn("failed to close datastore", logger.Error(err))
		}
	}
}

func (a *App) buildAnalyzer() (analyzer.Analyzer, error) {
	s := a.Settings.Analyzer
	switch s.Provider {
	case "gemini":
		return analyzer.NewGemini(a.http, analyzer.GeminiConfig{
			APIKey:    s.Gemini.APIKey,
			Model:     s.Gemini.Model,
			Endpoint:  s.Gemini.Endpoint,
			Timeout:   s.Gemini.Timeout,
			RateLimit: s.Gemini.RateLimit,
		}, nil)
	case "mock", "":
		return analyzer.NewMock(analyzer.MockConfig{
			MinDelay:    s.Mock.MinDelay,
			MaxDelay:    s.Mock.MaxDelay,
			FailureRate: s.Mock.FailureRate,
		}, nil), nil
	default:
		return nil, configError("analyzer.provider", s.Provider)
	}
}

func (a *App) buildProber() connectivity.Prober {
	var probers []connectivity.Prober
	if a.Settings.Connectivity.CheckInterfaces {
		probers = append(probers, connectivity.NewInterfaceProber())
	}
	if u := a.Settings.Connectivity.ProbeURL; u != "" {
		probers = append(probers, connectivity.NewHTTPProber(a.http, u))
	}
	switch len(probers) {
	case 0:
		return nil
	case 1:
		return probers[0]
	default:
		return connectivity.AllOf(probers...)
	}
}

func (a *App) buildFeedback() (feedback.Submitter, error) {
	s := a.Settings.Feedback
	switch s.Provider {
	case "http":
		return feedback.NewHTTPSubmitter(a.http, s.Endpoint, nil), nil
	case "mock", "":
		return feedback.NewMockSubmitter(nil), nil
	default:
		return nil, configError("feedback.provider", s.Provider)
	}
}

func (a *App) buildInventory() (inventory.Syncer, error) {
	s := a.Settings.Inventory
	switch s.Provider {
	case "mqtt":
		cfg := mqtt.DefaultConfig()
		cfg.Broker = s.MQTT.Broker
		cfg.ClientID = s.MQTT.ClientID
		cfg.Username = s.MQTT.Username
		cfg.Password = s.MQTT.Password
		client, err := mqtt.NewClient(cfg, a.mqttMetrics(), nil)
		if err != nil {
			return nil, err
		}
		a.mqtt = client
		return inventory.NewMQTTSyncer(client, s.MQTT.Topic, nil), nil
	case "mock", "":
		return inventory.NewMockSyncer(0, nil), nil
	default:
		return nil, configError("inventory.provider", s.Provider)
	}
}

func (a *App) buildNotifications() (*notification.Service, error) {
	s := a.Settings.Notification
	cfg := &notification.ServiceConfig{MaxNotifications: s.MaxNotifications}
	if s.Push.Enabled && len(s.Push.URLs) > 0 {
		provider, err := notification.NewShoutrrrProvider("shoutrrr", s.Push.URLs, s.Push.Timeout)
		if err != nil {
			return nil, errors.New(err).
				Component("app").
				Category(errors.CategoryConfiguration).
				Context("setting", "notification.push.urls").
				Build()
		}
		cfg.Push = notification.NewPushDispatcher([]notification.PushProvider{provider}, nil, s.Push.Timeout, nil)
		a.log.Info("push notifications enabled", logger.Int("urls", len(s.Push.URLs)))
	}
	return notification.NewService(cfg, nil), nil
}

func configError(setting, value string) error {
	return errors.Newf("unsupported %s %q", setting, value).
		Component("app").
		Category(errors.CategoryConfiguration).
		Context("setting", setting).
		Build()
}

// Metrics accessors return nil collectors when metrics are off; the
// collectors are nil-safe.

func (a *App) storageMetrics() *metrics.StorageMetrics {
	if a.Metrics == nil {
		return nil
	}
	return a.Metrics.Storage
}

func (a *App) syncMetrics() *metrics.SyncMetrics {
	if a.Metrics == nil {
		return nil
	}
	return a.Metrics.Sync
}

func (a *App) connectivityMetrics() *metrics.ConnectivityMetrics {
	if a.Metrics == nil {
		return nil
	}
	return a.Metrics.Connectivity
}

func (a *App) mqttMetrics() *metrics.MQTTMetrics {
	if a.Metrics == nil {
		return nil
	}
	return a.Metrics.MQTT
}
