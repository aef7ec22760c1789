// conf/validate.go
package conf

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError collects every problem found in the settings.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings checks the loaded settings and reports all problems at once.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	checks := []func(*Settings) []string{
		validateDatastoreSettings,
		validateHistorySettings,
		validateAnalyzerSettings,
		validateConnectivitySettings,
		validateCollaboratorSettings,
		validateNotificationSettings,
		validateWebServerSettings,
		validateTelemetrySettings,
	}
	for _, check := range checks {
		ve.Errors = append(ve.Errors, check(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDatastoreSettings(s *Settings) []string {
	var errs []string
	switch s.Datastore.Type {
	case "sqlite":
		if s.Datastore.SQLite.Path == "" {
			errs = append(errs, "datastore.sqlite.path must be set")
		}
	case "mysql":
		if s.Datastore.MySQL.Host == "" {
			errs = append(errs, "datastore.mysql.host must be set")
		}
		if s.Datastore.MySQL.Database == "" {
			errs = append(errs, "datastore.mysql.database must be set")
		}
	default:
		errs = append(errs, fmt.Sprintf("datastore.type must be sqlite or mysql, got %q", s.Datastore.Type))
	}
	return errs
}

func validateHistorySettings(s *Settings) []string {
	if s.History.Capacity < 1 {
		return []string{fmt.Sprintf("history.capacity must be at least 1, got %d", s.History.Capacity)}
	}
	return nil
}

func validateAnalyzerSettings(s *Settings) []string {
	var errs []string
	a := &s.Analyzer
	switch a.Provider {
	case "mock":
		if a.Mock.FailureRate < 0 || a.Mock.FailureRate > 1 {
			errs = append(errs, "analyzer.mock.failurerate must be between 0 and 1")
		}
		if a.Mock.MinDelay < 0 || a.Mock.MaxDelay < a.Mock.MinDelay {
			errs = append(errs, "analyzer.mock.maxdelay must not be less than mindelay")
		}
	case "gemini":
		if a.Gemini.APIKey == "" {
			errs = append(errs, "analyzer.gemini.apikey must be set when provider is gemini")
		}
		if a.Gemini.Model == "" {
			errs = append(errs, "analyzer.gemini.model must be set")
		}
		if _, err := url.ParseRequestURI(a.Gemini.Endpoint); err != nil {
			errs = append(errs, fmt.Sprintf("analyzer.gemini.endpoint is not a valid URL: %q", a.Gemini.Endpoint))
		}
		if a.Gemini.RateLimit <= 0 {
			errs = append(errs, "analyzer.gemini.ratelimit must be positive")
		}
	default:
		errs = append(errs, fmt.Sprintf("analyzer.provider must be mock or gemini, got %q", a.Provider))
	}
	return errs
}

func validateConnectivitySettings(s *Settings) []string {
	var errs []string
	if s.Connectivity.ProbeInterval <= 0 {
		errs = append(errs, "connectivity.probeinterval must be positive")
	}
	if s.Connectivity.ProbeURL != "" {
		if _, err := url.ParseRequestURI(s.Connectivity.ProbeURL); err != nil {
			errs = append(errs, fmt.Sprintf("connectivity.probeurl is not a valid URL: %q", s.Connectivity.ProbeURL))
		}
	}
	if s.Sync.Concurrency < 0 {
		errs = append(errs, "sync.concurrency must not be negative")
	}
	return errs
}

func validateCollaboratorSettings(s *Settings) []string {
	var errs []string

	switch s.Feedback.Provider {
	case "mock":
	case "http":
		if s.Feedback.Endpoint == "" {
			errs = append(errs, "feedback.endpoint must be set when provider is http")
		}
	default:
		errs = append(errs, fmt.Sprintf("feedback.provider must be mock or http, got %q", s.Feedback.Provider))
	}

	switch s.Inventory.Provider {
	case "mock":
	case "mqtt":
		if s.Inventory.MQTT.Broker == "" {
			errs = append(errs, "inventory.mqtt.broker must be set when provider is mqtt")
		}
		if s.Inventory.MQTT.Topic == "" {
			errs = append(errs, "inventory.mqtt.topic must be set when provider is mqtt")
		}
	default:
		errs = append(errs, fmt.Sprintf("inventory.provider must be mock or mqtt, got %q", s.Inventory.Provider))
	}

	if s.Inventory.StatusTTL < 0 {
		errs = append(errs, "inventory.statusttl must not be negative")
	}
	return errs
}

func validateNotificationSettings(s *Settings) []string {
	var errs []string
	if s.Notification.MaxNotifications < 1 {
		errs = append(errs, "notification.maxnotifications must be at least 1")
	}
	if s.Notification.Push.Enabled && len(s.Notification.Push.URLs) == 0 {
		errs = append(errs, "notification.push.urls must list at least one URL when push is enabled")
	}
	return errs
}

func validateWebServerSettings(s *Settings) []string {
	if strings.TrimSpace(s.WebServer.Listen) == "" {
		return []string{"webserver.listen must be set"}
	}
	return nil
}

func validateTelemetrySettings(s *Settings) []string {
	if s.Telemetry.Sentry.Enabled && s.Telemetry.Sentry.DSN == "" {
		return []string{"telemetry.sentry.dsn must be set when sentry is enabled"}
	}
	return nil
}
