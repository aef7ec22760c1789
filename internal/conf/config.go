// Package conf loads PipeCounter settings from config.yaml, PIPECOUNTER_*
// environment variables and command line flags.
package conf

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
)

//go:embed config.yaml
var defaultConfigYAML []byte

// EnvPrefix is prepended to environment overrides, e.g. PIPECOUNTER_SYNC_CONCURRENCY.
const EnvPrefix = "PIPECOUNTER"

// Settings is the root of the configuration tree.
type Settings struct {
	Debug bool `yaml:"debug"`

	Main struct {
		Name    string `yaml:"name"`
		DataDir string `yaml:"datadir"` // relative paths below resolve against this
	} `yaml:"main"`

	Logging      LoggingSettings      `yaml:"logging"`
	Datastore    DatastoreSettings    `yaml:"datastore"`
	History      HistorySettings      `yaml:"history"`
	Analyzer     AnalyzerSettings     `yaml:"analyzer"`
	Connectivity ConnectivitySettings `yaml:"connectivity"`
	Sync         SyncSettings         `yaml:"sync"`
	Feedback     FeedbackSettings     `yaml:"feedback"`
	Inventory    InventorySettings    `yaml:"inventory"`
	Notification NotificationSettings `yaml:"notification"`
	Privacy      PrivacySettings      `yaml:"privacy"`
	WebServer    WebServerSettings    `yaml:"webserver"`
	Telemetry    TelemetrySettings    `yaml:"telemetry"`
}

// LoggingSettings controls console and rotated file output.
type LoggingSettings struct {
	Level    string `yaml:"level"`
	Timezone string `yaml:"timezone"`
	Console  bool   `yaml:"console"`
	File     struct {
		Enabled    bool   `yaml:"enabled"`
		Path       string `yaml:"path"`
		MaxSize    int    `yaml:"maxsize"` // MB
		MaxAge     int    `yaml:"maxage"`  // days
		MaxBackups int    `yaml:"maxbackups"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"file"`
	ModuleLevels map[string]string `yaml:"modulelevels"`
}

// DatastoreSettings selects the GORM dialector.
type DatastoreSettings struct {
	Type   string `yaml:"type"` // sqlite or mysql
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	MySQL struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
	} `yaml:"mysql"`
	MinFreeBytes uint64 `yaml:"minfreebytes"` // enqueue fails below this much free space; 0 disables
}

// HistorySettings bounds the history list.
type HistorySettings struct {
	Capacity int `yaml:"capacity"`
}

// AnalyzerSettings selects and configures the remote analyzer.
type AnalyzerSettings struct {
	Provider string `yaml:"provider"` // mock or gemini
	Gemini   struct {
		APIKey    string        `yaml:"apikey"`
		Model     string        `yaml:"model"`
		Endpoint  string        `yaml:"endpoint"`
		Timeout   time.Duration `yaml:"timeout"`
		RateLimit float64       `yaml:"ratelimit"` // requests per second
	} `yaml:"gemini"`
	Mock struct {
		MinDelay    time.Duration `yaml:"mindelay"`
		MaxDelay    time.Duration `yaml:"maxdelay"`
		FailureRate float64       `yaml:"failurerate"`
	} `yaml:"mock"`
}

// ConnectivitySettings configures the probers behind the connectivity monitor.
type ConnectivitySettings struct {
	ProbeInterval   time.Duration `yaml:"probeinterval"`
	ProbeURL        string        `yaml:"probeurl"`
	CheckInterfaces bool          `yaml:"checkinterfaces"`
}

// SyncSettings configures the queue drain.
type SyncSettings struct {
	Concurrency int `yaml:"concurrency"` // 0 means unlimited
}

// FeedbackSettings selects the feedback collaborator.
type FeedbackSettings struct {
	Provider string `yaml:"provider"` // mock or http
	Endpoint string `yaml:"endpoint"`
}

// InventorySettings selects the inventory collaborator.
type InventorySettings struct {
	Provider  string        `yaml:"provider"` // mock or mqtt
	StatusTTL time.Duration `yaml:"statusttl"`
	MQTT      MQTTSettings  `yaml:"mqtt"`
}

// MQTTSettings holds broker connection details.
type MQTTSettings struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientid"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
}

// NotificationSettings bounds the in-memory feed and configures push forwarding.
type NotificationSettings struct {
	MaxNotifications int `yaml:"maxnotifications"`
	Push             struct {
		Enabled bool          `yaml:"enabled"`
		URLs    []string      `yaml:"urls"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"push"`
}

// PrivacySettings gates AI analysis behind stored consent.
type PrivacySettings struct {
	RequireConsent bool `yaml:"requireconsent"`
}

// WebServerSettings configures the HTTP API listener.
type WebServerSettings struct {
	Listen string `yaml:"listen"`
}

// TelemetrySettings toggles metrics and error reporting.
type TelemetrySettings struct {
	Metrics bool `yaml:"metrics"`
	Sentry  struct {
		Enabled bool   `yaml:"enabled"`
		DSN     string `yaml:"dsn"`
	} `yaml:"sentry"`
}

// Load reads configFile, or searches the default config paths when it is
// empty. A missing config file is not an error; defaults apply.
func Load(configFile string) (*Settings, error) {
	if err := initViper(configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		for _, path := range DefaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaultConfig()

	err := viper.ReadInConfig()
	if err == nil {
		GetLogger().Debug("config file loaded", logger.String("path", viper.ConfigFileUsed()))
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if configFile == "" && errors.As(err, &notFound) {
		GetLogger().Info("no config file found, using defaults",
			logger.Strings("searched", DefaultConfigPaths()))
		return nil
	}

	return errors.New(err).
		Component("configuration").
		Category(errors.CategoryConfiguration).
		Context("operation", "read_config").
		Build()
}

// DefaultConfigPaths lists the directories searched for config.yaml, in order.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pipecounter"))
	}
	return append(paths, "/etc/pipecounter")
}

// WriteDefaultConfig writes the annotated default config to path, refusing to
// overwrite an existing file.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists at %s", path).
			Component("configuration").
			Category(errors.CategoryConflict).
			Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Component("configuration").
			Category(errors.CategoryFileIO).
			Context("operation", "create_config_dir").
			Build()
	}
	if err := os.WriteFile(path, defaultConfigYAML, 0o600); err != nil {
		return errors.New(err).
			Component("configuration").
			Category(errors.CategoryFileIO).
			Context("operation", "write_config").
			Build()
	}
	return nil
}

// ResolvePath anchors a relative path under Main.DataDir.
func (s *Settings) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || s.Main.DataDir == "" {
		return p
	}
	return filepath.Join(s.Main.DataDir, p)
}

// LoggerConfig converts the logging section for logger.NewCentralLogger.
func (s *Settings) LoggerConfig() *logger.LoggingConfig {
	level := s.Logging.Level
	if s.Debug {
		level = string(logger.LogLevelDebug)
	}

	cfg := &logger.LoggingConfig{
		DefaultLevel: level,
		Timezone:     s.Logging.Timezone,
		Console:      &logger.ConsoleOutput{Enabled: s.Logging.Console, Level: level},
		ModuleLevels: s.Logging.ModuleLevels,
	}
	if s.Logging.File.Enabled {
		cfg.FileOutput = &logger.FileOutput{
			Enabled:    true,
			Path:       s.ResolvePath(s.Logging.File.Path),
			Level:      level,
			MaxSize:    s.Logging.File.MaxSize,
			MaxAge:     s.Logging.File.MaxAge,
			MaxBackups: s.Logging.File.MaxBackups,
			Compress:   s.Logging.File.Compress,
		}
	}
	return cfg
}

// GetLogger returns the config module logger from the current global logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
