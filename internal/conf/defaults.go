// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "PipeCounter")
	viper.SetDefault("main.datadir", "data")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console", true)
	viper.SetDefault("logging.file.enabled", true)
	viper.SetDefault("logging.file.path", "logs/pipecounter.log")
	viper.SetDefault("logging.file.maxsize", 100)
	viper.SetDefault("logging.file.maxage", 30)
	viper.SetDefault("logging.file.maxbackups", 10)
	viper.SetDefault("logging.file.compress", false)

	viper.SetDefault("datastore.type", "sqlite")
	viper.SetDefault("datastore.sqlite.path", "pipecounter.db")
	viper.SetDefault("datastore.mysql.host", "localhost")
	viper.SetDefault("datastore.mysql.port", "3306")
	viper.SetDefault("datastore.mysql.username", "")
	viper.SetDefault("datastore.mysql.password", "")
	viper.SetDefault("datastore.mysql.database", "pipecounter")
	viper.SetDefault("datastore.minfreebytes", 10*1024*1024)

	viper.SetDefault("history.capacity", 50)

	viper.SetDefault("analyzer.provider", "mock")
	viper.SetDefault("analyzer.gemini.apikey", "")
	viper.SetDefault("analyzer.gemini.model", "gemini-2.5-flash")
	viper.SetDefault("analyzer.gemini.endpoint", "https://generativelanguage.googleapis.com/v1beta")
	viper.SetDefault("analyzer.gemini.timeout", 60*time.Second)
	viper.SetDefault("analyzer.gemini.ratelimit", 1.0)
	viper.SetDefault("analyzer.mock.mindelay", time.Second)
	viper.SetDefault("analyzer.mock.maxdelay", 2*time.Second)
	viper.SetDefault("analyzer.mock.failurerate", 0.05)

	viper.SetDefault("connectivity.probeinterval", 10*time.Second)
	viper.SetDefault("connectivity.probeurl", "")
	viper.SetDefault("connectivity.checkinterfaces", true)

	viper.SetDefault("sync.concurrency", 4)

	viper.SetDefault("feedback.provider", "mock")
	viper.SetDefault("feedback.endpoint", "")

	viper.SetDefault("inventory.provider", "mock")
	viper.SetDefault("inventory.statusttl", 10*time.Minute)
	viper.SetDefault("inventory.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("inventory.mqtt.clientid", "pipecounter")
	viper.SetDefault("inventory.mqtt.username", "")
	viper.SetDefault("inventory.mqtt.password", "")
	viper.SetDefault("inventory.mqtt.topic", "pipecounter/inventory")

	viper.SetDefault("notification.maxnotifications", 100)
	viper.SetDefault("notification.push.enabled", false)
	viper.SetDefault("notification.push.urls", []string{})
	viper.SetDefault("notification.push.timeout", 10*time.Second)

	viper.SetDefault("privacy.requireconsent", true)

	viper.SetDefault("webserver.listen", "127.0.0.1:8080")

	viper.SetDefault("telemetry.metrics", true)
	viper.SetDefault("telemetry.sentry.enabled", false)
	viper.SetDefault("telemetry.sentry.dsn", "")
}
