// Package observability assembles the Prometheus registry and exposes it over
// HTTP.
package observability

import "github.com/tphakala/pipecounter/internal/logger"

// GetLogger returns the package logger. Resolved lazily so the central logger
// installed at startup is picked up.
func GetLogger() logger.Logger {
	return logger.Global().Module("observability")
}
