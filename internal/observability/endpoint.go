package observability

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
)

// MetricsPath is where the registry is exposed.
const MetricsPath = "/metrics"

// RegisterRoutes mounts the metrics endpoint on e.
func (m *Metrics) RegisterRoutes(e *echo.Echo) {
	e.GET(MetricsPath, echo.WrapHandler(m.Handler()))
	GetLogger().Info("metrics endpoint registered", logger.String("path", MetricsPath))
}

// Middleware records request counts and latencies by route template. The
// metrics endpoint itself is not recorded.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == MetricsPath {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				// The error handler has not run yet, so derive the code it will write.
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else if status < 400 {
					status = 500
				}
			}
			m.HTTP.RecordRequest(c.Request().Method, c.Path(), status, time.Since(start))
			return err
		}
	}
}
