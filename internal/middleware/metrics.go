package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"screeps-proxy-go/internal/metrics"
)

// statusHijacked labels upgrade requests whose connection was taken over
// before any response was written through echo.
const statusHijacked = "hijacked"

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request, labelled by the route the handler reported.
// Upgrade requests are counted but kept out of the latency histogram since a
// bridged socket lives as long as the game session.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)

			route := routeOf(c)
			method := metrics.NormalizeMethod(c.Request().Method)
			status := statusLabel(c, err, route)

			m.RequestsTotal.WithLabelValues(method, status, route).Inc()
			if route != metrics.RouteUpgrade {
				m.RequestDuration.WithLabelValues(method, status, route).
					Observe(time.Since(start).Seconds())
			}
			return err
		}
	}
}

// statusLabel resolves the status code the client will see. An
// *echo.HTTPError has not been written yet at this point.
func statusLabel(c echo.Context, err error, route string) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return strconv.Itoa(he.Code)
	}
	res := c.Response()
	if route == metrics.RouteUpgrade && !res.Committed {
		return statusHijacked
	}
	return strconv.Itoa(res.Status)
}
