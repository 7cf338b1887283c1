// Package middleware provides Echo middleware for logging, metrics and
// response headers.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"screeps-proxy-go/internal/metrics"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Requests for the proxy's own endpoints are logged at debug level.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			route := routeOf(c)

			level := slog.LevelInfo
			if route == metrics.RouteInternal {
				level = slog.LevelDebug
			}
			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", req.URL.Path,
				"route", route,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}

// routeOf returns the bounded route label a handler recorded for c.
func routeOf(c echo.Context) string {
	route, _ := c.Get(metrics.RouteKey).(string)
	return metrics.NormalizeRoute(route)
}
