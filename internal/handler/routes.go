package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"screeps-proxy-go/internal/config"
	"screeps-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Internal
// endpoints are matched before the catch-all dispatcher.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, dispatcher *Dispatcher, health *HealthHandler) {
	e.GET(config.InternalPrefix+"/healthz", health.Healthz)
	e.GET(config.InternalPrefix+"/status", health.Status)

	if cfg.Metrics.Enabled {
		metricsHandler := echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
		e.GET(cfg.Metrics.Path, func(c echo.Context) error {
			c.Set(metrics.RouteKey, metrics.RouteInternal)
			return metricsHandler(c)
		})
	}

	e.Any("/*", dispatcher.Handle)
}
