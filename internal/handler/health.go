package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"screeps-proxy-go/internal/archive"
	"screeps-proxy-go/internal/config"
	"screeps-proxy-go/internal/metrics"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	store   archive.Store
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, store archive.Store, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, store: store, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	c.Set(metrics.RouteKey, metrics.RouteInternal)
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	c.Set(metrics.RouteKey, metrics.RouteInternal)

	mode := "path"
	if h.cfg.Backend.Fixed != "" {
		mode = "fixed"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":           "ok",
		"version":          string(h.version),
		"mode":             mode,
		"backend":          h.cfg.Backend.Fixed,
		"internal_backend": h.cfg.Backend.Internal,
		"archive_files":    h.store.Len(),
		"archive_modified": h.store.ModTime().UTC().Format(time.RFC3339),
	})
}
