// Package handler wires HTTP routes onto echo.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"screeps-proxy-go/internal/locator"
	"screeps-proxy-go/internal/metrics"
	"screeps-proxy-go/internal/model"
	"screeps-proxy-go/internal/service"
)

// Dispatcher routes every non-internal request: upgrades to the WebSocket
// forwarder, archive hits to the asset service, everything else to the
// backend.
type Dispatcher struct {
	locator   *locator.Locator
	assets    *service.AssetService
	forwarder *service.Forwarder
	upgrades  *service.UpgradeForwarder
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(loc *locator.Locator, assets *service.AssetService, fwd *service.Forwarder, up *service.UpgradeForwarder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		locator:   loc,
		assets:    assets,
		forwarder: fwd,
		upgrades:  up,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Handle dispatches one request.
func (d *Dispatcher) Handle(c echo.Context) error {
	req := c.Request()

	if req.Header.Get(echo.HeaderUpgrade) != "" {
		c.Set(metrics.RouteKey, metrics.RouteUpgrade)
		d.upgrades.ForwardUpgrade(c.Response(), req)
		return nil
	}

	sel, ok := d.locator.Locate(req.URL.Path)
	if !ok {
		c.Set(metrics.RouteKey, metrics.RouteUnresolved)
		d.logger.Info("unknown URL", "path", req.URL.Path)
		return c.NoContent(http.StatusNotFound)
	}

	asset, err := d.assets.Respond(req.Context(), sel, req)
	if errors.Is(err, service.ErrAssetNotFound) {
		c.Set(metrics.RouteKey, metrics.RouteForward)
		if !d.forwarder.Forward(c.Response(), req) {
			return c.NoContent(http.StatusNotFound)
		}
		return nil
	}

	c.Set(metrics.RouteKey, metrics.RouteAsset)
	if err != nil {
		d.logger.Error("asset error", "path", req.URL.Path, "err", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	return writeAsset(c, asset)
}

func writeAsset(c echo.Context, a *model.Asset) error {
	h := c.Response().Header()
	h.Set(echo.HeaderLastModified, a.LastModified.Format(http.TimeFormat))
	if a.CacheControl != "" {
		h.Set(echo.HeaderCacheControl, a.CacheControl)
	}
	if a.NotModified {
		return c.NoContent(http.StatusNotModified)
	}

	defer func() { _ = a.Body.Close() }()
	if a.Size >= 0 {
		h.Set(echo.HeaderContentLength, strconv.FormatInt(a.Size, 10))
	}
	return c.Stream(http.StatusOK, a.ContentType, a.Body)
}
