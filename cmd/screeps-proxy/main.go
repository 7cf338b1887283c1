package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	"github.com/pkg/browser"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"screeps-proxy-go/internal/archive"
	"screeps-proxy-go/internal/client"
	"screeps-proxy-go/internal/config"
	"screeps-proxy-go/internal/handler"
	"screeps-proxy-go/internal/locator"
	"screeps-proxy-go/internal/metrics"
	"screeps-proxy-go/internal/middleware"
	"screeps-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("screeps-proxy"),
		kong.Description("Serve the Screeps client from its package.nw and proxy it to any game server."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newSnapshot,
			func(s *archive.Snapshot) archive.Store { return s },
			locator.NewFromConfig,
			client.NewBackendClient,
			func(c *client.BackendClient) service.VersionProber { return c },
			func(c *client.BackendClient) http.RoundTripper { return c.Transport() },
			service.NewAssetService,
			service.NewForwarder,
			service.NewUpgradeForwarder,
			handler.NewDispatcher,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	return buildLogger(cfg, os.Stdout)
}

func buildLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		h = slog.NewJSONHandler(w, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	// Bridged sockets and streamed responses may stay open indefinitely.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	middleware.Use(e, cfg, logger, m)

	return e
}

// newSnapshot opens the client archive once for the life of the process.
func newSnapshot(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*archive.Snapshot, error) {
	s, err := archive.Open(cfg.Archive.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("client archive loaded",
		"path", cfg.Archive.Path,
		"files", s.Len(),
		"modified", s.ModTime().UTC().Format(time.RFC3339),
	)
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return s.Close()
		},
	})
	return s, nil
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("listening", "addr", addr, "url", cfg.ListenURL())
			if path := cfg.FilePath(); path != "" {
				logger.Info("config loaded", "path", path)
			}
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			if cfg.OpenBrowser {
				if err := browser.OpenURL(cfg.ListenURL()); err != nil {
					logger.Warn("could not open browser", "err", err)
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
