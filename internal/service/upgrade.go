package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"screeps-proxy-go/internal/config"
	"screeps-proxy-go/internal/locator"
	"screeps-proxy-go/internal/metrics"
	"screeps-proxy-go/internal/model"
)

const controlWriteWait = 10 * time.Second

// skippedUpgradeHeaders are set by the dialer itself.
var skippedUpgradeHeaders = map[string]bool{
	"Upgrade":                  true,
	"Connection":               true,
	"Sec-Websocket-Key":        true,
	"Sec-Websocket-Version":    true,
	"Sec-Websocket-Extensions": true,
	"Sec-Websocket-Protocol":   true,
}

// UpgradeForwarder bridges client WebSocket connections to the selected
// backend.
type UpgradeForwarder struct {
	locator  *locator.Locator
	cfg      *config.Config
	dialer   websocket.Dialer
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewUpgradeForwarder creates an UpgradeForwarder. The metrics parameter is optional.
func NewUpgradeForwarder(loc *locator.Locator, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpgradeForwarder {
	return &UpgradeForwarder{
		locator: loc,
		cfg:     cfg,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger.With("component", "upgrade_forwarder"),
		metrics: m,
	}
}

// ForwardUpgrade handles an upgrade request. Requests whose Upgrade header is
// not "websocket", or whose path does not resolve, have their connection
// closed without a response. Otherwise the backend is dialed first and the
// client is upgraded only once the backend accepted; the call then blocks
// until either side closes.
func (u *UpgradeForwarder) ForwardUpgrade(w http.ResponseWriter, r *http.Request) model.UpgradeOutcome {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		u.reject(w, r, "unsupported upgrade")
		return u.done(model.UpgradeRejected)
	}
	sel, ok := u.locator.Locate(r.URL.Path)
	if !ok {
		u.reject(w, r, "unknown URL")
		return u.done(model.UpgradeRejected)
	}

	target, err := socketURL(u.cfg.Backend.Target(sel.Backend), sel.Path, r.URL.RawQuery)
	if err != nil {
		u.logger.Error("invalid backend origin", "backend", sel.Backend, "err", err)
		w.WriteHeader(http.StatusBadGateway)
		return u.done(model.UpgradeFailed)
	}

	dialer := u.dialer
	dialer.Subprotocols = websocket.Subprotocols(r)

	backendConn, resp, err := dialer.DialContext(r.Context(), target, upgradeHeaders(r.Header))
	if err != nil {
		attrs := []any{"target", target, "err", err}
		if resp != nil {
			attrs = append(attrs, "status", resp.StatusCode)
		}
		u.logger.Error("backend dial failed", attrs...)
		w.WriteHeader(http.StatusBadGateway)
		return u.done(model.UpgradeFailed)
	}

	respHeader := http.Header{}
	if proto := backendConn.Subprotocol(); proto != "" {
		respHeader.Set("Sec-Websocket-Protocol", proto)
	}
	if cookies := resp.Header.Values("Set-Cookie"); len(cookies) > 0 {
		respHeader["Set-Cookie"] = cookies
	}

	clientConn, err := u.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		// Upgrade has already answered the client.
		u.logger.Error("client upgrade failed", "path", r.URL.Path, "err", err)
		_ = backendConn.Close()
		return u.done(model.UpgradeFailed)
	}

	u.done(model.UpgradeForwarded)
	if u.metrics != nil {
		u.metrics.UpgradesActive.Inc()
		defer u.metrics.UpgradesActive.Dec()
	}

	u.logger.Debug("websocket bridge open", "target", target)
	if err := bridge(clientConn, backendConn); err != nil {
		u.logger.Warn("websocket bridge closed with error", "target", target, "err", err)
	} else {
		u.logger.Debug("websocket bridge closed", "target", target)
	}
	return model.UpgradeForwarded
}

// reject closes the underlying connection without writing a response.
func (u *UpgradeForwarder) reject(w http.ResponseWriter, r *http.Request, reason string) {
	u.logger.Info(reason, "path", r.URL.Path, "upgrade", r.Header.Get("Upgrade"))

	conn, _, err := http.NewResponseController(w).Hijack()
	if err != nil {
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	_ = conn.Close()
}

func (u *UpgradeForwarder) done(outcome model.UpgradeOutcome) model.UpgradeOutcome {
	if u.metrics != nil {
		u.metrics.Upgrades.WithLabelValues(string(outcome)).Inc()
	}
	return outcome
}

// socketURL maps an http(s) origin onto the ws(s) URL for path and query.
func socketURL(origin, path, rawQuery string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = rawQuery
	return u.String(), nil
}

func upgradeHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, v := range src {
		if skippedUpgradeHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		dst[k] = v
	}
	return dst
}

// bridge copies frames between a and b until either side closes. Ping, pong
// and close frames are relayed to the other side.
func bridge(a, b *websocket.Conn) error {
	var closing atomic.Bool
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			closing.Store(true)
			_ = a.Close()
			_ = b.Close()
		})
	}

	relayControl(a, b)
	relayControl(b, a)

	var g errgroup.Group
	g.Go(func() error {
		defer closeBoth()
		return pump(b, a, &closing)
	})
	g.Go(func() error {
		defer closeBoth()
		return pump(a, b, &closing)
	})
	return g.Wait()
}

func relayControl(src, dst *websocket.Conn) {
	src.SetPingHandler(func(data string) error {
		return dst.WriteControl(websocket.PingMessage, []byte(data), time.Now().Add(controlWriteWait))
	})
	src.SetPongHandler(func(data string) error {
		return dst.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlWriteWait))
	})
	src.SetCloseHandler(func(code int, text string) error {
		_ = dst.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(controlWriteWait))
		return nil
	})
}

// pump copies data messages from src to dst.
func pump(dst, src *websocket.Conn, closing *atomic.Bool) error {
	for {
		mt, r, err := src.NextReader()
		if err != nil {
			return bridgeError(err, closing)
		}
		wc, err := dst.NextWriter(mt)
		if err != nil {
			return bridgeError(err, closing)
		}
		if _, err := io.Copy(wc, r); err != nil {
			_ = wc.Close()
			return bridgeError(err, closing)
		}
		if err := wc.Close(); err != nil {
			return bridgeError(err, closing)
		}
	}
}

// bridgeError drops errors caused by an orderly close on either side.
func bridgeError(err error, closing *atomic.Bool) error {
	if closing.Load() {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if websocket.IsUnexpectedCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
			websocket.CloseAbnormalClosure,
		) {
			return err
		}
		return nil
	}
	return err
}
