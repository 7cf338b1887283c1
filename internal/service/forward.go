package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"screeps-proxy-go/internal/config"
	"screeps-proxy-go/internal/locator"
	"screeps-proxy-go/internal/model"
)

const authPrefix = "/api/auth"

type forwardKey struct{}

// forwardTarget is the per-request rewrite handed to the reverse proxy.
type forwardTarget struct {
	origin   *url.URL
	path     string
	rawPath  string
	rawQuery string
}

// Forwarder relays HTTP requests to the selected backend.
type Forwarder struct {
	locator *locator.Locator
	cfg     *config.Config
	proxy   *httputil.ReverseProxy
	logger  *slog.Logger
}

// NewForwarder creates a Forwarder that dials through transport.
func NewForwarder(loc *locator.Locator, cfg *config.Config, transport http.RoundTripper, logger *slog.Logger) *Forwarder {
	f := &Forwarder{
		locator: loc,
		cfg:     cfg,
		logger:  logger.With("component", "forwarder"),
	}
	f.proxy = &httputil.ReverseProxy{
		Rewrite:      rewrite,
		Transport:    transport,
		ErrorHandler: f.handleError,
		ErrorLog:     slog.NewLogLogger(f.logger.Handler(), slog.LevelWarn),
	}
	return f
}

// Forward relays r to the backend its path selects, re-deriving the selector
// from the full request path. It reports false, without writing anything,
// when the path does not resolve.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request) bool {
	sel, ok := f.locator.Locate(r.URL.Path)
	if !ok {
		return false
	}

	origin, err := url.Parse(f.cfg.Backend.Target(sel.Backend))
	if err != nil {
		f.logger.Error("invalid backend origin", "backend", sel.Backend, "err", err)
		w.WriteHeader(http.StatusBadGateway)
		return true
	}

	t := &forwardTarget{
		origin:   origin,
		rawQuery: forwardQuery(sel, r.URL.RawQuery),
	}
	t.path, t.rawPath = f.escapedResidual(r.URL, sel.Path)

	f.logger.Debug("forwarding",
		"method", r.Method,
		"backend", origin.String(),
		"path", t.path,
	)

	ctx := context.WithValue(r.Context(), forwardKey{}, t)
	if secs := f.cfg.Upstream.TimeoutSeconds; secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}
	f.proxy.ServeHTTP(w, r.WithContext(ctx))
	return true
}

// escapedResidual re-derives the residual from the request's escaped path so
// encoded separators such as %2F reach the backend as sent. It falls back to
// the decoded residual when the escaped form does not resolve.
func (f *Forwarder) escapedResidual(u *url.URL, decoded string) (path, rawPath string) {
	esc, ok := f.locator.Locate(u.EscapedPath())
	if !ok {
		return decoded, ""
	}
	unescaped, err := url.PathUnescape(esc.Path)
	if err != nil {
		return decoded, ""
	}
	if unescaped == esc.Path {
		return unescaped, ""
	}
	return unescaped, esc.Path
}

// forwardQuery appends the return URL auth endpoints redirect back to.
func forwardQuery(sel model.Selector, rawQuery string) string {
	if !strings.HasPrefix(sel.Path, authPrefix) {
		return rawQuery
	}
	param := "returnUrl=" + url.QueryEscape(sel.Backend)
	if rawQuery == "" {
		return param
	}
	return rawQuery + "&" + param
}

func rewrite(pr *httputil.ProxyRequest) {
	t := pr.In.Context().Value(forwardKey{}).(*forwardTarget)
	pr.Out.URL.Path = t.path
	pr.Out.URL.RawPath = t.rawPath
	pr.Out.URL.RawQuery = t.rawQuery
	pr.SetURL(t.origin)
}

// handleError maps transport failures to empty-bodied gateway errors. A
// client that went away gets nothing.
func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		f.logger.Debug("client disconnected", "path", r.URL.Path)
		return
	}

	f.logger.Error("forward error",
		"err", err,
		"path", r.URL.Path,
	)

	if errors.Is(err, context.DeadlineExceeded) {
		w.WriteHeader(http.StatusGatewayTimeout)
		return
	}
	w.WriteHeader(http.StatusBadGateway)
}
