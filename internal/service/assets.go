// Package service implements asset responses and backend forwarding.
package service

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"screeps-proxy-go/internal/archive"
	"screeps-proxy-go/internal/config"
	"screeps-proxy-go/internal/locator"
	"screeps-proxy-go/internal/metrics"
	"screeps-proxy-go/internal/model"
	"screeps-proxy-go/internal/transform"
)

// ErrAssetNotFound is returned when the residual path has no archive entry.
// Callers fall through to forwarding.
var ErrAssetNotFound = errors.New("asset not found")

const (
	indexName    = "index.html"
	configName   = "config.js"
	immutableFor = "public,max-age=31536000,immutable"

	// officialFeature marks private servers that behave like the hosted game.
	officialFeature = "official-like"
)

// contentTypes maps lowercased file extensions to response content types.
var contentTypes = map[string]string{
	".css":   "text/css",
	".html":  "text/html",
	".js":    "text/javascript",
	".map":   "application/json",
	".png":   "image/png",
	".svg":   "image/svg+xml",
	".ttf":   "font/ttf",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

// VersionProber fetches a backend's /api/version document.
type VersionProber interface {
	Version(ctx context.Context, origin string) (*model.VersionInfo, error)
}

// AssetService serves client files out of the archive, rewriting the ones
// that need to know about the selected backend.
type AssetService struct {
	store   archive.Store
	prober  VersionProber
	locator *locator.Locator
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAssetService creates an AssetService. The metrics parameter is optional.
func NewAssetService(store archive.Store, prober VersionProber, loc *locator.Locator, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *AssetService {
	return &AssetService{
		store:   store,
		prober:  prober,
		locator: loc,
		cfg:     cfg,
		logger:  logger.With("component", "assets"),
		metrics: m,
	}
}

// Respond builds the response for sel.Path. It returns ErrAssetNotFound when
// the archive has no such entry. When req's conditional headers show the
// client copy is current, the returned asset has NotModified set and no
// transform runs.
func (s *AssetService) Respond(ctx context.Context, sel model.Selector, req *http.Request) (*model.Asset, error) {
	name := assetName(sel.Path)
	blob, ok := s.store.Lookup(name)
	if !ok {
		s.observe("not_found")
		return nil, ErrAssetNotFound
	}

	asset := &model.Asset{
		Name:         name,
		ContentType:  contentType(name),
		LastModified: s.store.ModTime().Truncate(s.cfg.Archive.Precision()).UTC(),
		Size:         -1,
	}
	if req.URL.Query().Get("bust") != "" {
		asset.CacheControl = immutableFor
	}

	if fresh(req, asset.LastModified) {
		asset.NotModified = true
		s.observe("not_modified")
		return asset, nil
	}

	switch {
	case name == indexName:
		text, err := blob.Text()
		if err != nil {
			return nil, err
		}
		if text, err = transform.IndexHTML(text, sel.Backend); err != nil {
			return nil, err
		}
		setText(asset, text)

	case name == configName:
		setText(asset, transform.ConfigJS(s.locator.Prefix(sel.Backend)))

	case strings.HasSuffix(name, ".js"):
		text, err := blob.Text()
		if err != nil {
			return nil, err
		}
		if name == transform.BundleName {
			text = s.patchBundle(ctx, sel.Backend, text)
		}
		if s.cfg.Assets.Beautify {
			if pretty, err := transform.Beautify(text); err != nil {
				s.logger.Warn("beautify failed", "asset", name, "err", err)
			} else {
				text = pretty
			}
		}
		setText(asset, text)

	default:
		rc, err := blob.Open()
		if err != nil {
			return nil, err
		}
		asset.Body = &bufferedBody{Reader: bufio.NewReader(rc), Closer: rc}
		asset.Size = blob.Size()
	}

	s.observe("served")
	return asset, nil
}

func (s *AssetService) patchBundle(ctx context.Context, backend, text string) string {
	u, err := url.Parse(backend)
	if err != nil {
		s.logger.Warn("bundle not patched", "backend", backend, "err", err)
		return text
	}

	official := u.Hostname() == transform.CanonicalHost
	if !official {
		official = s.probeOfficial(ctx, backend)
	}

	patched, stats, err := transform.PatchBundle(text, transform.BundleOptions{
		Backend:    backend,
		Official:   official,
		HistoryURL: "http://" + s.cfg.Server.Addr() + s.locator.Prefix(backend) + "/room-history",
	})
	if err != nil {
		s.logger.Warn("bundle not patched", "backend", backend, "err", err)
		return text
	}
	s.logger.Debug("bundle patched",
		"backend", backend,
		"official", official,
		"patched", stats.Patched,
		"skipped", stats.Skipped,
	)
	return patched
}

// probeOfficial asks the backend whether it advertises official-like
// behaviour. Any failure counts as no.
func (s *AssetService) probeOfficial(ctx context.Context, backend string) bool {
	v, err := s.prober.Version(ctx, s.cfg.Backend.Target(backend))
	if err != nil {
		s.logger.Debug("version probe failed", "backend", backend, "err", err)
		s.probed("error")
		return false
	}
	s.probed("ok")
	return v.HasFeature(officialFeature)
}

func (s *AssetService) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.AssetResponses.WithLabelValues(outcome).Inc()
	}
}

func (s *AssetService) probed(result string) {
	if s.metrics != nil {
		s.metrics.VersionProbes.WithLabelValues(result).Inc()
	}
}

func assetName(residual string) string {
	if residual == "/" {
		return indexName
	}
	return strings.TrimPrefix(residual, "/")
}

func contentType(name string) string {
	if ct, ok := contentTypes[path.Ext(strings.ToLower(name))]; ok {
		return ct
	}
	return contentTypes[".html"]
}

func setText(a *model.Asset, text string) {
	a.Body = io.NopCloser(strings.NewReader(text))
	a.Size = int64(len(text))
}

// fresh implements the If-Modified-Since half of conditional GET. Entity tags
// are never issued, so any If-None-Match other than "*" forces a full response.
func fresh(req *http.Request, lastModified time.Time) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	if strings.Contains(strings.ToLower(req.Header.Get("Cache-Control")), "no-cache") {
		return false
	}
	inm := strings.TrimSpace(req.Header.Get("If-None-Match"))
	ims := req.Header.Get("If-Modified-Since")
	switch {
	case inm == "" && ims == "":
		return false
	case inm != "" && inm != "*":
		return false
	case ims == "":
		return true
	}
	t, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	return !lastModified.After(t)
}

// bufferedBody reads an archive entry through a buffer while closing the
// underlying decompressor.
type bufferedBody struct {
	*bufio.Reader
	io.Closer
}
