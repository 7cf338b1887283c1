// Package client provides the outbound HTTP transport used to reach game
// servers.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/jsonc"

	"screeps-proxy-go/internal/config"
	"screeps-proxy-go/internal/metrics"
	"screeps-proxy-go/internal/model"
)

// maxVersionBytes bounds how much of an /api/version response is read.
const maxVersionBytes = 1 << 20

// BackendClient sends requests to game servers. Its transport is shared with
// the reverse proxy so forwarded requests and version probes pool connections.
type BackendClient struct {
	httpClient *http.Client
	transport  http.RoundTripper
	logger     *slog.Logger
}

// NewBackendClient creates a BackendClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	var transport http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if m != nil {
		transport = &instrumentedTransport{next: transport, metrics: m}
	}

	return &BackendClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		transport: transport,
		logger:    logger.With("component", "backend_client"),
	}
}

// Transport returns the shared round tripper.
func (c *BackendClient) Transport() http.RoundTripper {
	return c.transport
}

// Version fetches and decodes origin/api/version. The body may contain
// comments or trailing commas.
func (c *BackendClient) Version(ctx context.Context, origin string) (*model.VersionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/api/version", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build version request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("version probe", "origin", origin)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("version request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("version request: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVersionBytes))
	if err != nil {
		return nil, fmt.Errorf("read version body: %w", err)
	}

	var v model.VersionInfo
	if err := json.Unmarshal(jsonc.ToJSON(body), &v); err != nil {
		return nil, fmt.Errorf("decode version body: %w", err)
	}
	return &v, nil
}

// instrumentedTransport records upstream latency and status codes.
type instrumentedTransport struct {
	next    http.RoundTripper
	metrics *metrics.Metrics
}

func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)
	t.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
	if err != nil {
		return nil, err
	}

	t.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}
