package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"screeps-proxy-go/internal/config"
	"screeps-proxy-go/internal/metrics"
)

func testConfig(timeout int) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  timeout,
			IdleConnections: 10,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBackendClient_Version(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/api/version")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			// served by a private server
			"ok": 1,
			"protocol": 14,
			"useNativeAuth": false,
			"serverData": {"features": [{"name": "Official-Like", "version": 1},]},
		}`))
	}))
	defer srv.Close()

	c := NewBackendClient(testConfig(10), discardLogger(), nil)

	v, err := c.Version(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v.Protocol != 14 {
		t.Errorf("Protocol = %d, want %d", v.Protocol, 14)
	}
	if !v.HasFeature("official-like") {
		t.Error("HasFeature(official-like) = false, want true")
	}
}

func TestBackendClient_Version_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	c := NewBackendClient(testConfig(10), discardLogger(), nil)

	if _, err := c.Version(context.Background(), srv.URL); err == nil {
		t.Fatal("Version() expected error for malformed body, got nil")
	}
}

func TestBackendClient_Version_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewBackendClient(testConfig(10), discardLogger(), nil)

	if _, err := c.Version(context.Background(), srv.URL); err == nil {
		t.Fatal("Version() expected error for 404, got nil")
	}
}

func TestBackendClient_Version_Unreachable(t *testing.T) {
	c := NewBackendClient(testConfig(1), discardLogger(), nil)

	if _, err := c.Version(context.Background(), "http://127.0.0.1:1"); err == nil {
		t.Fatal("Version() expected error for unreachable host, got nil")
	}
}

func TestBackendClient_Version_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewBackendClient(testConfig(0), discardLogger(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := c.Version(ctx, srv.URL); err == nil {
		t.Fatal("Version() expected error for canceled context, got nil")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Version() took %v, expected prompt cancellation", elapsed)
	}
}

func TestBackendClient_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"protocol":1}`))
	}))
	defer srv.Close()

	m := metrics.New()
	c := NewBackendClient(testConfig(10), discardLogger(), m)

	if _, err := c.Version(context.Background(), srv.URL); err != nil {
		t.Fatalf("Version() error = %v", err)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() != "screeps_proxy_upstream_responses_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "status_code" && lp.GetValue() == "200" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected screeps_proxy_upstream_responses_total with status_code=200")
	}
}

func TestBackendClient_TransportShared(t *testing.T) {
	c := NewBackendClient(testConfig(10), discardLogger(), metrics.New())
	if c.Transport() == nil {
		t.Fatal("Transport() = nil")
	}
	if _, ok := c.Transport().(*instrumentedTransport); !ok {
		t.Errorf("Transport() = %T, want *instrumentedTransport", c.Transport())
	}
}
