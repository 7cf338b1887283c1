package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"screeps-proxy-go/internal/archive"
	"screeps-proxy-go/internal/config"
	"screeps-proxy-go/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Host: "localhost", Port: 8080},
		Archive: config.ArchiveConfig{LastModifiedPrecision: "minute"},
	}
}

func newStore(t *testing.T, files map[string]string, modTime time.Time) *archive.Snapshot {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	s, err := archive.New(bytes.NewReader(buf.Bytes()), int64(buf.Len()), modTime)
	require.NoError(t, err)
	return s
}

type fakeProber struct {
	mu      sync.Mutex
	info    *model.VersionInfo
	err     error
	origins []string
}

func (p *fakeProber) Version(_ context.Context, origin string) (*model.VersionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.origins = append(p.origins, origin)
	return p.info, p.err
}

func (p *fakeProber) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.origins...)
}

// counterValue returns the value of the counter with the given label pair, or
// zero when it has not been recorded.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}
