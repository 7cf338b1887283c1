package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	_, err := zw.Create("assets/")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestNew_Lookup(t *testing.T) {
	data := buildZip(t, map[string]string{
		"index.html":      "<title>Screeps</title>",
		"build.min.js":    "var a=1;",
		"assets/logo.svg": "<svg/>",
	})
	mod := time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)

	s, err := New(bytes.NewReader(data), int64(len(data)), mod)
	require.NoError(t, err)

	assert.Equal(t, 3, s.Len(), "directory entries are skipped")
	assert.Equal(t, mod, s.ModTime())

	b, ok := s.Lookup("index.html")
	require.True(t, ok)
	assert.Equal(t, "index.html", b.Name())
	assert.EqualValues(t, len("<title>Screeps</title>"), b.Size())

	text, err := b.Text()
	require.NoError(t, err)
	assert.Equal(t, "<title>Screeps</title>", text)

	_, ok = s.Lookup("/index.html")
	assert.False(t, ok, "keys carry no leading slash")
	_, ok = s.Lookup("assets/")
	assert.False(t, ok)
	_, ok = s.Lookup("missing.js")
	assert.False(t, ok)
}

func TestBlob_OpenConcurrent(t *testing.T) {
	data := buildZip(t, map[string]string{"assets/logo.svg": "<svg/>"})
	s, err := New(bytes.NewReader(data), int64(len(data)), time.Now())
	require.NoError(t, err)

	b, ok := s.Lookup("assets/logo.svg")
	require.True(t, ok)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rc, err := b.Open()
			if !assert.NoError(t, err) {
				return
			}
			defer func() { _ = rc.Close() }()
			got, err := io.ReadAll(rc)
			assert.NoError(t, err)
			assert.Equal(t, "<svg/>", string(got))
		}()
	}
	wg.Wait()
}

func TestNew_NotAZip(t *testing.T) {
	data := []byte("definitely not a zip archive")
	_, err := New(bytes.NewReader(data), int64(len(data)), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoArchive))
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "package.nw")
	require.NoError(t, os.WriteFile(path, buildZip(t, map[string]string{"config.js": "x"}), 0o644))
	mod := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mod, mod))

	s, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.True(t, s.ModTime().Equal(mod))
	_, ok := s.Lookup("config.js")
	assert.True(t, ok)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.nw"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoArchive))
}

func TestBlob_TextCorruptSize(t *testing.T) {
	data := buildZip(t, map[string]string{"build.min.js": "var a=1;"})

	// Declare a ~4 GiB uncompressed size in the central directory.
	dir := bytes.Index(data, []byte("PK\x01\x02"))
	require.GreaterOrEqual(t, dir, 0)
	binary.LittleEndian.PutUint32(data[dir+24:], 0xFFFFFFFE)

	s, err := New(bytes.NewReader(data), int64(len(data)), time.Now())
	require.NoError(t, err)
	blob, ok := s.Lookup("build.min.js")
	require.True(t, ok)
	require.Equal(t, int64(0xFFFFFFFE), blob.Size())

	_, err = blob.Text()
	assert.Error(t, err)
}
