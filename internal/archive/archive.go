// Package archive loads the client package and serves its entries read-only.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// ErrNoArchive is returned when the client package cannot be opened.
var ErrNoArchive = errors.New("client package not readable")

// Store is a read-only view of the client package. Lookups are safe for
// concurrent use.
type Store interface {
	// Lookup returns the entry at name, a slash-separated path with no leading slash.
	Lookup(name string) (*Blob, bool)
	// ModTime is the single modification time shared by every entry.
	ModTime() time.Time
	// Len is the number of file entries.
	Len() int
}

// Blob is one immutable archive entry.
type Blob struct {
	f *zip.File
}

// Name returns the entry path inside the archive.
func (b *Blob) Name() string {
	return b.f.Name
}

// Size returns the uncompressed size in bytes.
func (b *Blob) Size() int64 {
	return int64(b.f.UncompressedSize64)
}

// Open returns a reader over the decompressed content. The caller must close it.
func (b *Blob) Open() (io.ReadCloser, error) {
	rc, err := b.f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", b.f.Name, err)
	}
	return rc, nil
}

// maxTextHint bounds the preallocation taken from an entry's declared size,
// which comes from the zip header and may be corrupt.
const maxTextHint = 64 << 20

// Text reads the whole entry as a string.
func (b *Blob) Text() (string, error) {
	rc, err := b.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()

	var sb strings.Builder
	if n := b.Size(); n > 0 && n <= maxTextHint {
		sb.Grow(int(n))
	}
	if _, err := io.Copy(&sb, rc); err != nil {
		return "", fmt.Errorf("read %s: %w", b.f.Name, err)
	}
	return sb.String(), nil
}

// Snapshot is the archive index loaded once at startup. It is never mutated
// after construction.
type Snapshot struct {
	files   map[string]*Blob
	modTime time.Time
	closer  io.Closer
}

// Open reads the zip index of the archive at path. The snapshot's ModTime is
// the archive file's own modification time.
func Open(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoArchive, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrNoArchive, path, err)
	}

	s, err := New(f, info.Size(), info.ModTime())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.closer = f
	return s, nil
}

// New builds a snapshot over an in-memory or already opened zip.
func New(r io.ReaderAt, size int64, modTime time.Time) (*Snapshot, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: read zip index: %w", ErrNoArchive, err)
	}

	files := make(map[string]*Blob, len(zr.File))
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		files[f.Name] = &Blob{f: f}
	}

	return &Snapshot{files: files, modTime: modTime}, nil
}

// Lookup implements Store.
func (s *Snapshot) Lookup(name string) (*Blob, bool) {
	b, ok := s.files[name]
	return b, ok
}

// ModTime implements Store.
func (s *Snapshot) ModTime() time.Time {
	return s.modTime
}

// Len implements Store.
func (s *Snapshot) Len() int {
	return len(s.files)
}

// Close releases the underlying archive file, if the snapshot owns one.
func (s *Snapshot) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
