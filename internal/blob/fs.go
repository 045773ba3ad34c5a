// Package blob stores opaque byte blobs (screenshots, page snapshots) and
// hands back string references to them.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRef is returned for references that escape the store directory.
var ErrInvalidRef = errors.New("invalid blob reference")

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"text/html":  ".html",
	"text/plain": ".txt",
}

// FSStore keeps blobs as files under a root directory. References are paths
// relative to the root.
type FSStore struct {
	dir string
	now func() time.Time
}

// NewFSStore creates the root directory if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob dir %s: %w", dir, err)
	}
	return &FSStore{dir: dir, now: time.Now}, nil
}

// Put writes data under a new reference whose name carries label. The file
// appears atomically.
func (s *FSStore) Put(_ context.Context, label string, data []byte, contentType string) (string, error) {
	day := s.now().UTC()
	name := fmt.Sprintf("%s_%s_%s%s",
		day.Format("20060102_150405"), sanitize(label), uuid.NewString()[:8], extensionFor(contentType))
	ref := filepath.ToSlash(filepath.Join(day.Format("2006-01-02"), name))
	path := filepath.Join(s.dir, filepath.FromSlash(ref))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing blob: %w", err)
	}
	return ref, nil
}

// Get returns the bytes stored under ref.
func (s *FSStore) Get(_ context.Context, ref string) ([]byte, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", ref, os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", ref, err)
	}
	return data, nil
}

func (s *FSStore) path(ref string) (string, error) {
	if ref == "" || filepath.IsAbs(ref) || !filepath.IsLocal(filepath.FromSlash(ref)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(s.dir, filepath.FromSlash(ref)), nil
}

func extensionFor(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	if ext, ok := extensions[strings.TrimSpace(ct)]; ok {
		return ext
	}
	return ".bin"
}

func sanitize(label string) string {
	label = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, label)
	if label == "" {
		return "blob"
	}
	return label
}
