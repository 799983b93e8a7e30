// Package local archives pages on the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// Config selects the archive directory.
type Config struct {
	// BaseDir is created when missing.
	BaseDir string
}

// BlobStore writes pages below BaseDir. All file operations go through an
// os.Root, so neither ".." nor symlinks can reach outside of it.
type BlobStore struct {
	dir  string
	root *os.Root
	seq  atomic.Uint64
}

// New opens BaseDir, creating it if needed, and checks that it is writable.
func New(cfg Config) (*BlobStore, error) {
	dir := strings.TrimSpace(cfg.BaseDir)
	if dir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open base directory: %w", err)
	}
	const probe = ".writable"
	if err := root.WriteFile(probe, nil, 0o600); err != nil {
		_ = root.Close()
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = root.Remove(probe)
	return &BlobStore{dir: dir, root: root}, nil
}

// PutObject writes data to path, a slash-separated name relative to the
// base directory, and returns its file:// URI. Readers never observe a
// partially written page.
func (s *BlobStore) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	name := filepath.FromSlash(strings.TrimSpace(path))
	if name == "" {
		return "", fmt.Errorf("path is required")
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("path traversal detected: %q", path)
	}
	if err := s.root.MkdirAll(filepath.Dir(name), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}

	tmp := fmt.Sprintf("%s.%d.partial", name, s.seq.Add(1))
	f, err := s.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = s.root.Remove(tmp)
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = s.root.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := s.root.Rename(tmp, name); err != nil {
		_ = s.root.Remove(tmp)
		return "", fmt.Errorf("rename object: %w", err)
	}
	return "file://" + filepath.ToSlash(filepath.Join(s.dir, name)), nil
}

// Close releases the directory handle.
func (s *BlobStore) Close() error {
	return s.root.Close()
}
