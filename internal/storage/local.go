package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Compile-time check that Local implements Store.
var _ Store = (*Local)(nil)

// Local implements Store using a single local media root directory.
type Local struct {
	root string
}

// NewLocal creates a new Local store rooted at root.
// If root is empty, "media" in the working directory is used.
// The directory is created if it doesn't exist.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		root = "media"
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}

	return &Local{root: root}, nil
}

// Root returns the media root directory path.
func (s *Local) Root() string {
	return s.root
}

// Path returns the local path the named asset would occupy.
func (s *Local) Path(name string) string {
	return filepath.Join(s.root, filepath.Base(name))
}

// Save streams data to a temporary file in the media root and renames it
// into place once the stream completes, so a failed download never leaves
// a truncated asset behind.
func (s *Local) Save(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.root, ".download_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	tmpName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write asset: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close asset: %w", err)
	}

	final := s.Path(name)
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("commit asset: %w", err)
	}

	return final, nil
}

// List returns all assets in the media root. Staged temporary files and
// subdirectories are skipped.
func (s *Local) List(ctx context.Context) ([]FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list media directory: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: info.Size()})
	}
	return files, nil
}
