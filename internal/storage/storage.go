// Package storage provides durable storage for downloaded media assets.
// It defines the Store interface (port) and implementations for local
// disk and an optional S3 mirror.
package storage

import (
	"context"
	"io"
)

// FileInfo describes a stored media asset.
type FileInfo struct {
	// Name is the asset filename within the media root.
	Name string
	// Size is the file size in bytes.
	Size int64
}

// Store defines the interface for media asset storage.
// Filenames are deterministic (task id plus extension), so re-saving an
// asset is an idempotent overwrite.
type Store interface {
	// Save streams data to the named asset and returns the local path.
	// The write must not partially commit a corrupted file: data is
	// staged to a temporary file and renamed into place only once the
	// stream completes.
	Save(ctx context.Context, name string, data io.Reader) (path string, err error)

	// Path returns the local path the named asset would occupy.
	Path(name string) string

	// List returns all stored assets.
	List(ctx context.Context) ([]FileInfo, error)
}
