// Package local implements the local filesystem archive backend. This backend
// is intended for development and single-node deployments only — multiple
// service instances would need access to the same filesystem (e.g. via NFS).
// For production, use a cloud backend.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fieldtrace/fieldtrace/internal/archive"
	"github.com/fieldtrace/fieldtrace/internal/config"
	"github.com/fieldtrace/fieldtrace/pkg/checksum"
)

func init() {
	archive.Register("local", func(cfg *config.ArchiveConfig) (archive.Backend, error) {
		return New(&cfg.Local)
	})
}

// LocalBackend implements the Backend interface on the local filesystem
type LocalBackend struct {
	basePath string
}

// New creates a new local filesystem archive backend
func New(cfg *config.LocalArchiveConfig) (*LocalBackend, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local archive base_path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &LocalBackend{basePath: cfg.BasePath}, nil
}

// Put stores an object on the local filesystem
func (b *LocalBackend) Put(ctx context.Context, path string, reader io.Reader) (*archive.PutResult, error) {
	fullPath := filepath.Join(b.basePath, filepath.FromSlash(path))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		_ = os.Remove(fullPath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	// Re-read for the checksum so the result reflects what actually landed on
	// disk rather than what passed through memory.
	readBack, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen file for checksum: %w", err)
	}
	defer readBack.Close()

	sum, err := checksum.CalculateSHA256(readBack)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return &archive.PutResult{
		Path:     path,
		Size:     written,
		Checksum: sum,
	}, nil
}

// Get retrieves an object from the local filesystem
func (b *LocalBackend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath := filepath.Join(b.basePath, filepath.FromSlash(path))

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}

	return file, nil
}

// Exists checks if an object exists at the specified path
func (b *LocalBackend) Exists(ctx context.Context, path string) (bool, error) {
	fullPath := filepath.Join(b.basePath, filepath.FromSlash(path))

	_, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

// Delete removes an object and any emptied parent directories
func (b *LocalBackend) Delete(ctx context.Context, path string) error {
	fullPath := filepath.Join(b.basePath, filepath.FromSlash(path))

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete object: %w", err)
	}

	// Prune empty parents (best effort).
	dir := filepath.Dir(fullPath)
	for dir != b.basePath {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}

	return nil
}
