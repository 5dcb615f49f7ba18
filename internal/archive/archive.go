// Package archive defines the Backend interface and factory for compliance
// export storage.
//
// New backends are added by implementing the Backend interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    archive.Register("mybackend", func(cfg *config.ArchiveConfig) (Backend, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
// This means adding a new backend requires no changes to the factory or main
// package — only a blank import in cmd/server/main.go.
package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/fieldtrace/fieldtrace/internal/config"
)

// Backend stores exported bundles in an object store. Bundles are write-once:
// nothing in the system ever rewrites an object after Put returns.
type Backend interface {
	// Put stores an object and returns its size and SHA-256 checksum
	Put(ctx context.Context, path string, reader io.Reader) (*PutResult, error)

	// Get retrieves a stored object
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error
}

// PutResult contains information about a stored object
type PutResult struct {
	// Path is the object path within the backend
	Path string

	// Size is the object size in bytes
	Size int64

	// Checksum is the SHA256 hash of the object contents
	Checksum string
}

// FactoryFunc creates a backend from the archive configuration
type FactoryFunc func(*config.ArchiveConfig) (Backend, error)

var factories = make(map[string]FactoryFunc)

// Register registers an archive backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// New creates an archive backend based on cfg.Backend
func New(cfg *config.ArchiveConfig) (Backend, error) {
	factory, ok := factories[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported archive backend: %s (must be 'local', 'azure', 's3', or 'gcs')", cfg.Backend)
	}

	return factory(cfg)
}
