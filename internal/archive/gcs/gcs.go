// Package gcs implements the Google Cloud Storage archive backend. Supports
// Application Default Credentials, service account JSON keys, and Workload
// Identity for keyless authentication in GKE environments.
package gcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/fieldtrace/fieldtrace/internal/archive"
	appconfig "github.com/fieldtrace/fieldtrace/internal/config"
)

func init() {
	archive.Register("gcs", func(cfg *appconfig.ArchiveConfig) (archive.Backend, error) {
		return New(&cfg.GCS)
	})
}

// GCSBackend implements the Backend interface for Google Cloud Storage
type GCSBackend struct {
	client *storage.Client
	bucket string
}

// New creates a new Google Cloud Storage archive backend.
//
// Credentials resolution: an explicit credentials_json or credentials_file
// wins; otherwise Application Default Credentials apply (the
// GOOGLE_APPLICATION_CREDENTIALS env var, the GCE/GKE metadata service, or
// gcloud auth application-default login).
func New(cfg *appconfig.GCSArchiveConfig) (*GCSBackend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSBackend{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Close closes the GCS client
func (b *GCSBackend) Close() error {
	return b.client.Close()
}

// Put stores an object in GCS
func (b *GCSBackend) Put(ctx context.Context, path string, reader io.Reader) (*archive.PutResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	hasher := sha256.New()
	hasher.Write(data)
	sum := hex.EncodeToString(hasher.Sum(nil))

	obj := b.client.Bucket(b.bucket).Object(path)
	writer := obj.NewWriter(ctx)
	writer.Metadata = map[string]string{
		"sha256": sum,
	}

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return &archive.PutResult{
		Path:     path,
		Size:     int64(len(data)),
		Checksum: sum,
	}, nil
}

// Get retrieves an object from GCS
func (b *GCSBackend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	reader, err := b.client.Bucket(b.bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}

	return reader, nil
}

// Exists checks if an object exists at the specified path
func (b *GCSBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.Bucket(b.bucket).Object(path).Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

// Delete removes an object from GCS
func (b *GCSBackend) Delete(ctx context.Context, path string) error {
	if err := b.client.Bucket(b.bucket).Object(path).Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return nil
		}
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}

	return nil
}
