// exporter.go builds period bundles: an NDJSON file of change sets, a .sha256
// checksum file, and an optional detached PGP signature, written through the
// configured backend.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fieldtrace/fieldtrace/internal/db/repositories"
	"github.com/fieldtrace/fieldtrace/internal/shipper"
	"github.com/fieldtrace/fieldtrace/internal/telemetry"
)

// bundleTimeFormat names bundles by their covered window, UTC.
const bundleTimeFormat = "20060102T150405Z"

// Exporter writes change-set bundles to an archive backend.
type Exporter struct {
	repo    *repositories.ChangeSetRepository
	backend Backend
	prefix  string
	signer  *Signer
}

// ExportResult describes one written bundle.
type ExportResult struct {
	BundlePath    string `json:"bundle_path"`
	ChecksumPath  string `json:"checksum_path"`
	SignaturePath string `json:"signature_path,omitempty"`
	Sets          int    `json:"sets"`
	Size          int64  `json:"size"`
	Checksum      string `json:"checksum"`
}

// NewExporter creates an Exporter. The signer may be nil when bundle signing
// is not configured.
func NewExporter(repo *repositories.ChangeSetRepository, backend Backend, prefix string, signer *Signer) *Exporter {
	return &Exporter{
		repo:    repo,
		backend: backend,
		prefix:  strings.Trim(prefix, "/"),
		signer:  signer,
	}
}

// Export bundles all change sets recorded within [since, until) and writes the
// bundle, its checksum file, and (when a signer is configured) a detached
// signature. An empty window writes nothing and returns a zero-set result.
func (e *Exporter) Export(ctx context.Context, since, until time.Time) (*ExportResult, error) {
	result, err := e.export(ctx, since, until)
	if err != nil {
		telemetry.ArchiveExportsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	telemetry.ArchiveExportsTotal.WithLabelValues("success").Inc()
	return result, nil
}

func (e *Exporter) export(ctx context.Context, since, until time.Time) (*ExportResult, error) {
	sets, err := e.repo.ListForArchive(ctx, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to load change sets for export: %w", err)
	}
	if len(sets) == 0 {
		return &ExportResult{}, nil
	}

	// One envelope per line, in recording order. Reusing the delivery envelope
	// keeps the archive format identical to what sinks receive.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, set := range sets {
		if err := enc.Encode(shipper.NewEnvelope(set)); err != nil {
			return nil, fmt.Errorf("failed to encode change set %s: %w", set.ID, err)
		}
	}

	name := fmt.Sprintf("changesets-%s-%s.ndjson",
		since.UTC().Format(bundleTimeFormat), until.UTC().Format(bundleTimeFormat))
	bundlePath := name
	if e.prefix != "" {
		bundlePath = e.prefix + "/" + name
	}

	put, err := e.backend.Put(ctx, bundlePath, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to store bundle: %w", err)
	}

	// The checksum file uses the conventional "<hex>  <name>" layout so
	// sha256sum -c can verify a downloaded bundle directly.
	checksumPath := bundlePath + ".sha256"
	checksumLine := fmt.Sprintf("%s  %s\n", put.Checksum, name)
	if _, err := e.backend.Put(ctx, checksumPath, strings.NewReader(checksumLine)); err != nil {
		return nil, fmt.Errorf("failed to store checksum file: %w", err)
	}

	result := &ExportResult{
		BundlePath:   bundlePath,
		ChecksumPath: checksumPath,
		Sets:         len(sets),
		Size:         put.Size,
		Checksum:     put.Checksum,
	}

	if e.signer != nil {
		signature, err := e.signer.Sign(buf.Bytes())
		if err != nil {
			return nil, fmt.Errorf("failed to sign bundle: %w", err)
		}
		signaturePath := bundlePath + ".sig"
		if _, err := e.backend.Put(ctx, signaturePath, bytes.NewReader(signature)); err != nil {
			return nil, fmt.Errorf("failed to store signature: %w", err)
		}
		result.SignaturePath = signaturePath
	}

	slog.Info("archive bundle exported",
		"bundle", result.BundlePath,
		"sets", result.Sets,
		"size", result.Size)

	return result, nil
}
