package archive_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/jmoiron/sqlx"

	"github.com/fieldtrace/fieldtrace/internal/archive"
	"github.com/fieldtrace/fieldtrace/internal/archive/local"
	"github.com/fieldtrace/fieldtrace/internal/config"
	"github.com/fieldtrace/fieldtrace/internal/db/repositories"
	"github.com/fieldtrace/fieldtrace/internal/shipper"
)

var changeSetCols = []string{
	"id", "kind", "entity_id", "actor", "source", "request_id", "metadata", "recorded_at",
}

var changeRecordCols = []string{
	"change_set_id", "field", "old_value", "new_value", "position",
}

func newExporterFixture(t *testing.T, signer *archive.Signer) (*archive.Exporter, sqlmock.Sqlmock, *local.LocalBackend) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := repositories.NewChangeSetRepository(sqlx.NewDb(db, "postgres"))

	backend, err := local.New(&config.LocalArchiveConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}

	return archive.NewExporter(repo, backend, "exports", signer), mock, backend
}

func expectWindow(mock sqlmock.Sqlmock, recordedAt time.Time) {
	mock.ExpectQuery("SELECT id, kind, entity_id").
		WillReturnRows(sqlmock.NewRows(changeSetCols).
			AddRow("cs-1", "profile", "p-42", "ci-bot", "tracked", nil, nil, recordedAt).
			AddRow("cs-2", "invoice", "inv-9", "", "api", nil, nil, recordedAt.Add(time.Minute)))
	mock.ExpectQuery("SELECT r.change_set_id").
		WillReturnRows(sqlmock.NewRows(changeRecordCols).
			AddRow("cs-1", "display_name", []byte(`"Ada"`), []byte(`"Ada L."`), 0).
			AddRow("cs-2", "status", []byte(`"open"`), []byte(`"paid"`), 0).
			AddRow("cs-2", "amount_cents", []byte(`100`), []byte(`250`), 1))
}

func TestExport_WritesBundleAndChecksum(t *testing.T) {
	exporter, mock, backend := newExporterFixture(t, nil)

	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)
	expectWindow(mock, since.Add(time.Hour))

	result, err := exporter.Export(context.Background(), since, until)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if result.Sets != 2 {
		t.Errorf("Sets = %d, want 2", result.Sets)
	}
	if result.BundlePath != "exports/changesets-20260801T000000Z-20260802T000000Z.ndjson" {
		t.Errorf("unexpected bundle path %q", result.BundlePath)
	}
	if result.SignaturePath != "" {
		t.Errorf("SignaturePath = %q, want empty without a signer", result.SignaturePath)
	}

	// The bundle is NDJSON of delivery envelopes, oldest first.
	reader, err := backend.Get(context.Background(), result.BundlePath)
	if err != nil {
		t.Fatalf("Get bundle: %v", err)
	}
	defer reader.Close()

	var envelopes []shipper.Envelope
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		var env shipper.Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			t.Fatalf("bundle line is not a JSON envelope: %v", err)
		}
		envelopes = append(envelopes, env)
	}
	if len(envelopes) != 2 {
		t.Fatalf("bundle has %d envelopes, want 2", len(envelopes))
	}
	if envelopes[0].ID != "cs-1" || envelopes[1].ID != "cs-2" {
		t.Errorf("bundle order wrong: %s, %s", envelopes[0].ID, envelopes[1].ID)
	}
	if len(envelopes[1].Changes) != 2 {
		t.Errorf("cs-2 has %d changes, want 2", len(envelopes[1].Changes))
	}

	// Checksum file references the bundle by bare name in sha256sum layout.
	sumReader, err := backend.Get(context.Background(), result.ChecksumPath)
	if err != nil {
		t.Fatalf("Get checksum: %v", err)
	}
	defer sumReader.Close()
	sumData, _ := io.ReadAll(sumReader)
	line := strings.TrimSpace(string(sumData))
	if !strings.HasPrefix(line, result.Checksum+"  ") {
		t.Errorf("checksum line %q does not start with bundle checksum", line)
	}
	if !strings.HasSuffix(line, ".ndjson") || strings.Contains(line, "exports/") {
		t.Errorf("checksum line %q should reference the bare bundle name", line)
	}
}

func TestExport_EmptyWindow(t *testing.T) {
	exporter, mock, backend := newExporterFixture(t, nil)
	mock.ExpectQuery("SELECT id, kind, entity_id").
		WillReturnRows(sqlmock.NewRows(changeSetCols))

	result, err := exporter.Export(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if result.Sets != 0 || result.BundlePath != "" {
		t.Errorf("empty window should write nothing, got %+v", result)
	}

	exists, _ := backend.Exists(context.Background(), result.BundlePath)
	if exists {
		t.Error("no object should exist for an empty window")
	}
}

func TestExport_SignsBundle(t *testing.T) {
	entity, err := openpgp.NewEntity("fieldtrace exports", "", "exports@example.com", nil)
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}
	signer := archive.NewSignerFromEntity(entity)

	exporter, mock, backend := newExporterFixture(t, signer)
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	expectWindow(mock, since.Add(time.Hour))

	result, err := exporter.Export(context.Background(), since, since.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if result.SignaturePath == "" {
		t.Fatal("SignaturePath empty with a signer configured")
	}

	bundleReader, err := backend.Get(context.Background(), result.BundlePath)
	if err != nil {
		t.Fatalf("Get bundle: %v", err)
	}
	defer bundleReader.Close()
	bundle, _ := io.ReadAll(bundleReader)

	sigReader, err := backend.Get(context.Background(), result.SignaturePath)
	if err != nil {
		t.Fatalf("Get signature: %v", err)
	}
	defer sigReader.Close()
	sig, _ := io.ReadAll(sigReader)

	if !strings.Contains(string(sig), "BEGIN PGP SIGNATURE") {
		t.Error("signature is not armored")
	}
	if err := signer.Verify(bundle, sig); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
	if err := signer.Verify(append(bundle, '!'), sig); err == nil {
		t.Error("signature verified against tampered bundle")
	}
}
