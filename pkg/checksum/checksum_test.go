package checksum

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"
)

// Known vectors: sha256("") and sha256("hello"), as printed by sha256sum.
const (
	emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
)

func TestCalculateSHA256_KnownVectors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", emptySHA256},
		{"hello", "hello", helloSHA256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateSHA256(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("CalculateSHA256: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCalculateSHA256_GzipBundle(t *testing.T) {
	// The exporter hashes the compressed bundle bytes, not the NDJSON inside,
	// so the checksum must be over exactly what the backend stored.
	var bundle bytes.Buffer
	zw := gzip.NewWriter(&bundle)
	if _, err := zw.Write([]byte(`{"kind":"profile","entity_id":"p-1"}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	stored := bundle.Bytes()
	sum, err := CalculateSHA256(bytes.NewReader(stored))
	if err != nil {
		t.Fatalf("CalculateSHA256: %v", err)
	}
	if len(sum) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sum))
	}
	if sum != strings.ToLower(sum) {
		t.Errorf("checksum is not lowercase hex: %s", sum)
	}

	ok, err := VerifySHA256(bytes.NewReader(stored), sum)
	if err != nil {
		t.Fatalf("VerifySHA256: %v", err)
	}
	if !ok {
		t.Error("bundle failed verification against its own checksum")
	}
}

func TestVerifySHA256_Mismatch(t *testing.T) {
	ok, err := VerifySHA256(strings.NewReader("hello"), emptySHA256)
	if err != nil {
		t.Fatalf("VerifySHA256: %v", err)
	}
	if ok {
		t.Error("verification passed with the wrong checksum")
	}
}

func TestChecksum_ReadErrorPropagates(t *testing.T) {
	if _, err := CalculateSHA256(failingReader{}); err == nil {
		t.Error("CalculateSHA256 swallowed the read error")
	}
	if _, err := VerifySHA256(failingReader{}, helloSHA256); err == nil {
		t.Error("VerifySHA256 swallowed the read error")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }
