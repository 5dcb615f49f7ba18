package azure

import (
	"strings"
	"testing"

	"github.com/fieldtrace/fieldtrace/internal/config"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.AzureArchiveConfig
		wantErr string
	}{
		{
			"missing account name",
			config.AzureArchiveConfig{AccountKey: "dGVzdA==", ContainerName: "archive"},
			"account name",
		},
		{
			"missing account key",
			config.AzureArchiveConfig{AccountName: "fieldtrace", ContainerName: "archive"},
			"account key",
		},
		{
			"missing container",
			config.AzureArchiveConfig{AccountName: "fieldtrace", AccountKey: "dGVzdA=="},
			"container",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&tt.cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestNew_InvalidKey(t *testing.T) {
	_, err := New(&config.AzureArchiveConfig{
		AccountName:   "fieldtrace",
		AccountKey:    "not-base64!!!",
		ContainerName: "archive",
	})
	if err == nil {
		t.Error("expected error for non-base64 account key")
	}
}

func TestNew_Valid(t *testing.T) {
	b, err := New(&config.AzureArchiveConfig{
		AccountName:   "fieldtrace",
		AccountKey:    "dGVzdC1rZXktbWF0ZXJpYWw=",
		ContainerName: "archive",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.containerName != "archive" {
		t.Errorf("containerName = %q, want archive", b.containerName)
	}
}
