package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "fieldtrace",
				Password: "secret",
				Name:     "fieldtrace",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=fieldtrace password=secret dbname=fieldtrace sslmode=require",
		},
		{
			name: "disable ssl mode",
			cfg: DatabaseConfig{
				Host:     "db.example.com",
				Port:     5433,
				User:     "admin",
				Password: "pass",
				Name:     "audit",
				SSLMode:  "disable",
			},
			want: "host=db.example.com port=5433 user=admin password=pass dbname=audit sslmode=disable",
		},
		{
			name: "empty password",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "",
				Name:     "dbname",
				SSLMode:  "prefer",
			},
			want: "host=localhost port=5432 user=user password= dbname=dbname sslmode=prefer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetDSN()
			if got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ServerConfig.GetAddress
// ---------------------------------------------------------------------------

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"localhost", ServerConfig{Host: "localhost", Port: 3000}, "localhost:3000"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetAddress(); got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Name != "fieldtrace" {
		t.Errorf("database.name = %q, want fieldtrace", cfg.Database.Name)
	}
	if !cfg.Auth.APIKeys.Enabled {
		t.Error("auth.api_keys.enabled should default to true")
	}
	if cfg.Auth.APIKeys.Prefix != "ft" {
		t.Errorf("auth.api_keys.prefix = %q, want ft", cfg.Auth.APIKeys.Prefix)
	}
	if cfg.Archive.Backend != "local" {
		t.Errorf("archive.backend = %q, want local", cfg.Archive.Backend)
	}
	if cfg.Retention.Enabled {
		t.Error("retention should default to disabled")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fieldtrace.yaml")
	yaml := `
server:
  port: 9999
database:
  host: db.internal
  password: hunter2
logging:
  level: debug
  format: text
shippers:
  - enabled: true
    type: file
    file:
      path: /tmp/changes.ndjson
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("server.port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("database.host = %q, want db.internal", cfg.Database.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
	if len(cfg.Shippers) != 1 || cfg.Shippers[0].Type != "file" {
		t.Fatalf("shippers not loaded: %+v", cfg.Shippers)
	}
	if cfg.Shippers[0].File.Path != "/tmp/changes.ndjson" {
		t.Errorf("file shipper path = %q", cfg.Shippers[0].File.Path)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FT_DATABASE_HOST", "env-db")
	t.Setenv("FT_SERVER_PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Host != "env-db" {
		t.Errorf("database.host = %q, want env-db", cfg.Database.Host)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("server.port = %d, want 7070", cfg.Server.Port)
	}
}

func TestExpandEnvPassword(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "expanded-secret")
	dir := t.TempDir()
	path := filepath.Join(dir, "fieldtrace.yaml")
	if err := os.WriteFile(path, []byte("database:\n  password: ${TEST_DB_PASSWORD}\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Password != "expanded-secret" {
		t.Errorf("password = %q, want expanded-secret", cfg.Database.Password)
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"missing db host", func(c *Config) { c.Database.Host = "" }, "database.host"},
		{"missing db name", func(c *Config) { c.Database.Name = "" }, "database.name"},
		{"oidc without issuer", func(c *Config) {
			c.Auth.OIDC.Enabled = true
			c.Auth.OIDC.ClientID = "cid"
		}, "issuer_url"},
		{"oidc without client id", func(c *Config) {
			c.Auth.OIDC.Enabled = true
			c.Auth.OIDC.IssuerURL = "https://issuer"
		}, "client_id"},
		{"bad archive backend", func(c *Config) { c.Archive.Backend = "ftp" }, "invalid archive backend"},
		{"s3 without bucket", func(c *Config) { c.Archive.Backend = "s3"; c.Archive.S3.Region = "eu-west-1" }, "archive.s3.bucket"},
		{"gcs without bucket", func(c *Config) { c.Archive.Backend = "gcs" }, "archive.gcs.bucket"},
		{"azure without account", func(c *Config) { c.Archive.Backend = "azure" }, "archive.azure.account_name"},
		{"webhook shipper without url", func(c *Config) {
			c.Shippers = []ShipperConfig{{Enabled: true, Type: "webhook", Webhook: &WebhookShipperConfig{}}}
		}, "webhook.url"},
		{"unknown shipper type", func(c *Config) {
			c.Shippers = []ShipperConfig{{Enabled: true, Type: "carrier-pigeon"}}
		}, "unknown shipper type"},
		{"redis_stream without redis addr", func(c *Config) {
			c.Shippers = []ShipperConfig{{Enabled: true, Type: "redis_stream", RedisStream: &RedisStreamShipperConfig{Stream: "ft"}}}
		}, "redis.addr"},
		{"disabled shipper skipped", func(c *Config) {
			c.Shippers = []ShipperConfig{{Enabled: false, Type: "carrier-pigeon"}}
		}, ""},
		{"tls without cert", func(c *Config) { c.Security.TLS.Enabled = true }, "cert_file"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid logging level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}
