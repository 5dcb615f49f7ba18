// Package config loads and validates the fieldtrace service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the FT_ prefix (e.g., FT_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a fieldtrace.yaml in local development and with pure environment
// variables in containerized deployments — no recompilation or different
// binaries needed.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Shippers  []ShipperConfig `mapstructure:"shippers"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds the shared Redis connection used by the distributed rate
// limiter and the redis_stream shipper. Leave Addr empty to disable both.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	APIKeys APIKeyConfig `mapstructure:"api_keys"`
	OIDC    OIDCConfig   `mapstructure:"oidc"`
}

// APIKeyConfig holds API key authentication configuration
type APIKeyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

// OIDCConfig holds OIDC bearer-token verification configuration. When enabled,
// requests carrying an ID token issued by IssuerURL for ClientID are accepted
// and granted DefaultScopes; the token subject becomes the recorded actor.
type OIDCConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	IssuerURL     string   `mapstructure:"issuer_url"`
	ClientID      string   `mapstructure:"client_id"`
	DefaultScopes []string `mapstructure:"default_scopes"`
}

// SecurityConfig holds CORS, TLS, and rate limiting configuration
type SecurityConfig struct {
	CORS         CORSConfig      `mapstructure:"cors"`
	RateLimiting RateLimitConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig       `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitConfig holds rate limiting configuration. When the shared Redis
// connection is configured the limiter is distributed (GCRA via redis_rate);
// otherwise it falls back to an in-process token bucket.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// PolicyConfig holds the declarative tracking policy file configuration.
// The policy file declares tracked/ignored fields per kind and is applied to
// the engine's registry at startup and, when Watch is true, on every change.
type PolicyConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
	Debug bool   `mapstructure:"debug"`
}

// ShipperConfig holds configuration for one change-set delivery sink
type ShipperConfig struct {
	// Enabled determines if this shipper is active
	Enabled bool `mapstructure:"enabled"`
	// Type is the shipper type (webhook, file, kafka, redis_stream)
	Type string `mapstructure:"type"`
	// Webhook configuration
	Webhook *WebhookShipperConfig `mapstructure:"webhook"`
	// File configuration
	File *FileShipperConfig `mapstructure:"file"`
	// Kafka configuration
	Kafka *KafkaShipperConfig `mapstructure:"kafka"`
	// RedisStream configuration
	RedisStream *RedisStreamShipperConfig `mapstructure:"redis_stream"`
}

// WebhookShipperConfig holds webhook shipper configuration
type WebhookShipperConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval time.Duration     `mapstructure:"flush_interval"`
	// SigningKey, when set, adds an HS256 JWT request signature header
	SigningKey string `mapstructure:"signing_key"`
	// OAuth2 client-credentials for authenticating to the webhook endpoint
	OAuth2 *OAuth2Config `mapstructure:"oauth2"`
}

// OAuth2Config holds client-credentials grant configuration
type OAuth2Config struct {
	TokenURL     string   `mapstructure:"token_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
}

// FileShipperConfig holds file shipper configuration
type FileShipperConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// KafkaShipperConfig holds Kafka shipper configuration
type KafkaShipperConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// RedisStreamShipperConfig holds Redis stream shipper configuration.
// The shared redis connection (redis.addr) is used; Stream names the stream key.
type RedisStreamShipperConfig struct {
	Stream string `mapstructure:"stream"`
	MaxLen int64  `mapstructure:"max_len"`
}

// ArchiveConfig holds compliance export configuration
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	// Prefix is prepended to every bundle object path
	Prefix string `mapstructure:"prefix"`
	// SigningKeyFile is an optional path to an armored PGP private key used to
	// produce detached signatures over exported bundles
	SigningKeyFile string             `mapstructure:"signing_key_file"`
	Export         ExportConfig       `mapstructure:"export"`
	Local          LocalArchiveConfig `mapstructure:"local"`
	S3             S3ArchiveConfig    `mapstructure:"s3"`
	GCS            GCSArchiveConfig   `mapstructure:"gcs"`
	Azure          AzureArchiveConfig `mapstructure:"azure"`
}

// ExportConfig holds the periodic export job configuration
type ExportConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	// Window is the look-back period covered by each bundle
	Window time.Duration `mapstructure:"window"`
}

// LocalArchiveConfig holds local filesystem archive configuration
type LocalArchiveConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// S3ArchiveConfig holds S3-compatible archive configuration
type S3ArchiveConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// Authentication method: "default", "static", "assume_role"
	AuthMethod      string `mapstructure:"auth_method"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`
}

// GCSArchiveConfig holds Google Cloud Storage archive configuration
type GCSArchiveConfig struct {
	Bucket          string `mapstructure:"bucket"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	Endpoint        string `mapstructure:"endpoint"`
}

// AzureArchiveConfig holds Azure Blob Storage archive configuration
type AzureArchiveConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// RetentionConfig holds the change-set retention sweeper configuration
type RetentionConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	MaxAge    time.Duration `mapstructure:"max_age"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for fieldtrace.yaml in common locations
		v.SetConfigName("fieldtrace")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/fieldtrace")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("FT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	bindEnvVars(v)

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Archive.S3.AccessKeyID = expandEnv(cfg.Archive.S3.AccessKeyID)
	cfg.Archive.S3.SecretAccessKey = expandEnv(cfg.Archive.S3.SecretAccessKey)
	cfg.Archive.Azure.AccountKey = expandEnv(cfg.Archive.Azure.AccountKey)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "fieldtrace")
	v.SetDefault("database.user", "fieldtrace")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults (disabled unless an address is configured)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.api_keys.enabled", true)
	v.SetDefault("auth.api_keys.prefix", "ft")
	v.SetDefault("auth.oidc.enabled", false)
	v.SetDefault("auth.oidc.default_scopes", []string{"changes:read"})

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 200)
	v.SetDefault("security.rate_limiting.burst", 50)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Policy defaults
	v.SetDefault("policy.path", "")
	v.SetDefault("policy.watch", true)
	v.SetDefault("policy.debug", false)

	// Archive defaults
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.prefix", "exports")
	v.SetDefault("archive.local.base_path", "./archive")
	v.SetDefault("archive.export.enabled", false)
	v.SetDefault("archive.export.interval", "24h")
	v.SetDefault("archive.export.window", "24h")

	// Retention defaults
	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.max_age", "2160h") // 90 days
	v.SetDefault("retention.interval", "1h")
	v.SetDefault("retention.batch_size", 1000)
}

// bindEnvVars binds environment variables for nested keys so Unmarshal sees them
func bindEnvVars(v *viper.Viper) {
	keys := []string{
		"server.host", "server.port", "server.base_url",
		"server.read_timeout", "server.write_timeout",
		"database.host", "database.port", "database.name", "database.user",
		"database.password", "database.ssl_mode",
		"database.max_connections", "database.min_idle_connections",
		"redis.addr", "redis.password", "redis.db",
		"auth.api_keys.enabled", "auth.api_keys.prefix",
		"auth.oidc.enabled", "auth.oidc.issuer_url", "auth.oidc.client_id",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute", "security.rate_limiting.burst",
		"security.tls.enabled", "security.tls.cert_file", "security.tls.key_file",
		"logging.level", "logging.format",
		"telemetry.metrics.enabled", "telemetry.metrics.prometheus_port",
		"policy.path", "policy.watch", "policy.debug",
		"archive.backend", "archive.prefix", "archive.signing_key_file",
		"archive.local.base_path",
		"archive.s3.endpoint", "archive.s3.region", "archive.s3.bucket",
		"archive.s3.auth_method", "archive.s3.access_key_id", "archive.s3.secret_access_key",
		"archive.s3.role_arn", "archive.s3.role_session_name", "archive.s3.external_id",
		"archive.gcs.bucket", "archive.gcs.project_id",
		"archive.gcs.credentials_file", "archive.gcs.credentials_json", "archive.gcs.endpoint",
		"archive.azure.account_name", "archive.azure.account_key", "archive.azure.container_name",
		"archive.export.enabled", "archive.export.interval", "archive.export.window",
		"retention.enabled", "retention.max_age", "retention.interval", "retention.batch_size",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate OIDC if enabled
	if c.Auth.OIDC.Enabled {
		if c.Auth.OIDC.IssuerURL == "" {
			return fmt.Errorf("auth.oidc.issuer_url is required when OIDC is enabled")
		}
		if c.Auth.OIDC.ClientID == "" {
			return fmt.Errorf("auth.oidc.client_id is required when OIDC is enabled")
		}
	}

	// Validate archive backend
	validBackends := map[string]bool{"local": true, "s3": true, "gcs": true, "azure": true}
	if !validBackends[c.Archive.Backend] {
		return fmt.Errorf("invalid archive backend: %s (must be local, s3, gcs, or azure)", c.Archive.Backend)
	}
	switch c.Archive.Backend {
	case "local":
		if c.Archive.Local.BasePath == "" {
			return fmt.Errorf("archive.local.base_path is required when using local backend")
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when using S3 backend")
		}
		if c.Archive.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when using S3 backend")
		}
	case "gcs":
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket is required when using GCS backend")
		}
	case "azure":
		if c.Archive.Azure.AccountName == "" {
			return fmt.Errorf("archive.azure.account_name is required when using Azure backend")
		}
		if c.Archive.Azure.AccountKey == "" {
			return fmt.Errorf("archive.azure.account_key is required when using Azure backend")
		}
		if c.Archive.Azure.ContainerName == "" {
			return fmt.Errorf("archive.azure.container_name is required when using Azure backend")
		}
	}

	// Validate shippers
	for i, s := range c.Shippers {
		if !s.Enabled {
			continue
		}
		switch s.Type {
		case "webhook":
			if s.Webhook == nil || s.Webhook.URL == "" {
				return fmt.Errorf("shippers[%d]: webhook.url is required for webhook shipper", i)
			}
		case "file":
			if s.File == nil || s.File.Path == "" {
				return fmt.Errorf("shippers[%d]: file.path is required for file shipper", i)
			}
		case "kafka":
			if s.Kafka == nil || len(s.Kafka.Brokers) == 0 || s.Kafka.Topic == "" {
				return fmt.Errorf("shippers[%d]: kafka.brokers and kafka.topic are required for kafka shipper", i)
			}
		case "redis_stream":
			if s.RedisStream == nil || s.RedisStream.Stream == "" {
				return fmt.Errorf("shippers[%d]: redis_stream.stream is required for redis_stream shipper", i)
			}
			if c.Redis.Addr == "" {
				return fmt.Errorf("shippers[%d]: redis.addr must be configured for redis_stream shipper", i)
			}
		default:
			return fmt.Errorf("shippers[%d]: unknown shipper type: %s", i, s.Type)
		}
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}
