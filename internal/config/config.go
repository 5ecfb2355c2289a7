package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`
	AuthIssuer    string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL   string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience  string   `mapstructure:"AUTH_AUDIENCE"`

	// Extraction (recognition service)
	AnthropicAPIKey   string        `mapstructure:"ANTHROPIC_API_KEY"`
	ExtractionModel   string        `mapstructure:"EXTRACTION_MODEL"`
	ExtractionTimeout time.Duration `mapstructure:"EXTRACTION_TIMEOUT"`

	// Intake pipeline
	MaxUploadBytes     int64         `mapstructure:"INTAKE_MAX_UPLOAD_BYTES"`
	SessionStore       string        `mapstructure:"SESSION_STORE"`
	SessionSQLitePath  string        `mapstructure:"SESSION_SQLITE_PATH"`
	SessionTTL         time.Duration `mapstructure:"SESSION_TTL"`
	AdmissionsCacheTTL time.Duration `mapstructure:"ADMISSIONS_CACHE_TTL"`
	ExtractionsPerMin  float64       `mapstructure:"INTAKE_EXTRACTIONS_PER_MINUTE"`

	// Source document storage
	BlobDriver      string `mapstructure:"BLOB_DRIVER"`
	BlobS3Bucket    string `mapstructure:"BLOB_S3_BUCKET"`
	BlobS3Region    string `mapstructure:"BLOB_S3_REGION"`
	BlobS3Endpoint  string `mapstructure:"BLOB_S3_ENDPOINT"`
	BlobS3PathStyle bool   `mapstructure:"BLOB_S3_PATH_STYLE"`

	// Notifications (empty URL logs instead of delivering)
	NotifyWebhookURL string `mapstructure:"NOTIFY_WEBHOOK_URL"`

	// Tracing
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_TENANT",
	"CORS_ORIGINS", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
	"ANTHROPIC_API_KEY", "EXTRACTION_MODEL", "EXTRACTION_TIMEOUT",
	"INTAKE_MAX_UPLOAD_BYTES", "SESSION_STORE", "SESSION_SQLITE_PATH", "SESSION_TTL",
	"ADMISSIONS_CACHE_TTL", "INTAKE_EXTRACTIONS_PER_MINUTE", "NOTIFY_WEBHOOK_URL",
	"BLOB_DRIVER", "BLOB_S3_BUCKET", "BLOB_S3_REGION", "BLOB_S3_ENDPOINT", "BLOB_S3_PATH_STYLE",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("EXTRACTION_TIMEOUT", "90s")
	v.SetDefault("INTAKE_MAX_UPLOAD_BYTES", 10<<20)
	v.SetDefault("SESSION_STORE", "memory")
	v.SetDefault("SESSION_SQLITE_PATH", "ward-sessions.db")
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("ADMISSIONS_CACHE_TTL", "30s")
	v.SetDefault("INTAKE_EXTRACTIONS_PER_MINUTE", 10)
	v.SetDefault("BLOB_DRIVER", "memory")
	v.SetDefault("BLOB_S3_REGION", "us-east-1")
	v.SetDefault("OTEL_SERVICE_NAME", "ward-server")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development); all requests get admin access.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ExtractionEnabled reports whether a recognition service is configured.
func (c *Config) ExtractionEnabled() bool {
	return c.AnthropicAPIKey != ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_ISSUER must be set outside development (current ENV=%q)", c.Env)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("INTAKE_MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.ExtractionsPerMin < 0 {
		return fmt.Errorf("INTAKE_EXTRACTIONS_PER_MINUTE must not be negative, got %v", c.ExtractionsPerMin)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}

	switch c.SessionStore {
	case "memory":
	case "sqlite":
		if c.SessionSQLitePath == "" {
			return fmt.Errorf("SESSION_SQLITE_PATH is required when SESSION_STORE is \"sqlite\"")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be \"memory\" or \"sqlite\", got %q", c.SessionStore)
	}

	switch c.BlobDriver {
	case "memory":
	case "s3":
		if c.BlobS3Bucket == "" {
			return fmt.Errorf("BLOB_S3_BUCKET is required when BLOB_DRIVER is \"s3\"")
		}
	default:
		return fmt.Errorf("BLOB_DRIVER must be \"memory\" or \"s3\", got %q", c.BlobDriver)
	}

	return nil
}
