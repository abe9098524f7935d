// Package config loads and validates server configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sakif/propability/internal/blob"
	"github.com/sakif/propability/internal/inference"
)

// Config holds everything the server reads at startup.
type Config struct {
	// Port is the HTTP listen port.
	Port int `mapstructure:"PORT"`
	// Env is "development" or "production". Production refuses insecure defaults.
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "text" or "json".
	LogFormat string `mapstructure:"LOG_FORMAT"`

	JWTSecret  string `mapstructure:"JWT_SECRET"`
	SessionTTL string `mapstructure:"SESSION_TTL"`
	BcryptCost int    `mapstructure:"BCRYPT_COST"`

	// BaseURL is the public origin used to build OAuth callback URLs.
	BaseURL            string `mapstructure:"BASE_URL"`
	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string `mapstructure:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `mapstructure:"GITHUB_CLIENT_SECRET"`

	// RecordStore is "sqlite" or "postgres".
	RecordStore string `mapstructure:"RECORD_STORE"`
	DBPath      string `mapstructure:"DB_PATH"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// BlobStore is "filesystem", "s3" or "memory".
	BlobStore         string `mapstructure:"BLOB_STORE"`
	BlobDir           string `mapstructure:"BLOB_DIR"`
	BlobPublicURL     string `mapstructure:"BLOB_PUBLIC_URL"`
	S3Bucket          string `mapstructure:"S3_BUCKET"`
	S3Prefix          string `mapstructure:"S3_PREFIX"`
	S3Region          string `mapstructure:"S3_REGION"`
	S3Endpoint        string `mapstructure:"S3_ENDPOINT"`
	S3PublicURL       string `mapstructure:"S3_PUBLIC_URL"`
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`

	// InferenceProvider is "http" or "gemini".
	InferenceProvider string `mapstructure:"INFERENCE_PROVIDER"`
	InferenceURL      string `mapstructure:"INFERENCE_URL"`
	InferenceTimeout  string `mapstructure:"INFERENCE_TIMEOUT"`
	GeminiAPIKey      string `mapstructure:"GEMINI_API_KEY"`
	GeminiModel       string `mapstructure:"GEMINI_MODEL"`

	// SubmitRatePerMinute caps submission runs per user.
	SubmitRatePerMinute int    `mapstructure:"SUBMIT_RATE_PER_MINUTE"`
	WorkspaceIdleTTL    string `mapstructure:"WORKSPACE_IDLE_TTL"`
}

// Load reads envFile (if non-empty and present), then builds and validates
// Config from the environment. Env vars override the file.
func Load(envFile string) (*Config, error) {
	v := viper.New()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // a missing file is fine
	}

	v.AutomaticEnv()

	v.SetDefault("PORT", 8000)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("BASE_URL", "http://localhost:8000")
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GITHUB_CLIENT_ID", "")
	v.SetDefault("GITHUB_CLIENT_SECRET", "")
	v.SetDefault("RECORD_STORE", "sqlite")
	v.SetDefault("DB_PATH", "data/propability.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BLOB_STORE", "filesystem")
	v.SetDefault("BLOB_DIR", "data/blobs")
	v.SetDefault("BLOB_PUBLIC_URL", "http://localhost:8000/media")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_PREFIX", "cuttings")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_PUBLIC_URL", "")
	v.SetDefault("S3_ACCESS_KEY_ID", "")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "")
	v.SetDefault("INFERENCE_PROVIDER", "http")
	v.SetDefault("INFERENCE_URL", "http://localhost:8080/analyze")
	v.SetDefault("INFERENCE_TIMEOUT", "30s")
	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")
	v.SetDefault("SUBMIT_RATE_PER_MINUTE", 10)
	v.SetDefault("WORKSPACE_IDLE_TTL", "2h")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d is out of range", c.Port)
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.Env == "production" && len(c.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 characters when APP_ENV=production")
	}

	switch c.RecordStore {
	case "sqlite":
		if c.DBPath == "" {
			return errors.New("config: DB_PATH must be set for RECORD_STORE=sqlite")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set for RECORD_STORE=postgres")
		}
	default:
		return fmt.Errorf("config: unknown RECORD_STORE %q", c.RecordStore)
	}

	switch c.BlobStore {
	case "filesystem", "memory":
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("config: S3_BUCKET must be set for BLOB_STORE=s3")
		}
	default:
		return fmt.Errorf("config: unknown BLOB_STORE %q", c.BlobStore)
	}

	switch c.InferenceProvider {
	case "http":
		if c.InferenceURL == "" {
			return errors.New("config: INFERENCE_URL must be set for INFERENCE_PROVIDER=http")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return errors.New("config: GEMINI_API_KEY must be set for INFERENCE_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("config: unknown INFERENCE_PROVIDER %q", c.InferenceProvider)
	}
	return nil
}

// SessionLifetime parses SessionTTL. Returns 24h if unset or invalid.
func (c *Config) SessionLifetime() time.Duration {
	return parseDuration(c.SessionTTL, 24*time.Hour)
}

// IdleTTL parses WorkspaceIdleTTL. Returns 2h if unset or invalid.
func (c *Config) IdleTTL() time.Duration {
	return parseDuration(c.WorkspaceIdleTTL, 2*time.Hour)
}

// Level maps LogLevel to a slog level. Unknown values fall back to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Blob returns the settings for blob.NewStoreFromConfig.
func (c *Config) Blob() blob.Config {
	return blob.Config{
		Type:      c.BlobStore,
		Dir:       c.BlobDir,
		PublicURL: c.BlobPublicURL,
		S3: blob.S3Config{
			Bucket:          c.S3Bucket,
			Prefix:          c.S3Prefix,
			Region:          c.S3Region,
			Endpoint:        c.S3Endpoint,
			PublicURL:       c.S3PublicURL,
			AccessKeyID:     c.S3AccessKeyID,
			SecretAccessKey: c.S3SecretAccessKey,
		},
	}
}

// Inference returns the settings for inference.NewAnalyzerFromConfig.
func (c *Config) Inference() inference.Config {
	return inference.Config{
		Provider:     c.InferenceProvider,
		URL:          c.InferenceURL,
		Timeout:      parseDuration(c.InferenceTimeout, 30*time.Second),
		GeminiAPIKey: c.GeminiAPIKey,
		GeminiModel:  c.GeminiModel,
	}
}

// CallbackURL is the OAuth redirect target for provider.
func (c *Config) CallbackURL(provider string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/auth/" + provider + "/callback"
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
