// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// ErrSunoAPIKeyRequired is returned when SUNO_API_KEY is not set.
// A missing token is a startup error, not a per-request fault.
var ErrSunoAPIKeyRequired = errors.New("config: SUNO_API_KEY is required")

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8000" json:"port"`

	// BaseURL is the public URL this service is reachable at. It is used
	// to build the webhook callback URL handed to the provider and the
	// locally-served media URLs.
	BaseURL string `env:"BASE_URL, default=http://localhost:8000" json:"base_url"`

	// Suno provider settings
	SunoAPIKey  string `env:"SUNO_API_KEY" json:"-"` // Masked in JSON; required, checked by Validate
	SunoBaseURL string `env:"SUNO_BASE_URL, default=https://api.kie.ai/api/v1" json:"suno_base_url"`

	// Storage settings
	MediaDir string `env:"MEDIA_DIR, default=media" json:"media_dir"`
	DBPath   string `env:"DB_PATH, default=melodymind.db" json:"db_path"`

	// DownloadTimeout bounds a single asset download. Media payloads are
	// large, so this is deliberately much longer than an API-call timeout.
	DownloadTimeout time.Duration `env:"DOWNLOAD_TIMEOUT, default=3m" json:"download_timeout"`

	// Optional S3 mirror settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// CallbackURL returns the webhook URL injected into provider requests.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/callback"
}

// MediaBaseURL returns the public base URL for downloaded assets.
func (c *Config) MediaBaseURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/media"
}

// S3Enabled returns true if the optional S3 mirror is configured.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.SunoAPIKey == "" {
		return ErrSunoAPIKeyRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, BaseURL: %s, SunoBaseURL: %s, MediaDir: %s, DBPath: %s, DownloadTimeout: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.BaseURL,
		c.SunoBaseURL,
		c.MediaDir,
		c.DBPath,
		c.DownloadTimeout,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
