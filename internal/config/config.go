package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	S3 struct {
		Endpoint  string `split_words:"true"`
		Region    string `split_words:"true" default:"us-east-1"`
		AccessKey string `split_words:"true" required:"true"`
		SecretKey string `split_words:"true" required:"true"`
		Bucket    string `split_words:"true"`
	}

	AccountID string `envconfig:"ACCOUNT_ID" default:"default"`

	MaxParallelUploads   int `envconfig:"MAX_PARALLEL_UPLOADS" default:"3"`
	MaxParallelDownloads int `envconfig:"MAX_PARALLEL_DOWNLOADS" default:"4"`

	DownloadDir       string        `envconfig:"DOWNLOAD_DIR" required:"true"`
	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"0"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`

	DBPath            string `envconfig:"DB_PATH" default:"history.db"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	WebhookURL        string `envconfig:"WEBHOOK_URL"`
	TelemetryEnabled  bool   `envconfig:"TELEMETRY_ENABLED" default:"true"`
	TelemetryEndpoint string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`

	Web struct {
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		BindAddress     string        `split_words:"true" default:"127.0.0.1:9866"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
