package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store backends.
const (
	BackendJSON     = "json"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config contains all runtime settings for the capture service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	DataDir      string
	StoreBackend string
	ReportFile   string
	BoltPath     string
	DatabaseURL  string

	CaptureDir         string
	CaptureFallbackDir string
	CapturePrefix      string

	ModelPath  string
	ModelWatch bool
	FaceDetect bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "moodcam"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("APP_LOG_FORMAT", "text"),
		DataDir:          envOrDefault("APP_DATA_DIR", "data"),
		StoreBackend:     strings.ToLower(envOrDefault("APP_STORE_BACKEND", BackendJSON)),
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		CaptureDir:       envOrDefault("APP_CAPTURE_DIR", "static/session_captures"),
		CapturePrefix:    envOrDefault("APP_CAPTURE_PREFIX", "/static/session_captures"),
		ModelPath:        envOrDefault("MODEL_PATH", "models/emotion_weights.yaml"),
		ShutdownTimeout:  15 * time.Second,
	}
	cfg.ReportFile = envOrDefault("APP_REPORT_FILE", filepath.Join(cfg.DataDir, "session_reports.json"))
	cfg.BoltPath = envOrDefault("APP_BOLT_PATH", filepath.Join(cfg.DataDir, "moodcam.db"))
	cfg.CaptureFallbackDir = envOrDefault("APP_CAPTURE_FALLBACK_DIR", filepath.Join(cfg.DataDir, "capture_fallback"))

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelWatch, err = boolFromEnv("MODEL_WATCH", false)
	if err != nil {
		return Config{}, err
	}
	cfg.FaceDetect, err = boolFromEnv("APP_FACE_DETECT", true)
	if err != nil {
		return Config{}, err
	}

	switch cfg.StoreBackend {
	case BackendJSON, BackendBolt:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("APP_STORE_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("invalid APP_STORE_BACKEND: %q (expected json|bolt|postgres)", cfg.StoreBackend)
	}
	if cfg.ShutdownTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
