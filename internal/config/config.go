package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	FleetURL            = "FLEET_API_URL"
	FleetApiKey         = "FLEET_API_KEY"
	DeploymentMode      = "FLEET_DEPLOYMENT_MODE"
	Port                = "PORT"
	LogLevel            = "LOG_LEVEL"
	RequestTimeout      = "FLEET_REQUEST_TIMEOUT"
	RequestsPerSecond   = "FLEET_REQUESTS_PER_SECOND"
	RefreshDebounce     = "FLEET_REFRESH_DEBOUNCE"
	ReportPageSize      = "FLEET_REPORT_PAGE_SIZE"
	ListPageSize        = "FLEET_LIST_PAGE_SIZE"
	SessionCacheSize    = "FLEET_SESSION_CACHE_SIZE"
	OtelEndpoint        = "OTEL_EXPORTER_OTLP_ENDPOINT"
	OtelInsecure        = "OTEL_EXPORTER_OTLP_INSECURE"
	SegmentWriteKey     = "SEGMENT_WRITE_KEY"
	defaultPort         = "8000"
	defaultCacheSize    = 256
	defaultListPageSize = 100
)

const (
	ModeLocal = "local"
	ModeCloud = "cloud"
)

type Config struct {
	URL               string
	APIKey            string
	DeploymentMode    string
	Port              string
	LogLevel          string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	RefreshDebounce   time.Duration
	ReportPageSize    int
	ListPageSize      int
	SessionCacheSize  int
	OtelEndpoint      string
	OtelInsecure      bool
	SegmentWriteKey   string
}

// LoadConfig reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; variables already set in
// the environment win.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	url := os.Getenv(FleetURL)
	if url == "" {
		return nil, fmt.Errorf("environment variable `%s` not set", FleetURL)
	}

	cfg := &Config{
		URL:             url,
		APIKey:          os.Getenv(FleetApiKey),
		DeploymentMode:  envOr(DeploymentMode, ModeLocal),
		Port:            envOr(Port, defaultPort),
		LogLevel:        envOr(LogLevel, "info"),
		OtelEndpoint:    os.Getenv(OtelEndpoint),
		SegmentWriteKey: os.Getenv(SegmentWriteKey),
	}

	switch cfg.DeploymentMode {
	case ModeLocal:
		// stdio clients cannot send headers, so the key must come from the environment
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("environment variable `%s` not set", FleetApiKey)
		}
	case ModeCloud:
	default:
		return nil, fmt.Errorf("environment variable `%s` must be %q or %q, got %q", DeploymentMode, ModeLocal, ModeCloud, cfg.DeploymentMode)
	}

	var err error
	if cfg.RequestTimeout, err = durationEnv(RequestTimeout, 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.RefreshDebounce, err = durationEnv(RefreshDebounce, 150*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.RequestsPerSecond, err = floatEnv(RequestsPerSecond, 20); err != nil {
		return nil, err
	}
	if cfg.ReportPageSize, err = intEnv(ReportPageSize, 25); err != nil {
		return nil, err
	}
	if cfg.ListPageSize, err = intEnv(ListPageSize, defaultListPageSize); err != nil {
		return nil, err
	}
	if cfg.SessionCacheSize, err = intEnv(SessionCacheSize, defaultCacheSize); err != nil {
		return nil, err
	}
	if v := os.Getenv(OtelInsecure); v != "" {
		if cfg.OtelInsecure, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("environment variable `%s`: %w", OtelInsecure, err)
		}
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("environment variable `%s` must be a positive duration like \"30s\", got %q", key, v)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("environment variable `%s` must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("environment variable `%s` must be a positive number, got %q", key, v)
	}
	return f, nil
}
