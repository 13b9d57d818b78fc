package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	DataDir            string
	DatabaseURL        string
	MeshyAPIKey        string
	MeshyBaseURL       string
	GeoIPDBPath        string
	CORSAllowedOrigins string
	ProviderRatePerSec int
	PollInitialDelay   time.Duration
	PollMultiplier     float64
	PollMaxDelay       time.Duration
	PollDeadline       time.Duration
	MaxPromptChars     int
	MaxUploadBytes     int64
	HTTPRatePerMin     int
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// DATABASE_URL and MESHY_API_KEY are optional: an empty database URL selects the
// file-backed job store, and an empty API key selects the synthetic provider.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DataDir:            getEnv("DATA_DIR", "data"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		MeshyAPIKey:        os.Getenv("MESHY_API_KEY"),
		MeshyBaseURL:       getEnv("MESHY_BASE_URL", "https://api.meshy.ai"),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		ProviderRatePerSec: getEnvInt("PROVIDER_RATE_PER_SEC", 2),
		PollInitialDelay:   time.Millisecond * time.Duration(getEnvInt("POLL_INITIAL_INTERVAL_MS", 2000)),
		PollMultiplier:     getEnvFloat("POLL_MULTIPLIER", 1.5),
		PollMaxDelay:       time.Millisecond * time.Duration(getEnvInt("POLL_MAX_INTERVAL_MS", 30000)),
		PollDeadline:       time.Minute * time.Duration(getEnvInt("POLL_DEADLINE_MIN", 15)),
		MaxPromptChars:     getEnvInt("MAX_PROMPT_CHARS", 1000),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_MB", 10)) << 20,
		HTTPRatePerMin:     getEnvInt("HTTP_RATE_PER_MINUTE", 60),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("DATA_DIR is required")
	}

	if cfg.ProviderRatePerSec <= 0 {
		return nil, fmt.Errorf("PROVIDER_RATE_PER_SEC must be positive")
	}

	if cfg.PollMultiplier < 1 {
		return nil, fmt.Errorf("POLL_MULTIPLIER must be at least 1")
	}

	if cfg.PollInitialDelay <= 0 || cfg.PollMaxDelay < cfg.PollInitialDelay {
		return nil, fmt.Errorf("poll intervals are invalid: initial %s, max %s", cfg.PollInitialDelay, cfg.PollMaxDelay)
	}

	if cfg.PollDeadline <= 0 {
		return nil, fmt.Errorf("POLL_DEADLINE_MIN must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
