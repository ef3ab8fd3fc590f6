package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the estimates tracker.
// All environment variables are read here and nowhere else.
type Config struct {
	Env string // development, staging, production

	// History store
	DBPath string

	// Universe files
	UniverseDir string

	// FMP API
	FMP FMPConfig

	// Capture run
	Capture CaptureConfig

	// Read API server
	Port string

	// Resident schedule mode (cron spec, with seconds field)
	CaptureSchedule string

	// Logging
	LogLevel  string
	LogFormat string
}

// FMPConfig holds Financial Modeling Prep API configuration.
type FMPConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// CaptureConfig holds the orchestrator's run parameters.
type CaptureConfig struct {
	Workers     int
	MaxAttempts int           // fetch attempts per ticker (1 = no retry)
	RetryDelay  time.Duration // initial backoff delay, doubles per attempt
	MaxDelay    time.Duration
	RateLimit   float64 // upstream requests per second, shared across workers
	Burst       int
}

// Load reads configuration from environment variables.
// Only this function calls os.Getenv().
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Env: getEnv("ENV", "development"),

		DBPath:      getEnv("ESTIMATES_DB_PATH", "estimates_history.db"),
		UniverseDir: getEnv("UNIVERSE_DIR", "universes"),

		FMP: FMPConfig{
			APIKey:  getEnv("FMP_API_KEY", ""),
			BaseURL: getEnv("FMP_BASE_URL", "https://financialmodelingprep.com/api/v3"),
			Timeout: getEnvAsDuration("FETCH_TIMEOUT", "10s"),
		},

		Capture: CaptureConfig{
			Workers:     getEnvAsInt("CAPTURE_WORKERS", 4),
			MaxAttempts: getEnvAsInt("FETCH_MAX_ATTEMPTS", 3),
			RetryDelay:  getEnvAsDuration("FETCH_RETRY_DELAY", "1s"),
			MaxDelay:    getEnvAsDuration("FETCH_RETRY_MAX_DELAY", "10s"),
			RateLimit:   getEnvAsFloat("FETCH_RATE_LIMIT", 5),
			Burst:       getEnvAsInt("FETCH_RATE_BURST", 1),
		},

		Port: getEnv("PORT", "8099"),

		CaptureSchedule: getEnv("CAPTURE_SCHEDULE", "0 0 18 * * MON-FRI"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set.
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.DBPath == "" {
		return fmt.Errorf("ESTIMATES_DB_PATH is required")
	}

	if c.Capture.Workers < 1 {
		return fmt.Errorf("CAPTURE_WORKERS must be at least 1")
	}

	if c.Capture.MaxAttempts < 1 {
		return fmt.Errorf("FETCH_MAX_ATTEMPTS must be at least 1")
	}

	if c.Capture.RateLimit <= 0 {
		return fmt.Errorf("FETCH_RATE_LIMIT must be positive")
	}

	return nil
}

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
