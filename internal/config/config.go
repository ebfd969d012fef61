// Package config loads runtime configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings for the server and worker binaries.
type Config struct {
	// HTTP API
	ListenAddr string

	// Provider selection: "gemini" or "openrouter".
	Provider         string
	GeminiAPIKey     string
	GeminiModel      string
	OpenRouterAPIKey string
	OpenRouterModel  string

	// Dispatch tuning
	DispatchConcurrency int
	DispatchInterval    time.Duration
	MaxAttempts         int

	// Storage: "sqlite" or "postgres".
	StorageBackend string
	SQLitePath     string
	PostgresURL    string

	// Async path
	RedisURL          string
	WorkerConcurrency int

	// Result retention
	ResultRetention time.Duration

	TempDir string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present; real environment variables win.
func Load() (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		Provider:            getEnv("VISION_PROVIDER", "gemini"),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", ""),
		OpenRouterAPIKey:    getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterModel:     getEnv("OPENROUTER_MODEL", ""),
		DispatchConcurrency: getEnvInt("DISPATCH_CONCURRENCY", 10),
		DispatchInterval:    getEnvDuration("DISPATCH_INTERVAL", 4*time.Second),
		MaxAttempts:         getEnvInt("DISPATCH_MAX_ATTEMPTS", 3),
		StorageBackend:      getEnv("STORAGE_BACKEND", "sqlite"),
		SQLitePath:          getEnv("SQLITE_PATH", "matchlens.db"),
		PostgresURL:         getEnv("POSTGRES_URL", ""),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379"),
		WorkerConcurrency:   getEnvInt("WORKER_CONCURRENCY", 2),
		ResultRetention:     getEnvDuration("RESULT_RETENTION", time.Hour),
		TempDir:             getEnv("TEMP_DIR", "/tmp/matchlens"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when VISION_PROVIDER=gemini")
		}
	case "openrouter":
		if c.OpenRouterAPIKey == "" {
			return fmt.Errorf("OPENROUTER_API_KEY is required when VISION_PROVIDER=openrouter")
		}
	default:
		return fmt.Errorf("unknown VISION_PROVIDER %q (want gemini or openrouter)", c.Provider)
	}

	switch c.StorageBackend {
	case "sqlite":
	case "postgres":
		if c.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_URL is required when STORAGE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (want sqlite or postgres)", c.StorageBackend)
	}

	if c.DispatchConcurrency < 1 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
