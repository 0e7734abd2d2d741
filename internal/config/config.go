// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/engaged and cmd/engagectl.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// IP rate limiting on the trigger API
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Push delivery (FCM). Empty disables push entirely.
	FirebaseCredentialsFile string

	// Real-time sync backend. Empty disables real-time forwarding.
	RealtimeBaseURL   string
	RealtimeAuthToken string

	// Periodic scan schedules (robfig/cron 5-field specs)
	StreakScanSpec      string
	ReengageScanSpec    string
	LimiterSweepSpec    string
	TokenCleanupSpec    string
	StaleTokenRetention time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		FirebaseCredentialsFile: envOr("FIREBASE_CREDENTIALS_FILE", ""),

		RealtimeBaseURL:   envOr("REALTIME_BASE_URL", ""),
		RealtimeAuthToken: envOr("REALTIME_AUTH_TOKEN", ""),

		StreakScanSpec:      envOr("STREAK_SCAN_SPEC", "0 * * * *"),
		ReengageScanSpec:    envOr("REENGAGE_SCAN_SPEC", "30 * * * *"),
		LimiterSweepSpec:    envOr("LIMITER_SWEEP_SPEC", "15 * * * *"),
		TokenCleanupSpec:    envOr("TOKEN_CLEANUP_SPEC", "45 3 * * *"),
		StaleTokenRetention: time.Duration(envInt("STALE_TOKEN_RETENTION_DAYS", 90)) * 24 * time.Hour,
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
