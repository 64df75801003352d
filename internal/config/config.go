package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	DatabaseURL string
	ListenAddr  string

	// JWTSecret signs and verifies the bearer tokens issued at login.
	JWTSecret string

	AdminEmail    string
	AdminPassword string

	// KeyTTL is how long a minted download key stays redeemable.
	KeyTTL time.Duration

	// FetchTimeout bounds the outbound request to a file's source URL
	// when a download key is redeemed.
	FetchTimeout time.Duration

	// ReplenishInterval is the cadence of the token replenishment and
	// subscription expiry passes.
	ReplenishInterval time.Duration
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		DatabaseURL:       os.Getenv("APP_DATABASE_URL"),
		ListenAddr:        getenv("APP_LISTEN_ADDR", ":8080"),
		JWTSecret:         getenv("APP_JWT_SECRET", ""),
		AdminEmail:        getenv("APP_ADMIN_EMAIL", "admin@localhost"),
		AdminPassword:     getenv("APP_ADMIN_PASSWORD", "changeme"),
		KeyTTL:            15 * time.Minute,
		FetchTimeout:      30 * time.Second,
		ReplenishInterval: 24 * time.Hour,
	}

	if v := os.Getenv("APP_KEY_TTL_MINUTES"); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m > 0 {
			cfg.KeyTTL = time.Duration(m) * time.Minute
		}
	}
	if v := os.Getenv("APP_FETCH_TIMEOUT_SECONDS"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			cfg.FetchTimeout = time.Duration(s) * time.Second
		}
	}
	if v := os.Getenv("APP_REPLENISH_INTERVAL_HOURS"); v != "" {
		if h, err := strconv.Atoi(v); err == nil && h > 0 {
			cfg.ReplenishInterval = time.Duration(h) * time.Hour
		}
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
