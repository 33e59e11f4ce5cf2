package config

import (
	"os"
	"strings"
	"time"
)

const (
	defaultRedisURL      = "redis://localhost:6379"
	defaultListenAddr    = ":8086"
	defaultStaleAfter    = 24 * time.Hour
	defaultSweepInterval = 60 * time.Second

	envRedisURL      = "REDIS_URL"
	envNATSURL       = "NATS_URL"
	envAssetCatalog  = "ASSET_CATALOG_PATH"
	envListenAddr    = "LOCKD_LISTEN_ADDR"
	envStaleAfter    = "LOCK_STALE_AFTER"
	envSweepInterval = "LOCK_SWEEP_INTERVAL"
)

// Config holds runtime configuration for the lock daemon.
type Config struct {
	RedisURL         string
	NatsURL          string
	AssetCatalogPath string
	ListenAddr       string

	// StaleAfter is the staleness horizon after which lease-less locks are
	// reclaimed by the cleanup sweep.
	StaleAfter time.Duration

	// SweepInterval is the period of the background cleanup timer.
	SweepInterval time.Duration
}

// Load returns configuration using environment variables with sane defaults.
// An empty NATS_URL disables lock event publishing; an empty
// ASSET_CATALOG_PATH disables capability matching.
func Load() *Config {
	redisURL := os.Getenv(envRedisURL)
	if redisURL == "" {
		redisURL = defaultRedisURL
	}

	listenAddr := os.Getenv(envListenAddr)
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	return &Config{
		RedisURL:         redisURL,
		NatsURL:          strings.TrimSpace(os.Getenv(envNATSURL)),
		AssetCatalogPath: strings.TrimSpace(os.Getenv(envAssetCatalog)),
		ListenAddr:       listenAddr,
		StaleAfter:       parseDurationEnv(envStaleAfter, defaultStaleAfter),
		SweepInterval:    parseDurationEnv(envSweepInterval, defaultSweepInterval),
	}
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
