package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envRedisURL, "")
	t.Setenv(envNATSURL, "")
	t.Setenv(envListenAddr, "")
	t.Setenv(envStaleAfter, "")
	t.Setenv(envSweepInterval, "")

	cfg := Load()
	if cfg.RedisURL != defaultRedisURL {
		t.Fatalf("unexpected redis url: %s", cfg.RedisURL)
	}
	if cfg.NatsURL != "" {
		t.Fatalf("expected events disabled by default")
	}
	if cfg.ListenAddr != defaultListenAddr {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.StaleAfter != defaultStaleAfter {
		t.Fatalf("unexpected stale horizon: %s", cfg.StaleAfter)
	}
	if cfg.SweepInterval != defaultSweepInterval {
		t.Fatalf("unexpected sweep interval: %s", cfg.SweepInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(envRedisURL, "redis://redis.lab:6379")
	t.Setenv(envNATSURL, "nats://nats.lab:4222")
	t.Setenv(envAssetCatalog, "/etc/wetbench/assets.yaml")
	t.Setenv(envStaleAfter, "2h")
	t.Setenv(envSweepInterval, "15s")

	cfg := Load()
	if cfg.RedisURL != "redis://redis.lab:6379" {
		t.Fatalf("unexpected redis url: %s", cfg.RedisURL)
	}
	if cfg.NatsURL != "nats://nats.lab:4222" {
		t.Fatalf("unexpected nats url: %s", cfg.NatsURL)
	}
	if cfg.AssetCatalogPath != "/etc/wetbench/assets.yaml" {
		t.Fatalf("unexpected catalog path: %s", cfg.AssetCatalogPath)
	}
	if cfg.StaleAfter != 2*time.Hour {
		t.Fatalf("unexpected stale horizon: %s", cfg.StaleAfter)
	}
	if cfg.SweepInterval != 15*time.Second {
		t.Fatalf("unexpected sweep interval: %s", cfg.SweepInterval)
	}
}

func TestParseDurationEnv(t *testing.T) {
	if got := parseDurationEnv("WETBENCH_TEST_NOT_SET", 5*time.Second); got != 5*time.Second {
		t.Fatalf("unexpected fallback duration")
	}
	t.Setenv(envStaleAfter, "bad")
	if got := parseDurationEnv(envStaleAfter, 5*time.Second); got != 5*time.Second {
		t.Fatalf("expected fallback for invalid duration")
	}
	t.Setenv(envStaleAfter, "-1h")
	if got := parseDurationEnv(envStaleAfter, 5*time.Second); got != 5*time.Second {
		t.Fatalf("expected fallback for negative duration")
	}
}
