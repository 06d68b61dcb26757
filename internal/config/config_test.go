package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/agenda")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisPoolSize != 10 {
		t.Fatalf("RedisPoolSize = %d, want 10", cfg.RedisPoolSize)
	}
	if cfg.RedisTimeout != 2*time.Second {
		t.Fatalf("RedisTimeout = %v, want 2s", cfg.RedisTimeout)
	}
	if cfg.LockTTL != 5*time.Second {
		t.Fatalf("LockTTL = %v, want 5s", cfg.LockTTL)
	}
}

func TestLoad_RedisTuning(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/agenda")
	t.Setenv("REDIS_POOL_SIZE", "32")
	t.Setenv("REDIS_TIMEOUT", "500ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisPoolSize != 32 {
		t.Fatalf("RedisPoolSize = %d, want 32", cfg.RedisPoolSize)
	}
	if cfg.RedisTimeout != 500*time.Millisecond {
		t.Fatalf("RedisTimeout = %v, want 500ms", cfg.RedisTimeout)
	}
}

func TestLoad_RequiresPostgresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error without POSTGRES_DSN")
	}
}
