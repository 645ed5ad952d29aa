package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATABASE_URL", "REDIS_ADDR", "AUTH_SECRET", "ACCESS_TOKEN_TTL_MINUTES"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" || cfg.Address() != ":8080" {
		t.Fatalf("port = %s address = %s", cfg.Port, cfg.Address())
	}
	if cfg.DefaultBusinessID != "demo-business" {
		t.Fatalf("business id = %s", cfg.DefaultBusinessID)
	}
	if cfg.AccessTokenTTL != 12*time.Hour {
		t.Fatalf("token ttl = %v", cfg.AccessTokenTTL)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "30")
	t.Setenv("PRODUCT_CACHE_TTL_SECONDS", "banana")

	cfg := Load()
	if cfg.Port != "9999" {
		t.Fatalf("port = %s", cfg.Port)
	}
	if cfg.RedisDB != 3 {
		t.Fatalf("redis db = %d", cfg.RedisDB)
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("token ttl = %v", cfg.AccessTokenTTL)
	}
	// Unparseable numbers fall back instead of failing startup.
	if cfg.ProductCacheTTL != 60*time.Second {
		t.Fatalf("cache ttl = %v", cfg.ProductCacheTTL)
	}
}
