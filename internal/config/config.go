package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              string
	AllowedOrigin     string
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	DefaultBusinessID string
	AuthSecret        string
	AccessTokenTTL    time.Duration
	ProductCacheTTL   time.Duration
}

// Load reads configuration from the environment, layering a .env file under
// it when one exists. Missing values fall back to dev defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:              envOr("PORT", "8080"),
		AllowedOrigin:     envOr("ALLOWED_ORIGIN", "*"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           envInt("REDIS_DB", 0),
		DefaultBusinessID: envOr("DEFAULT_BUSINESS_ID", "demo-business"),
		AuthSecret:        os.Getenv("AUTH_SECRET"),
		AccessTokenTTL:    time.Duration(envInt("ACCESS_TOKEN_TTL_MINUTES", 12*60)) * time.Minute,
		ProductCacheTTL:   time.Duration(envInt("PRODUCT_CACHE_TTL_SECONDS", 60)) * time.Second,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
