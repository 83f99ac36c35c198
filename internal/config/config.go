package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries process configuration sourced from the environment.
type Config struct {
	Addr           string
	PGDSN          string
	RedisAddr      string
	SessionKeyTTL  time.Duration
	OpeningBalance int64
	RateBurst      int
	RatePerSecond  int
}

// Load reads configuration from QBANK_* environment variables, applying
// defaults where a variable is unset. PGDSN and RedisAddr are optional: when
// empty the service runs on its in-memory stores.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:           getEnv("QBANK_ADDR", ":8080"),
		PGDSN:          os.Getenv("QBANK_PG_DSN"),
		RedisAddr:      os.Getenv("QBANK_REDIS_ADDR"),
		SessionKeyTTL:  15 * time.Minute,
		OpeningBalance: 10000,
		RateBurst:      20,
		RatePerSecond:  10,
	}

	if raw := os.Getenv("QBANK_SESSION_KEY_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("QBANK_SESSION_KEY_TTL: %w", err)
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("QBANK_SESSION_KEY_TTL must be positive")
		}
		cfg.SessionKeyTTL = ttl
	}

	if raw := os.Getenv("QBANK_OPENING_BALANCE"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("QBANK_OPENING_BALANCE: %w", err)
		}
		if v < 0 {
			return nil, fmt.Errorf("QBANK_OPENING_BALANCE must be >= 0")
		}
		cfg.OpeningBalance = v
	}

	if v, err := intEnv("QBANK_RATE_BURST", cfg.RateBurst); err != nil {
		return nil, err
	} else {
		cfg.RateBurst = v
	}
	if v, err := intEnv("QBANK_RATE_PER_SECOND", cfg.RatePerSecond); err != nil {
		return nil, err
	} else {
		cfg.RatePerSecond = v
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return v, nil
}
