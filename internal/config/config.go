// Package config loads runtime configuration from the environment.
package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	KeyPrefix     string `env:"KEY_PREFIX" envDefault:"authd"`

	// SigningKey and VerifyKey are the base64-encoded raw Ed25519
	// private (64 bytes) and public (32 bytes) keys. Both empty is
	// allowed outside production: the process generates an ephemeral
	// pair at startup.
	SigningKey string `env:"TOKEN_SIGNING_KEY"`
	VerifyKey  string `env:"TOKEN_VERIFY_KEY"`

	Issuer     string        `env:"TOKEN_ISSUER" envDefault:"authd"`
	Audience   string        `env:"TOKEN_AUDIENCE" envDefault:"authd-clients"`
	AccessTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`

	RateLimit     int           `env:"RATE_LIMIT_PER_SECOND" envDefault:"100"`
	SweepInterval time.Duration `env:"RATE_SWEEP_INTERVAL" envDefault:"30s"`
	SweepMaxAge   time.Duration `env:"RATE_SWEEP_MAX_AGE" envDefault:"20s"`

	CookieSecure bool `env:"COOKIE_SECURE" envDefault:"false"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	if cfg.Environment == "production" && (cfg.SigningKey == "" || cfg.VerifyKey == "") {
		return Config{}, fmt.Errorf("config: TOKEN_SIGNING_KEY and TOKEN_VERIFY_KEY are required in production")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= cfg.AccessTTL {
		return Config{}, fmt.Errorf("config: refresh TTL must exceed access TTL")
	}

	return cfg, nil
}

// DecodeKey decodes a base64 key value, tolerating the empty string.
func DecodeKey(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("config: invalid base64 key: %w", err)
	}
	return raw, nil
}
