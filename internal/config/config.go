// Package config loads environment-based configuration for the auth
// service. A .env file is honored when present; real environment variables
// win over it.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration.
type Config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0"`
	// KeyPrefix namespaces every Redis key this service writes.
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"sd"`

	// TokenSigningMethod is "hs256" or "ed25519".
	TokenSigningMethod string `env:"TOKEN_SIGNING_METHOD" envDefault:"hs256"`
	TokenSecret        string `env:"TOKEN_SECRET"`
	TokenPrivateKey    string `env:"TOKEN_PRIVATE_KEY"`
	TokenPublicKey     string `env:"TOKEN_PUBLIC_KEY"`
	TokenIssuer        string `env:"TOKEN_ISSUER" envDefault:"sellerdesk"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`

	MinPasswordLength int           `env:"MIN_PASSWORD_LENGTH" envDefault:"10"`
	LockoutThreshold  int           `env:"LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutWindow     time.Duration `env:"LOCKOUT_WINDOW" envDefault:"15m"`

	SentryDSN string `env:"SENTRY_DSN"`

	// SecureCookies must stay on outside local development.
	SecureCookies bool `env:"SECURE_COOKIES" envDefault:"true"`
}

// Load reads configuration from the environment, loading a .env file first
// if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.TokenSigningMethod {
	case "hs256":
		if len(c.TokenSecret) < 32 {
			return fmt.Errorf("TOKEN_SECRET must be at least 32 bytes for hs256")
		}
	case "ed25519":
		if c.TokenPrivateKey == "" || c.TokenPublicKey == "" {
			return fmt.Errorf("TOKEN_PRIVATE_KEY and TOKEN_PUBLIC_KEY are required for ed25519")
		}
	default:
		return fmt.Errorf("TOKEN_SIGNING_METHOD must be hs256 or ed25519, got %q", c.TokenSigningMethod)
	}

	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}
	if c.LockoutThreshold <= 0 || c.LockoutWindow <= 0 {
		return fmt.Errorf("lockout threshold and window must be positive")
	}
	return nil
}
