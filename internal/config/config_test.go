package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets all config env vars so tests start clean.
func clearEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"LISTEN_ADDR",
		"ENVIRONMENT",
		"DATABASE_URL",
		"REDIS_ADDR",
		"REDIS_DB",
		"REDIS_KEY_PREFIX",
		"TOKEN_SIGNING_METHOD",
		"TOKEN_SECRET",
		"TOKEN_PRIVATE_KEY",
		"TOKEN_PUBLIC_KEY",
		"TOKEN_ISSUER",
		"ACCESS_TOKEN_TTL",
		"REFRESH_TOKEN_TTL",
		"MIN_PASSWORD_LENGTH",
		"LOCKOUT_THRESHOLD",
		"LOCKOUT_WINDOW",
		"SENTRY_DSN",
		"SECURE_COOKIES",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/sellerdesk_test")
	t.Setenv("TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	setMinimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "hs256", cfg.TokenSigningMethod)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 720*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 10, cfg.MinPasswordLength)
	assert.Equal(t, 5, cfg.LockoutThreshold)
	assert.Equal(t, 15*time.Minute, cfg.LockoutWindow)
	assert.True(t, cfg.SecureCookies)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOKEN_SECRET", "0123456789abcdef0123456789abcdef")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadRejectsShortSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/sellerdesk_test")
	t.Setenv("TOKEN_SECRET", "too short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_SECRET")
}

func TestLoadEd25519RequiresKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/sellerdesk_test")
	t.Setenv("TOKEN_SIGNING_METHOD", "ed25519")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_PRIVATE_KEY")
}

func TestLoadRejectsUnknownSigningMethod(t *testing.T) {
	clearEnv(t)
	setMinimalEnv(t)
	t.Setenv("TOKEN_SIGNING_METHOD", "rs512")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_SIGNING_METHOD")
}

func TestLoadRejectsInvertedTTLs(t *testing.T) {
	clearEnv(t)
	setMinimalEnv(t)
	t.Setenv("ACCESS_TOKEN_TTL", "720h")
	t.Setenv("REFRESH_TOKEN_TTL", "15m")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACCESS_TOKEN_TTL")
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	setMinimalEnv(t)
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("LOCKOUT_THRESHOLD", "3")
	t.Setenv("SECURE_COOKIES", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 3, cfg.LockoutThreshold)
	assert.False(t, cfg.SecureCookies)
}
