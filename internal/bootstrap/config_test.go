package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", "secret")
	for _, k := range []string{"SERVER_PORT", "LOG_LEVEL", "APP_ENV", "REDIS_KEY_PREFIX", "REDIS_DB",
		"JWT_EXPIRY_HOURS", "RATE_LIMIT_MAX", "PRESENCE_TTL_SECONDS", "CHALLENGE_TTL_MINUTES", "CORS_ALLOWED_ORIGIN"} {
		t.Setenv(k, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "pd:", cfg.KeyPrefix)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, 24, cfg.JWTExpiryHours)
	assert.Equal(t, 100, cfg.RateLimitMax)
	assert.Equal(t, 60*time.Second, cfg.PresenceTTL)
	assert.Equal(t, 10*time.Minute, cfg.ChallengeTTL)
	assert.Equal(t, "http://localhost:3000", cfg.CORSAllowedOrigin)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("LOG_LEVEL", "verbose")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("PRESENCE_TTL_SECONDS", "30")
	t.Setenv("CHALLENGE_TTL_MINUTES", "abc")
	t.Setenv("REDIS_KEY_PREFIX", "duel:")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel, "invalid level falls back to info")
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 30*time.Second, cfg.PresenceTTL)
	assert.Equal(t, 10*time.Minute, cfg.ChallengeTTL)
	assert.Equal(t, "duel:", cfg.KeyPrefix)
}

func TestLoadConfig_Required(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("JWT_SECRET", "secret")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", "")
	_, err = LoadConfig()
	assert.Error(t, err)
}
