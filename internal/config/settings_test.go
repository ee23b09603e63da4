package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "unit-test-secret-key")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", s.Env)
	assert.Equal(t, 8000, s.Port)
	assert.Equal(t, 30*time.Minute, s.AccessTokenExpiry)
	assert.Equal(t, 100, s.RateLimitTokens)
	assert.Equal(t, 60*time.Second, s.RateLimitWindow)
	assert.Equal(t, 1500*time.Millisecond, s.CoinGeckoDelay)
	assert.Equal(t, "claude-3-haiku-20240307", s.AnthropicModel)
	assert.False(t, s.KafkaEnabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "unit-test-secret-key")
	t.Setenv("API_PORT", "9100")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "120")
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://staging.example.com")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092,broker-2:9092")
	t.Setenv("CACHE_TTL", "600")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, s.Port)
	assert.Equal(t, 2*time.Hour, s.AccessTokenExpiry)
	assert.Equal(t, []string{"https://app.example.com", "https://staging.example.com"}, s.CORSOrigins)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, s.KafkaBrokers)
	assert.True(t, s.KafkaEnabled())
	assert.Equal(t, 600*time.Second, s.DefaultCacheTTL, "bare numbers are seconds")
}

func TestSettings_Validate(t *testing.T) {
	t.Run("missing secret outside dev", func(t *testing.T) {
		s := &Settings{Env: "prod", Port: 8000, AccessTokenExpiry: time.Minute, RateLimitTokens: 10, RateLimitWindow: time.Minute}
		assert.Error(t, s.Validate())
	})

	t.Run("dev secret injected", func(t *testing.T) {
		s := &Settings{Env: "dev", Port: 8000, AccessTokenExpiry: time.Minute, RateLimitTokens: 10, RateLimitWindow: time.Minute}
		require.NoError(t, s.Validate())
		assert.NotEmpty(t, s.JWTSecret)
	})

	t.Run("short secret rejected", func(t *testing.T) {
		s := &Settings{Env: "prod", JWTSecret: "short", Port: 8000, AccessTokenExpiry: time.Minute, RateLimitTokens: 10, RateLimitWindow: time.Minute}
		assert.Error(t, s.Validate())
	})

	t.Run("bad port rejected", func(t *testing.T) {
		s := &Settings{Env: "dev", Port: 0, AccessTokenExpiry: time.Minute, RateLimitTokens: 10, RateLimitWindow: time.Minute}
		assert.Error(t, s.Validate())
	})
}
