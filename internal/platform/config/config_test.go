package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Addr)
		assert.Equal(t, "/api/qx7", cfg.BasePath)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, 5*time.Second, cfg.Analytics.Timeout)
		assert.Empty(t, cfg.Analytics.KafkaBrokers)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("QX7_ADDR", ":9090")
		t.Setenv("QX7_ANALYTICS_ENDPOINT", "https://collector.example.com/events")
		t.Setenv("QX7_ANALYTICS_KAFKA_BROKERS", "k1:9092,k2:9092")
		t.Setenv("QX7_LOG_FORMAT", "text")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":9090", cfg.Addr)
		assert.Equal(t, "https://collector.example.com/events", cfg.Analytics.Endpoint)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Analytics.KafkaBrokers)
		assert.Equal(t, "text", cfg.Log.Format)
	})

	t.Run("malformed duration", func(t *testing.T) {
		t.Setenv("QX7_ANALYTICS_TIMEOUT", "soon")
		_, err := FromEnv()
		require.Error(t, err)
	})
}

func TestClientFromEnv(t *testing.T) {
	t.Setenv("QX7_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("QX7_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("QX7_INCOGNITO", "true")

	cfg, err := ClientFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, 365*24*time.Hour, cfg.RecordTTL)
	assert.Equal(t, 2*time.Second, cfg.RetryBase)
	assert.Equal(t, "qx7_id", cfg.CookieName)
	assert.True(t, cfg.Incognito)
	assert.Len(t, cfg.AllowedOrigins, 2)
}
