package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MAX_CONNECTIONS_PER_USER", "")
	t.Setenv("IDEMPOTENCY_TTL", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()

	assert.Equal(t, 5, cfg.MaxConnectionsPerUser)
	assert.Equal(t, 60*time.Second, cfg.IdempotencyTTL)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "http://localhost:"+cfg.Port, cfg.BaseURL)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MAX_CONNECTIONS_PER_USER", "2")
	t.Setenv("TYPING_TTL", "bogus")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")

	cfg := Load()

	assert.Equal(t, 2, cfg.MaxConnectionsPerUser)
	assert.Equal(t, 5*time.Second, cfg.TypingTTL, "unparseable durations fall back to the default")
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
}

func TestValidate(t *testing.T) {
	t.Run("production requires a real secret", func(t *testing.T) {
		cfg := Load()
		cfg.Environment = "production"
		cfg.JWTSecret = "your-super-secret-key-change-this-in-production"
		assert.Error(t, cfg.Validate())
	})

	t.Run("connection cap must be positive", func(t *testing.T) {
		cfg := Load()
		cfg.MaxConnectionsPerUser = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rate windows must be positive", func(t *testing.T) {
		cfg := Load()
		cfg.TypingRateWindow = 0
		assert.Error(t, cfg.Validate())
	})
}
