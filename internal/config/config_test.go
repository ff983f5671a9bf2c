package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORTAL_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "order.events", cfg.EventsTopic)
	assert.Equal(t, "order.events.dlq", cfg.EventsDLQTopic)
	assert.Equal(t, 10*time.Second, cfg.SweepOrderTimeout)
	assert.False(t, cfg.SweepStrictSchema)
	assert.Equal(t, 48*time.Hour, cfg.ProposalTTL)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORTAL_JWT_SECRET", "secret")
	t.Setenv("PORTAL_STORE_DRIVER", "memory")
	t.Setenv("PORTAL_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PORTAL_SWEEP_STRICT_SCHEMA", "true")
	t.Setenv("PORTAL_RATE_LIMIT_WINDOW", "30s")
	t.Setenv("PORTAL_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
	assert.True(t, cfg.SweepStrictSchema)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, logrus.DebugLevel, cfg.NewLogger().GetLevel())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing_secret", map[string]string{}},
		{"unknown_driver", map[string]string{"PORTAL_JWT_SECRET": "s", "PORTAL_STORE_DRIVER": "mysql"}},
		{"zero_budget", map[string]string{"PORTAL_JWT_SECRET": "s", "PORTAL_RATE_LIMIT_REQUESTS": "0"}},
		{"bad_level", map[string]string{"PORTAL_JWT_SECRET": "s", "PORTAL_LOG_LEVEL": "loud"}},
		{"bad_duration", map[string]string{"PORTAL_JWT_SECRET": "s", "PORTAL_PROPOSAL_TTL": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PORTAL_JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
