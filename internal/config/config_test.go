package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "SQLite")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, int64(5000), cfg.Payroll.BaseRatePerDelivery)
	assert.Equal(t, 300*time.Minute, cfg.Payroll.MaxHandling)
	assert.True(t, cfg.Payroll.LegacyAgentMatching)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BASE_RATE_PER_DELIVERY", "6500")
	t.Setenv("MAX_HANDLING", "4h")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PLATFORM_TIMEZONE", "UTC")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(6500), cfg.Payroll.BaseRatePerDelivery)
	assert.Equal(t, 4*time.Hour, cfg.Payroll.MaxHandling)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	loc, err := cfg.Payroll.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	t.Setenv("STORE_DRIVER", "cassandra")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("MAX_HANDLING", "0s")
	_, err = Load()
	assert.Error(t, err)
}
