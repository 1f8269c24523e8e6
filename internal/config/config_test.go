package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/proximity?parseTime=true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, 500*time.Millisecond, cfg.Redis.OpTimeout)
	assert.Equal(t, 5*time.Second, cfg.MySQL.QueryTimeout)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, time.Hour, cfg.Cache.BaseTTL)
	assert.Equal(t, 100, cfg.Cache.OptimizerSampleSize)
	assert.InDelta(t, 0.3, cfg.Cache.OptimizerHitRateFloor, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.Cache.OptimizerReducedTTL)
	assert.True(t, cfg.Cache.WarmingEnabled)
	assert.Equal(t, 10, cfg.Cache.WarmItemLimit)
	assert.InDelta(t, 5.0, cfg.Geo.DefaultRadiusKm, 1e-9)
	assert.Equal(t, 20, cfg.API.ListPageSize)
	assert.Equal(t, "neighbourhood", cfg.API.AggregateGroupField)
	assert.Equal(t, 100, cfg.Performance.RateLimitPerMinute)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MYSQL_DSN", "user:pass@tcp(db:3306)/listings?parseTime=true")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("CACHE_BASE_TTL", "10m")
	t.Setenv("CACHE_OPTIMIZER_SAMPLE_SIZE", "50")
	t.Setenv("DEFAULT_RADIUS_KM", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Cache.BaseTTL)
	assert.Equal(t, 50, cfg.Cache.OptimizerSampleSize)
	assert.InDelta(t, 2.5, cfg.Geo.DefaultRadiusKm, 1e-9)
}

func TestLoadRequiresMySQLDSN(t *testing.T) {
	t.Setenv("MYSQL_DSN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MYSQL_DSN")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server: ServerConfig{Port: "8080"},
			Redis:  RedisConfig{URL: "redis://localhost:6379"},
			MySQL:  MySQLConfig{DSN: "dsn"},
			Geo:    GeoConfig{DefaultRadiusKm: 5, MaxRadiusKm: 200},
			Cache: CacheConfig{
				BaseTTL:               time.Hour,
				OptimizerSampleSize:   100,
				OptimizerHitRateFloor: 0.3,
			},
			API:         APIConfig{ListPageSize: 20, AggregateGroupField: "neighbourhood"},
			Performance: PerformanceConfig{MaxBatchSize: 100, RateLimitPerMinute: 100},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("missing redis url", func(t *testing.T) {
		cfg := base()
		cfg.Redis.URL = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("default radius above max", func(t *testing.T) {
		cfg := base()
		cfg.Geo.DefaultRadiusKm = 500
		assert.Error(t, cfg.Validate())
	})

	t.Run("hit rate floor out of range", func(t *testing.T) {
		cfg := base()
		cfg.Cache.OptimizerHitRateFloor = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown aggregate group field", func(t *testing.T) {
		cfg := base()
		cfg.API.AggregateGroupField = "street"
		assert.Error(t, cfg.Validate())
	})

	t.Run("mqtt url required when enabled", func(t *testing.T) {
		cfg := base()
		cfg.MQTT.Enabled = true
		cfg.MQTT.URL = ""
		assert.Error(t, cfg.Validate())
	})
}
