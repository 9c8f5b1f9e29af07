package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "nvrox", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 20, cfg.Database.MaxConns)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "backend_logger", cfg.MQTT.ClientID)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.False(t, cfg.MQTT.OrderMatters)

	assert.Equal(t, "sensor/data", cfg.Ingest.Topic)
	assert.Equal(t, 10*time.Second, cfg.Ingest.HandleTimeout)
	assert.Equal(t, 15*time.Second, cfg.Ingest.ShutdownTimeout)
	assert.Equal(t, "postgres", cfg.Ingest.TelemetryStore)

	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "device:", cfg.Cache.DevicePrefix)
	assert.Equal(t, "thresholds:", cfg.Cache.ThresholdPrefix)
	assert.Zero(t, cfg.Cache.ThresholdTTL)

	assert.Equal(t, ":3000", cfg.Broadcast.Addr)
	assert.Equal(t, "/ws", cfg.Broadcast.Path)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Broadcast.AllowedOrigins)
	assert.Equal(t, 32, cfg.Broadcast.ClientBuffer)
	assert.Equal(t, "sensor:data:stream", cfg.Broadcast.Stream)
	assert.Equal(t, int64(1000), cfg.Broadcast.StreamMaxLen)

	assert.True(t, cfg.AdminEvents.Enabled)
	assert.Equal(t, "nvrox:device-events", cfg.AdminEvents.Stream)
	assert.Equal(t, "nvrox-ingest-group", cfg.AdminEvents.Group)

	assert.Equal(t, time.Minute, cfg.Stats.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DB_HOST", "pg")
	t.Setenv("DB_NAME", "telemetry")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("MQTT_TOPIC", "sensor/+/data")
	t.Setenv("MQTT_ORDER_MATTERS", "true")
	t.Setenv("CACHE_BACKEND", "MEMORY")
	t.Setenv("CACHE_THRESHOLD_TTL", "30s")
	t.Setenv("TELEMETRY_STORE", "clickhouse")
	t.Setenv("BROADCAST_ALLOWED_ORIGINS", "http://a.local, http://b.local ,")
	t.Setenv("BROADCAST_STREAM", "")
	t.Setenv("ADMIN_EVENTS_ENABLED", "false")
	t.Setenv("STATS_INTERVAL", "0")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pg", cfg.Database.Host)
	assert.Equal(t, "telemetry", cfg.Database.Database)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, "sensor/+/data", cfg.Ingest.Topic)
	assert.True(t, cfg.MQTT.OrderMatters)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Second, cfg.Cache.ThresholdTTL)
	assert.Equal(t, "clickhouse", cfg.Ingest.TelemetryStore)
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.Broadcast.AllowedOrigins)
	assert.Empty(t, cfg.Broadcast.Stream)
	assert.False(t, cfg.AdminEvents.Enabled)
	assert.Zero(t, cfg.Stats.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
}
