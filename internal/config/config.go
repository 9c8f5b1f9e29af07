package config

import (
	"os"
	"strings"
	"time"

	"github.com/overdrivethinker/NVROX/common/config"

	"github.com/joho/godotenv"
)

// Config ingestion service configuration
type Config struct {
	Database   config.DatabaseConfig
	Redis      config.RedisConfig
	MQTT       config.MQTTConfig
	ClickHouse config.ClickHouseConfig

	Ingest struct {
		Topic           string        // telemetry topic, wildcards allowed
		HandleTimeout   time.Duration // per-message deadline for lookups and writes
		ShutdownTimeout time.Duration // budget for draining in-flight messages
		TelemetryStore  string        // "postgres" or "clickhouse"
	}

	Cache struct {
		Backend         string // "redis" or "memory"
		DevicePrefix    string
		ThresholdPrefix string
		ThresholdTTL    time.Duration // 0 = no expiry
	}

	Broadcast struct {
		Addr           string
		Path           string
		AllowedOrigins []string // "*" allows any origin
		ClientBuffer   int
		Stream         string // Redis Stream mirror, empty disables
		StreamMaxLen   int64
	}

	AdminEvents struct {
		Enabled   bool
		Stream    string
		Group     string
		Consumer  string
		BatchSize int64
		Block     time.Duration
	}

	Stats struct {
		Interval time.Duration // 0 disables the periodic stats log
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from the environment, after loading .env if present
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "nvrox",
		SSLMode:  "disable",
		MaxConns: 20,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "backend_logger",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.ClickHouse = config.ClickHouseConfig{
		Addr:        "localhost:9000",
		Database:    "nvrox",
		Username:    "default",
		DialTimeout: 5 * time.Second,
	}
	cfg.ClickHouse.LoadFromEnv("CLICKHOUSE")

	cfg.Ingest.Topic = getEnv("MQTT_TOPIC", "sensor/data")
	cfg.Ingest.HandleTimeout = config.GetEnvDuration("INGEST_HANDLE_TIMEOUT", 10*time.Second)
	cfg.Ingest.ShutdownTimeout = config.GetEnvDuration("INGEST_SHUTDOWN_TIMEOUT", 15*time.Second)
	cfg.Ingest.TelemetryStore = strings.ToLower(getEnv("TELEMETRY_STORE", "postgres"))

	cfg.Cache.Backend = strings.ToLower(getEnv("CACHE_BACKEND", "redis"))
	cfg.Cache.DevicePrefix = getEnv("CACHE_DEVICE_PREFIX", "device:")
	cfg.Cache.ThresholdPrefix = getEnv("CACHE_THRESHOLD_PREFIX", "thresholds:")
	cfg.Cache.ThresholdTTL = config.GetEnvDuration("CACHE_THRESHOLD_TTL", 0)

	cfg.Broadcast.Addr = getEnv("BROADCAST_ADDR", ":3000")
	cfg.Broadcast.Path = getEnv("BROADCAST_PATH", "/ws")
	cfg.Broadcast.AllowedOrigins = splitList(getEnv("BROADCAST_ALLOWED_ORIGINS", "http://localhost:5173"))
	cfg.Broadcast.ClientBuffer = config.GetEnvInt("BROADCAST_CLIENT_BUFFER", 32)
	cfg.Broadcast.Stream = "sensor:data:stream"
	if v, ok := os.LookupEnv("BROADCAST_STREAM"); ok {
		cfg.Broadcast.Stream = strings.TrimSpace(v)
	}
	cfg.Broadcast.StreamMaxLen = int64(config.GetEnvInt("BROADCAST_STREAM_MAXLEN", 1000))

	cfg.AdminEvents.Enabled = config.GetEnvBool("ADMIN_EVENTS_ENABLED", true)
	cfg.AdminEvents.Stream = getEnv("ADMIN_EVENTS_STREAM", "nvrox:device-events")
	cfg.AdminEvents.Group = getEnv("ADMIN_EVENTS_GROUP", "nvrox-ingest-group")
	cfg.AdminEvents.Consumer = getEnv("ADMIN_EVENTS_CONSUMER", "nvrox-ingest-1")
	cfg.AdminEvents.BatchSize = int64(config.GetEnvInt("ADMIN_EVENTS_BATCH_SIZE", 10))
	cfg.AdminEvents.Block = config.GetEnvDuration("ADMIN_EVENTS_BLOCK", 5*time.Second)

	cfg.Stats.Interval = config.GetEnvDuration("STATS_INTERVAL", time.Minute)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	return config.GetEnv(key, defaultValue)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
