package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/overdrivethinker/NVROX/common/database"
	mqttcommon "github.com/overdrivethinker/NVROX/common/mqtt"
	rediscommon "github.com/overdrivethinker/NVROX/common/redis"
	"github.com/overdrivethinker/NVROX/internal/broadcast"
	"github.com/overdrivethinker/NVROX/internal/cache"
	"github.com/overdrivethinker/NVROX/internal/config"
	"github.com/overdrivethinker/NVROX/internal/consumer"
	"github.com/overdrivethinker/NVROX/internal/ingest"
	"github.com/overdrivethinker/NVROX/internal/repository"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/go-co-op/gocron/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// IngestService telemetry ingestion service
type IngestService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	chConn      driver.Conn
	mqttClient  *mqttcommon.Client

	deviceCache    *cache.DeviceCache
	thresholdCache *cache.ThresholdCache
	hub            *broadcast.Hub
	pipeline       *ingest.Pipeline
	mqttConsumer   *consumer.MQTTConsumer
	adminConsumer  *consumer.AdminEventConsumer
	httpServer     *http.Server

	mqttConnected func() bool
}

// NewIngestService connects to every backing system and wires the pipeline
func NewIngestService(cfg *config.Config, logger *zap.Logger) (*IngestService, error) {
	s := &IngestService{config: cfg, logger: logger}
	if err := s.init(); err != nil {
		s.closeConnections()
		return nil, err
	}
	return s, nil
}

func (s *IngestService) init() error {
	cfg := s.config
	logger := s.logger

	// 1. Database (device registry, thresholds, alerts, default reading store)
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	// 2. Redis (cache backend, admin events, broadcast mirror)
	if cfg.Cache.Backend == "redis" || cfg.AdminEvents.Enabled || cfg.Broadcast.Stream != "" {
		s.redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(context.Background(), s.redisClient); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	// 3. Caches
	var kv cache.KVStore
	switch cfg.Cache.Backend {
	case "redis":
		kv = cache.NewRedisKVStore(s.redisClient)
	case "memory":
		kv = cache.NewMemoryKVStore()
	default:
		return fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
	s.deviceCache = cache.NewDeviceCache(kv, repository.NewDeviceRepository(db, logger), cfg.Cache.DevicePrefix, logger)
	s.thresholdCache = cache.NewThresholdCache(kv, repository.NewThresholdRepository(db, logger),
		cfg.Cache.ThresholdPrefix, cfg.Cache.ThresholdTTL, logger)

	// 4. Stores
	var readings ingest.ReadingStore
	switch cfg.Ingest.TelemetryStore {
	case "postgres":
		readings = repository.NewReadingRepository(db, logger)
	case "clickhouse":
		conn, err := repository.NewClickHouseConn(&cfg.ClickHouse)
		if err != nil {
			return err
		}
		s.chConn = conn
		chRepo := repository.NewClickHouseReadingRepository(conn, logger)
		if err := chRepo.InitSchema(context.Background()); err != nil {
			return err
		}
		readings = chRepo
	default:
		return fmt.Errorf("unsupported telemetry store: %s", cfg.Ingest.TelemetryStore)
	}
	alerts := repository.NewAlertRepository(db, logger)

	// 5. Broadcast
	s.hub = broadcast.NewHub(cfg.Broadcast.AllowedOrigins, cfg.Broadcast.ClientBuffer, logger)
	notifier := broadcast.MultiNotifier{s.hub}
	if cfg.Broadcast.Stream != "" {
		notifier = append(notifier, broadcast.NewStreamNotifier(s.redisClient, cfg.Broadcast.Stream, cfg.Broadcast.StreamMaxLen, logger))
	}

	s.pipeline = ingest.NewPipeline(cfg.Ingest.Topic, s.deviceCache, s.thresholdCache, readings, alerts, notifier, logger)

	// 6. MQTT; each process gets its own client id
	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = fmt.Sprintf("%s_%s", cfg.MQTT.ClientID, uuid.New().String())
	mqttClient, err := mqttcommon.NewClient(&mqttCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to mqtt: %w", err)
	}
	s.mqttClient = mqttClient
	s.mqttConnected = mqttClient.IsConnected
	s.mqttConsumer = consumer.NewMQTTConsumer(mqttClient, s.pipeline, cfg.Ingest.Topic, cfg.MQTT.QoS, cfg.Ingest.HandleTimeout, logger)

	if cfg.AdminEvents.Enabled {
		s.adminConsumer = consumer.NewAdminEventConsumer(
			s.redisClient,
			s.deviceCache,
			s.thresholdCache,
			logger,
			cfg.AdminEvents.Stream,
			cfg.AdminEvents.Group,
			cfg.AdminEvents.Consumer,
			cfg.AdminEvents.BatchSize,
			cfg.AdminEvents.Block,
		)
	}

	// 7. HTTP: viewer websocket + health
	s.httpServer = &http.Server{
		Addr:              cfg.Broadcast.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

func (s *IngestService) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Broadcast.Path, s.hub)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// HealthStatus body of GET /healthz
type HealthStatus struct {
	Status        string               `json:"status"`
	MQTTConnected bool                 `json:"mqtt_connected"`
	Viewers       int                  `json:"viewers"`
	Pipeline      ingest.StatsSnapshot `json:"pipeline"`
}

func (s *IngestService) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := HealthStatus{
		Status:   "ok",
		Viewers:  s.hub.ClientCount(),
		Pipeline: s.pipeline.Stats(),
	}
	if s.mqttConnected != nil {
		status.MQTTConnected = s.mqttConnected()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("Failed to write health response", zap.Error(err))
	}
}

func (s *IngestService) logStats() {
	p := s.pipeline.Stats()
	h := s.hub.Stats()
	s.logger.Info("Ingestion stats",
		zap.Uint64("received", p.Received),
		zap.Uint64("done", p.Done),
		zap.Uint64("rejected_topic", p.RejectedTopic),
		zap.Uint64("rejected_malformed", p.RejectedMalformed),
		zap.Uint64("rejected_unregistered", p.RejectedUnregistered),
		zap.Uint64("failed", p.Failed),
		zap.Uint64("readings", p.Readings),
		zap.Uint64("alerts", p.Alerts),
		zap.Uint64("broadcast_errors", p.BroadcastErrors),
		zap.Int("viewers", h.Clients),
		zap.Uint64("viewer_dropped", h.Dropped),
	)
}

// Start flushes the caches, then runs every component until ctx is done
// or one of them fails.
func (s *IngestService) Start(ctx context.Context) error {
	s.logger.Info("Starting ingest service",
		zap.String("topic", s.config.Ingest.Topic),
		zap.String("telemetry_store", s.config.Ingest.TelemetryStore),
		zap.String("cache_backend", s.config.Cache.Backend),
	)

	// caches may hold entries from a previous run
	if err := s.deviceCache.InvalidateAll(ctx); err != nil {
		return err
	}
	if err := s.thresholdCache.InvalidateAll(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.adminConsumer != nil {
		g.Go(func() error {
			return s.adminConsumer.Start(gctx)
		})
	}

	if s.config.Stats.Interval > 0 {
		g.Go(func() error {
			scheduler, err := gocron.NewScheduler()
			if err != nil {
				return err
			}
			_, err = scheduler.NewJob(
				gocron.DurationJob(s.config.Stats.Interval),
				gocron.NewTask(s.logStats),
			)
			if err != nil {
				return err
			}
			scheduler.Start()

			<-gctx.Done()
			return scheduler.Shutdown()
		})
	}

	g.Go(func() error {
		return s.mqttConsumer.Start(gctx)
	})

	return g.Wait()
}

// Stop drains in-flight messages, then releases every connection
func (s *IngestService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping ingest service")

	var errs []error

	// 1. Stop accepting and drain; stores must stay open until this returns
	if s.mqttConsumer != nil {
		if err := s.mqttConsumer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.hub != nil {
		s.hub.Close()
	}

	s.logStats()
	s.closeConnections()

	return errors.Join(errs...)
}

func (s *IngestService) closeConnections() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.chConn != nil {
		if err := s.chConn.Close(); err != nil {
			s.logger.Warn("Failed to close ClickHouse connection", zap.Error(err))
		}
	}
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Warn("Failed to close redis", zap.Error(err))
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Warn("Failed to close database", zap.Error(err))
		}
	}
}
