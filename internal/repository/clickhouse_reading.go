package repository

import (
	"context"
	"fmt"

	"github.com/overdrivethinker/NVROX/common/config"
	"github.com/overdrivethinker/NVROX/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const clickhouseReadingsTable = `
	CREATE TABLE IF NOT EXISTS sensor_readings (
		recorded_at DateTime64(3),
		mac_address String,
		temperature Decimal(10, 2),
		humidity    Decimal(10, 2)
	) ENGINE = MergeTree()
	ORDER BY (mac_address, recorded_at)
`

// execer is the subset of driver.Conn the reading store needs
type execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// NewClickHouseConn opens and pings a ClickHouse connection
func NewClickHouseConn(cfg *config.ClickHouseConfig) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: cfg.DialTimeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return conn, nil
}

// ClickHouseReadingRepository ClickHouse telemetry store
type ClickHouseReadingRepository struct {
	conn   execer
	logger *zap.Logger
}

// NewClickHouseReadingRepository creates a new ClickHouse reading repository
func NewClickHouseReadingRepository(conn execer, logger *zap.Logger) *ClickHouseReadingRepository {
	return &ClickHouseReadingRepository{
		conn:   conn,
		logger: logger,
	}
}

// Name identifies the store in logs
func (r *ClickHouseReadingRepository) Name() string {
	return "clickhouse.sensor_readings"
}

// InitSchema creates the readings table if it does not exist
func (r *ClickHouseReadingRepository) InitSchema(ctx context.Context) error {
	if err := r.conn.Exec(ctx, clickhouseReadingsTable); err != nil {
		return fmt.Errorf("failed to create sensor_readings table: %w", err)
	}
	r.logger.Info("ClickHouse schema initialized")
	return nil
}

// InsertReading appends one reading
func (r *ClickHouseReadingRepository) InsertReading(ctx context.Context, reading *models.Reading) error {
	query := `
		INSERT INTO sensor_readings (recorded_at, mac_address, temperature, humidity)
		VALUES (?, ?, ?, ?)
	`

	err := r.conn.Exec(ctx, query,
		reading.RecordedAt,
		reading.MacAddress,
		reading.Temperature,
		reading.Humidity,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading for %s: %w", reading.MacAddress, err)
	}

	return nil
}
