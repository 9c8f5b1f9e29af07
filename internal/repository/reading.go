package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/overdrivethinker/NVROX/internal/models"

	"go.uber.org/zap"
)

// ReadingRepository Postgres telemetry store
type ReadingRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReadingRepository creates a new reading repository
func NewReadingRepository(db *sql.DB, logger *zap.Logger) *ReadingRepository {
	return &ReadingRepository{
		db:     db,
		logger: logger,
	}
}

// Name identifies the store in logs
func (r *ReadingRepository) Name() string {
	return "postgres.sensor_readings"
}

// InsertReading appends one reading
func (r *ReadingRepository) InsertReading(ctx context.Context, reading *models.Reading) error {
	query := `
		INSERT INTO sensor_readings (mac_address, temperature, humidity, recorded_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query,
		reading.MacAddress,
		reading.Temperature,
		reading.Humidity,
		reading.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading for %s: %w", reading.MacAddress, err)
	}

	return nil
}
