package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/overdrivethinker/NVROX/internal/models"

	"go.uber.org/zap"
)

// ThresholdRepository threshold registry lookups
type ThresholdRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewThresholdRepository creates a new threshold repository
func NewThresholdRepository(db *sql.DB, logger *zap.Logger) *ThresholdRepository {
	return &ThresholdRepository{
		db:     db,
		logger: logger,
	}
}

// FindThresholds returns the configured ranges for a device (0..2 rows)
func (r *ThresholdRepository) FindThresholds(ctx context.Context, macAddress string) ([]models.Threshold, error) {
	query := `
		SELECT parameter, lower_limit, upper_limit
		FROM sensor_thresholds
		WHERE mac_address = $1
		ORDER BY parameter
	`

	rows, err := r.db.QueryContext(ctx, query, macAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to query thresholds for %s: %w", macAddress, err)
	}
	defer rows.Close()

	thresholds := make([]models.Threshold, 0, 2)
	for rows.Next() {
		var t models.Threshold
		if err := rows.Scan(&t.Parameter, &t.LowerLimit, &t.UpperLimit); err != nil {
			return nil, fmt.Errorf("failed to scan threshold: %w", err)
		}
		thresholds = append(thresholds, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate thresholds: %w", err)
	}

	return thresholds, nil
}
