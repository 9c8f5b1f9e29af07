package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/overdrivethinker/NVROX/internal/models"

	"go.uber.org/zap"
)

// AlertRepository Postgres alert store
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

// Name identifies the store in logs
func (r *AlertRepository) Name() string {
	return "postgres.alerts"
}

// InsertAlerts writes alerts in a single statement. recorded_at is assigned
// by the database.
func (r *AlertRepository) InsertAlerts(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	const cols = 5
	placeholders := make([]string, 0, len(alerts))
	args := make([]interface{}, 0, len(alerts)*cols)
	for i, a := range alerts {
		base := i * cols
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, NOW())",
			base+1, base+2, base+3, base+4, base+5))
		args = append(args, a.MacAddress, a.Parameter, a.Value, a.Threshold, a.Status)
	}

	query := `INSERT INTO alerts (mac_address, parameter, value, threshold, status, recorded_at) VALUES ` +
		strings.Join(placeholders, ", ")

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert %d alerts for %s: %w", len(alerts), alerts[0].MacAddress, err)
	}

	r.logger.Debug("Alerts inserted",
		zap.String("mac_address", alerts[0].MacAddress),
		zap.Int("count", len(alerts)),
	)

	return nil
}
