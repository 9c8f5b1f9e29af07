package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/overdrivethinker/NVROX/internal/models"

	"go.uber.org/zap"
)

// DeviceRepository device registry lookups
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

// FindActiveDevice returns the Active device registered under macAddress.
// Returns (nil, nil) when no such device exists or it is not Active.
func (r *DeviceRepository) FindActiveDevice(ctx context.Context, macAddress string) (*models.Device, error) {
	query := `
		SELECT mac_address, device_name, location, status
		FROM devices
		WHERE mac_address = $1 AND status = $2
		LIMIT 1
	`

	var device models.Device
	var location sql.NullString
	err := r.db.QueryRowContext(ctx, query, macAddress, models.DeviceStatusActive).Scan(
		&device.MacAddress,
		&device.DeviceName,
		&location,
		&device.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device %s: %w", macAddress, err)
	}
	device.Location = location.String

	return &device, nil
}
