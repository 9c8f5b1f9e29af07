package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EventSensorData live event name for accepted readings
const EventSensorData = "sensor_data"

// RecordedAtLayout ISO-8601 UTC with millisecond precision
const RecordedAtLayout = "2006-01-02T15:04:05.000Z07:00"

// TelemetryPayload inbound message body. Values may arrive as JSON numbers
// or numeric strings; a missing or null value leaves Valid false.
type TelemetryPayload struct {
	MacAddress string              `json:"mac_address"`
	Temp       decimal.NullDecimal `json:"temp"`
	Humid      decimal.NullDecimal `json:"humid"`
}

// SensorDataEvent payload broadcast to live viewers
type SensorDataEvent struct {
	MacAddress  string      `json:"mac_address"`
	Temperature json.Number `json:"temperature"`
	Humidity    json.Number `json:"humidity"`
	RecordedAt  string      `json:"recorded_at"`
	DeviceName  string      `json:"device_name"`
	Location    string      `json:"location"`
}

// NewSensorDataEvent builds the live event for an accepted reading
func NewSensorDataEvent(r *Reading, d *Device) SensorDataEvent {
	ev := SensorDataEvent{
		MacAddress:  r.MacAddress,
		Temperature: json.Number(r.Temperature.String()),
		Humidity:    json.Number(r.Humidity.String()),
		RecordedAt:  FormatRecordedAt(r.RecordedAt),
	}
	if d != nil {
		ev.DeviceName = d.DeviceName
		ev.Location = d.Location
	}
	return ev
}

// FormatRecordedAt renders t the way live events carry it
func FormatRecordedAt(t time.Time) string {
	return t.UTC().Format(RecordedAtLayout)
}
