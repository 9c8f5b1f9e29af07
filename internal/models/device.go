package models

import (
	"regexp"
	"strings"
)

// Device status values
const (
	DeviceStatusActive   = "Active"
	DeviceStatusInactive = "Inactive"
)

// Device registration record, keyed by hardware (MAC) address
type Device struct {
	MacAddress string `json:"mac_address"`
	DeviceName string `json:"device_name"`
	Location   string `json:"location"`
	Status     string `json:"status"`
}

// IsActive reports whether the device may ingest telemetry
func (d *Device) IsActive() bool {
	return d != nil && d.Status == DeviceStatusActive
}

var macPattern = regexp.MustCompile(`^([0-9A-F]{2}:){5}[0-9A-F]{2}$`)

// CanonicalMAC trims and upper-cases addr and reports whether the result is
// in XX:XX:XX:XX:XX:XX form.
func CanonicalMAC(addr string) (string, bool) {
	mac := strings.ToUpper(strings.TrimSpace(addr))
	return mac, macPattern.MatchString(mac)
}
