package models

import "github.com/shopspring/decimal"

// Threshold parameters
const (
	ParameterTemperature = "Temperature"
	ParameterHumidity    = "Humidity"
)

// Default limits applied when a device is registered
var (
	DefaultTemperatureLower = decimal.RequireFromString("22.00")
	DefaultTemperatureUpper = decimal.RequireFromString("30.00")
	DefaultHumidityLower    = decimal.RequireFromString("40.00")
	DefaultHumidityUpper    = decimal.RequireFromString("50.00")
)

// Threshold inclusive acceptable range for one parameter of one device
type Threshold struct {
	Parameter  string          `json:"parameter"`
	LowerLimit decimal.Decimal `json:"lower_limit"`
	UpperLimit decimal.Decimal `json:"upper_limit"`
}

// DefaultThresholds returns the rows created alongside a new device
func DefaultThresholds() []Threshold {
	return []Threshold{
		{Parameter: ParameterTemperature, LowerLimit: DefaultTemperatureLower, UpperLimit: DefaultTemperatureUpper},
		{Parameter: ParameterHumidity, LowerLimit: DefaultHumidityLower, UpperLimit: DefaultHumidityUpper},
	}
}
