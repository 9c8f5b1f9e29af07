package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reading one accepted telemetry sample
type Reading struct {
	MacAddress  string
	Temperature decimal.Decimal
	Humidity    decimal.Decimal
	RecordedAt  time.Time // assigned by the ingesting process
}

// ValueOf returns the observed value for a threshold parameter
func (r *Reading) ValueOf(parameter string) (decimal.Decimal, bool) {
	switch parameter {
	case ParameterTemperature:
		return r.Temperature, true
	case ParameterHumidity:
		return r.Humidity, true
	default:
		return decimal.Decimal{}, false
	}
}
