package evaluator

import (
	"github.com/overdrivethinker/NVROX/internal/models"

	"github.com/shopspring/decimal"
)

// Evaluate compares reading against each threshold and returns one alert per
// violated range. Limits are inclusive: a value equal to a limit is compliant.
// Thresholds for parameters the reading does not carry are skipped.
func Evaluate(reading *models.Reading, thresholds []models.Threshold) []models.Alert {
	var alerts []models.Alert

	for _, t := range thresholds {
		value, ok := reading.ValueOf(t.Parameter)
		if !ok {
			continue
		}

		switch {
		case value.LessThan(t.LowerLimit):
			alerts = append(alerts, newAlert(reading.MacAddress, t.Parameter, value, t.LowerLimit, models.AlertStatusDeceed))
		case value.GreaterThan(t.UpperLimit):
			alerts = append(alerts, newAlert(reading.MacAddress, t.Parameter, value, t.UpperLimit, models.AlertStatusExceed))
		}
	}

	return alerts
}

func newAlert(macAddress, parameter string, value, boundary decimal.Decimal, status string) models.Alert {
	return models.Alert{
		MacAddress: macAddress,
		Parameter:  parameter,
		Value:      value,
		Threshold:  boundary,
		Status:     status,
	}
}
