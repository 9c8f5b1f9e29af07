package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Alert direction
const (
	AlertStatusExceed = "Exceed" // above upper limit
	AlertStatusDeceed = "Deceed" // below lower limit
)

// Alert one threshold violation
type Alert struct {
	MacAddress string
	Parameter  string
	Value      decimal.Decimal
	Threshold  decimal.Decimal // the crossed boundary
	Status     string
	RecordedAt time.Time // zero until read back; the store assigns it on insert
}
