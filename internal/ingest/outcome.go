package ingest

import (
	"errors"

	"github.com/overdrivethinker/NVROX/internal/models"
)

var (
	// ErrMalformedPayload payload is not valid telemetry
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrDeviceNotFound device is not registered or not Active
	ErrDeviceNotFound = errors.New("device not registered or inactive")
)

// State pipeline progress of one message
type State string

const (
	StateReceived   State = "RECEIVED"
	StateParsed     State = "PARSED"
	StateIdentified State = "IDENTIFIED"
	StatePersisted  State = "PERSISTED"
	StateEvaluated  State = "EVALUATED"

	// terminal
	StateDone     State = "DONE"
	StateRejected State = "REJECTED"
	StateFailed   State = "FAILED"
)

// Reject reasons
const (
	ReasonTopicMismatch = "topic_mismatch"
	ReasonMalformed     = "malformed"
	ReasonUnregistered  = "unregistered"
)

// Failure stages
const (
	StageResolveDevice     = "resolve_device"
	StagePersistReading    = "persist_reading"
	StageResolveThresholds = "resolve_thresholds"
	StagePersistAlerts     = "persist_alerts"
)

// Outcome result of handling one message. State is always terminal;
// LastState is the furthest non-terminal state reached.
type Outcome struct {
	State     State
	LastState State
	Reason    string // reject reason or failure stage
	Reading   *models.Reading
	Alerts    []models.Alert
	Err       error
}

// Terminal reports whether s ends processing
func (s State) Terminal() bool {
	return s == StateDone || s == StateRejected || s == StateFailed
}

// ReadingPersisted reports whether the message produced a stored reading
func (o Outcome) ReadingPersisted() bool {
	return o.LastState == StatePersisted || o.LastState == StateEvaluated
}
