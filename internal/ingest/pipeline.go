package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/overdrivethinker/NVROX/common/mqtt"
	"github.com/overdrivethinker/NVROX/internal/broadcast"
	"github.com/overdrivethinker/NVROX/internal/evaluator"
	"github.com/overdrivethinker/NVROX/internal/models"

	"go.uber.org/zap"
)

// DeviceResolver resolves a MAC address to an Active device (nil if none)
type DeviceResolver interface {
	Resolve(ctx context.Context, macAddress string) (*models.Device, error)
}

// ThresholdResolver resolves the threshold list of a device
type ThresholdResolver interface {
	Resolve(ctx context.Context, macAddress string) ([]models.Threshold, error)
}

// ReadingStore append-only reading persistence
type ReadingStore interface {
	InsertReading(ctx context.Context, reading *models.Reading) error
	Name() string
}

// AlertStore append-only alert persistence
type AlertStore interface {
	InsertAlerts(ctx context.Context, alerts []models.Alert) error
	Name() string
}

// Pipeline handles telemetry messages. Handle is safe for concurrent use;
// the only shared state is in the collaborators.
type Pipeline struct {
	topic      string
	devices    DeviceResolver
	thresholds ThresholdResolver
	readings   ReadingStore
	alerts     AlertStore
	notifier   broadcast.Notifier
	logger     *zap.Logger
	stats      Stats

	// Clock assigns reading timestamps
	Clock func() time.Time
}

// NewPipeline creates a pipeline accepting messages on topic (wildcards allowed)
func NewPipeline(
	topic string,
	devices DeviceResolver,
	thresholds ThresholdResolver,
	readings ReadingStore,
	alerts AlertStore,
	notifier broadcast.Notifier,
	logger *zap.Logger,
) *Pipeline {
	if notifier == nil {
		notifier = broadcast.NopNotifier{}
	}
	return &Pipeline{
		topic:      topic,
		devices:    devices,
		thresholds: thresholds,
		readings:   readings,
		alerts:     alerts,
		notifier:   notifier,
		logger:     logger,
		Clock:      time.Now,
	}
}

// Stats returns a snapshot of the pipeline counters
func (p *Pipeline) Stats() StatsSnapshot {
	return p.stats.Snapshot()
}

// Handle runs one message through the pipeline. It never returns an error:
// every path ends in a terminal Outcome, which is logged and counted.
func (p *Pipeline) Handle(ctx context.Context, topic string, payload []byte) Outcome {
	p.stats.received.Add(1)
	out := p.handle(ctx, topic, payload)
	p.stats.record(out)
	return out
}

func (p *Pipeline) handle(ctx context.Context, topic string, payload []byte) Outcome {
	// 1. Topic filter
	if !mqtt.TopicMatches(p.topic, topic) {
		p.logger.Debug("Ignoring message on unexpected topic", zap.String("topic", topic))
		return reject(StateReceived, ReasonTopicMismatch, nil)
	}

	// 2. Parse
	reading, err := p.parse(payload)
	if err != nil {
		p.logger.Warn("Dropping malformed telemetry",
			zap.String("topic", topic),
			zap.Int("payload_size", len(payload)),
			zap.Error(err),
		)
		return reject(StateReceived, ReasonMalformed, err)
	}
	mac := reading.MacAddress

	// 3. Identify
	device, err := p.devices.Resolve(ctx, mac)
	if err != nil {
		p.logger.Error("Device lookup failed",
			zap.String("mac_address", mac),
			zap.String("store", "devices"),
			zap.Error(err),
		)
		return fail(StateParsed, StageResolveDevice, reading, err)
	}
	if device == nil {
		p.logger.Warn("Telemetry ignored: not registered or inactive", zap.String("mac_address", mac))
		return reject(StateParsed, ReasonUnregistered, fmt.Errorf("%w: %s", ErrDeviceNotFound, mac))
	}

	// 4. Persist reading
	reading.RecordedAt = p.Clock()
	if err := p.readings.InsertReading(ctx, reading); err != nil {
		p.logger.Error("Failed to persist reading",
			zap.String("mac_address", mac),
			zap.String("store", p.readings.Name()),
			zap.Error(err),
		)
		return fail(StateIdentified, StagePersistReading, reading, err)
	}
	p.stats.readings.Add(1)

	// 5. Broadcast
	if err := p.notifier.Publish(ctx, models.EventSensorData, models.NewSensorDataEvent(reading, device)); err != nil {
		p.stats.broadcastErrors.Add(1)
		p.logger.Warn("Broadcast failed", zap.String("mac_address", mac), zap.Error(err))
	} else {
		p.stats.broadcasts.Add(1)
	}

	// 6. Evaluate
	thresholds, err := p.thresholds.Resolve(ctx, mac)
	if err != nil {
		p.logger.Error("Threshold lookup failed",
			zap.String("mac_address", mac),
			zap.String("store", "sensor_thresholds"),
			zap.Error(err),
		)
		return fail(StatePersisted, StageResolveThresholds, reading, err)
	}
	alerts := evaluator.Evaluate(reading, thresholds)
	if len(alerts) == 0 {
		return Outcome{State: StateDone, LastState: StateEvaluated, Reading: reading}
	}

	// 7. Persist alerts
	if err := p.alerts.InsertAlerts(ctx, alerts); err != nil {
		p.logger.Error("Failed to persist alerts",
			zap.String("mac_address", mac),
			zap.String("store", p.alerts.Name()),
			zap.Int("count", len(alerts)),
			zap.Error(err),
		)
		out := fail(StateEvaluated, StagePersistAlerts, reading, err)
		out.Alerts = alerts
		return out
	}
	p.stats.alerts.Add(uint64(len(alerts)))

	for _, a := range alerts {
		p.logger.Info("Threshold alert",
			zap.String("mac_address", mac),
			zap.String("parameter", a.Parameter),
			zap.String("value", a.Value.String()),
			zap.String("threshold", a.Threshold.String()),
			zap.String("status", a.Status),
		)
	}

	return Outcome{State: StateDone, LastState: StateEvaluated, Reading: reading, Alerts: alerts}
}

func (p *Pipeline) parse(payload []byte) (*models.Reading, error) {
	var msg models.TelemetryPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if msg.MacAddress == "" {
		return nil, fmt.Errorf("%w: missing mac_address", ErrMalformedPayload)
	}
	mac, ok := models.CanonicalMAC(msg.MacAddress)
	if !ok {
		return nil, fmt.Errorf("%w: invalid mac_address %q", ErrMalformedPayload, msg.MacAddress)
	}
	if !msg.Temp.Valid {
		return nil, fmt.Errorf("%w: missing temp", ErrMalformedPayload)
	}
	if !msg.Humid.Valid {
		return nil, fmt.Errorf("%w: missing humid", ErrMalformedPayload)
	}

	return &models.Reading{
		MacAddress:  mac,
		Temperature: msg.Temp.Decimal,
		Humidity:    msg.Humid.Decimal,
	}, nil
}

func reject(last State, reason string, err error) Outcome {
	return Outcome{State: StateRejected, LastState: last, Reason: reason, Err: err}
}

func fail(last State, stage string, reading *models.Reading, err error) Outcome {
	return Outcome{State: StateFailed, LastState: last, Reason: stage, Reading: reading, Err: err}
}
