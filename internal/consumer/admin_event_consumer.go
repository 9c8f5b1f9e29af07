package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "github.com/overdrivethinker/NVROX/common/redis"
	"github.com/overdrivethinker/NVROX/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Admin event types
const (
	EventDeviceUpdated    = "device.updated"
	EventDeviceDeleted    = "device.deleted"
	EventThresholdUpdated = "threshold.updated"
	EventCacheFlush       = "cache.flush"
)

// defaultPendingRetry how often events left pending by a failed
// invalidation are re-read
const defaultPendingRetry = 30 * time.Second

var errInvalidEvent = errors.New("invalid admin event")

// CacheInvalidator cache surface touched by admin events
type CacheInvalidator interface {
	Invalidate(ctx context.Context, macAddress string) error
	InvalidateAll(ctx context.Context) error
}

// AdminEvent change notification published by the administration side
type AdminEvent struct {
	EventType  string `json:"event_type"`
	MacAddress string `json:"mac_address,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// AdminEventConsumer invalidates cache entries when devices or thresholds
// change, reading a Redis Stream through a consumer group.
type AdminEventConsumer struct {
	redisClient  *redis.Client
	devices      CacheInvalidator
	thresholds   CacheInvalidator
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
	block        time.Duration
	pendingRetry time.Duration
}

// NewAdminEventConsumer creates an admin event consumer
func NewAdminEventConsumer(
	redisClient *redis.Client,
	devices CacheInvalidator,
	thresholds CacheInvalidator,
	logger *zap.Logger,
	stream string,
	groupName string,
	consumerName string,
	batchSize int64,
	block time.Duration,
) *AdminEventConsumer {
	return &AdminEventConsumer{
		redisClient:  redisClient,
		devices:      devices,
		thresholds:   thresholds,
		logger:       logger,
		stream:       stream,
		groupName:    groupName,
		consumerName: consumerName,
		batchSize:    batchSize,
		block:        block,
		pendingRetry: defaultPendingRetry,
	}
}

// Start consumes admin events until ctx is done
func (c *AdminEventConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Admin event consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.groupName),
		zap.String("consumer_name", c.consumerName),
	)

	backoff := time.Second
	maxBackoff := 30 * time.Second
	lastRetry := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if time.Since(lastRetry) >= c.pendingRetry {
			lastRetry = time.Now()
			if err := c.retryPending(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("Failed to retry pending admin events", zap.Error(err))
			}
		}

		if err := c.consumeEvents(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume admin events",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		} else {
			backoff = time.Second
		}
	}
}

func (c *AdminEventConsumer) consumeEvents(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, c.stream, c.groupName, c.consumerName, c.batchSize, c.block)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	c.handleMessages(ctx, messages)
	return nil
}

// retryPending reprocesses events this consumer read earlier but could not apply
func (c *AdminEventConsumer) retryPending(ctx context.Context) error {
	messages, err := rediscommon.ReadPendingFromStream(ctx, c.redisClient, c.stream, c.groupName, c.consumerName, c.batchSize)
	if err != nil {
		return fmt.Errorf("failed to read pending events: %w", err)
	}
	if len(messages) > 0 {
		c.logger.Info("Retrying pending admin events", zap.Int("count", len(messages)))
	}

	c.handleMessages(ctx, messages)
	return nil
}

func (c *AdminEventConsumer) handleMessages(ctx context.Context, messages []rediscommon.StreamMessage) {
	for _, msg := range messages {
		err := c.processEvent(ctx, msg)
		switch {
		case err == nil:
		case errors.Is(err, errInvalidEvent):
			// unprocessable; ack so it does not linger in the pending list
			c.logger.Warn("Discarding invalid admin event", zap.String("message_id", msg.ID), zap.Error(err))
		default:
			c.logger.Error("Failed to process admin event", zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}

		if err := rediscommon.Ack(ctx, c.redisClient, c.stream, c.groupName, msg.ID); err != nil {
			c.logger.Warn("Failed to ack admin event", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
}

func (c *AdminEventConsumer) processEvent(ctx context.Context, msg rediscommon.StreamMessage) error {
	event, err := parseAdminEvent(msg)
	if err != nil {
		return err
	}

	c.logger.Info("Processing admin event",
		zap.String("event_type", event.EventType),
		zap.String("mac_address", event.MacAddress),
	)

	switch event.EventType {
	case EventDeviceUpdated, EventDeviceDeleted:
		if err := c.devices.Invalidate(ctx, event.MacAddress); err != nil {
			return err
		}
		return c.thresholds.Invalidate(ctx, event.MacAddress)

	case EventThresholdUpdated:
		return c.thresholds.Invalidate(ctx, event.MacAddress)

	case EventCacheFlush:
		if err := c.devices.InvalidateAll(ctx); err != nil {
			return err
		}
		return c.thresholds.InvalidateAll(ctx)

	default:
		c.logger.Warn("Unknown admin event type", zap.String("event_type", event.EventType))
		return nil
	}
}

// parseAdminEvent reads the event from the JSON "data" field, falling back
// to flat stream fields.
func parseAdminEvent(msg rediscommon.StreamMessage) (*AdminEvent, error) {
	var event AdminEvent
	if dataStr, ok := msg.Values["data"].(string); ok {
		if err := json.Unmarshal([]byte(dataStr), &event); err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidEvent, err)
		}
	} else {
		event.EventType, _ = msg.Values["event_type"].(string)
		event.MacAddress, _ = msg.Values["mac_address"].(string)
	}

	if event.EventType == "" {
		return nil, fmt.Errorf("%w: missing event_type", errInvalidEvent)
	}

	switch event.EventType {
	case EventDeviceUpdated, EventDeviceDeleted, EventThresholdUpdated:
		mac, ok := models.CanonicalMAC(event.MacAddress)
		if !ok {
			return nil, fmt.Errorf("%w: invalid mac_address %q", errInvalidEvent, event.MacAddress)
		}
		event.MacAddress = mac
	}

	return &event, nil
}
