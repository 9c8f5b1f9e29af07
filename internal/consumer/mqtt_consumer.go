package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqttcommon "github.com/overdrivethinker/NVROX/common/mqtt"
	"github.com/overdrivethinker/NVROX/internal/ingest"

	"go.uber.org/zap"
)

// Subscriber MQTT subscription surface (satisfied by *mqttcommon.Client)
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MessageHandler processes one telemetry message
type MessageHandler interface {
	Handle(ctx context.Context, topic string, payload []byte) ingest.Outcome
}

// MQTTConsumer feeds telemetry messages into the pipeline. Messages are
// handled on the transport's callback goroutines, so concurrency follows
// the client's dispatch mode.
type MQTTConsumer struct {
	subscriber    Subscriber
	handler       MessageHandler
	topic         string
	qos           byte
	handleTimeout time.Duration
	logger        *zap.Logger

	mu       sync.RWMutex
	baseCtx  context.Context
	closed   bool
	inflight sync.WaitGroup
}

// NewMQTTConsumer creates an MQTT consumer
func NewMQTTConsumer(
	subscriber Subscriber,
	handler MessageHandler,
	topic string,
	qos byte,
	handleTimeout time.Duration,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		subscriber:    subscriber,
		handler:       handler,
		topic:         topic,
		qos:           qos,
		handleTimeout: handleTimeout,
		logger:        logger,
		baseCtx:       context.Background(),
	}
}

// Start subscribes to the telemetry topic and blocks until ctx is done
func (c *MQTTConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	// handlers outlive cancellation of ctx; Stop bounds the drain
	c.baseCtx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	if err := c.subscriber.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.topic),
		zap.Uint8("qos", c.qos),
	)

	<-ctx.Done()
	return nil
}

// Stop stops accepting messages, unsubscribes and waits for in-flight
// handlers until ctx expires.
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.String("topic", c.topic), zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("MQTT consumer stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("MQTT consumer stopped before in-flight messages finished", zap.Error(ctx.Err()))
		return fmt.Errorf("drain in-flight messages: %w", ctx.Err())
	}
}

// handleMessage runs on the MQTT callback goroutine
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		c.logger.Debug("Dropping message received after stop", zap.String("topic", topic))
		return nil
	}
	c.inflight.Add(1)
	base := c.baseCtx
	c.mu.RUnlock()
	defer c.inflight.Done()

	ctx := base
	if c.handleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(base, c.handleTimeout)
		defer cancel()
	}

	out := c.handler.Handle(ctx, topic, payload)

	c.logger.Debug("Message handled",
		zap.String("topic", topic),
		zap.String("state", string(out.State)),
		zap.String("last_state", string(out.LastState)),
		zap.String("reason", out.Reason),
	)
	return nil
}
