package broadcast

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/overdrivethinker/NVROX/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamNotifier mirrors live events onto a capped Redis Stream
type StreamNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewStreamNotifier creates a stream notifier
func NewStreamNotifier(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamNotifier {
	return &StreamNotifier{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

func (s *StreamNotifier) Publish(ctx context.Context, event string, payload interface{}) error {
	id, err := redisclient.PublishToStream(ctx, s.client, s.stream, s.maxLen, map[string]interface{}{
		"event":     event,
		"data":      payload,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to append %s event to stream %s: %w", event, s.stream, err)
	}

	s.logger.Debug("Event mirrored to stream",
		zap.String("stream", s.stream),
		zap.String("event", event),
		zap.String("message_id", id),
	)
	return nil
}
