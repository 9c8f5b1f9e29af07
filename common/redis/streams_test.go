package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPublishJSONToStream_ReadBack(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "sensor:data:stream", "readers"))

	id, err := PublishJSONToStream(ctx, client, "sensor:data:stream", 0, map[string]string{"mac_address": "AA:BB:CC:DD:EE:01"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := ReadFromStream(ctx, client, "sensor:data:stream", "readers", "reader-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &decoded))
	assert.Equal(t, "AA:BB:CC:DD:EE:01", decoded["mac_address"])

	require.NoError(t, Ack(ctx, client, "sensor:data:stream", "readers", id))
}

func TestCreateConsumerGroup_Idempotent(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "nvrox:device-events", "g"))
	require.NoError(t, CreateConsumerGroup(ctx, client, "nvrox:device-events", "g"))
}

func TestPublishToStream_ValueEncoding(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	_, err := PublishToStream(ctx, client, "s", 0, map[string]interface{}{
		"i":  42,
		"f":  1.5,
		"b":  true,
		"by": []byte("raw"),
	})
	require.NoError(t, err)

	entries, err := client.XRange(ctx, "s", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "42", entries[0].Values["i"])
	assert.Equal(t, "1.5", entries[0].Values["f"])
	assert.Equal(t, "true", entries[0].Values["b"])
	assert.Equal(t, "raw", entries[0].Values["by"])
}

func TestReadFromStream_EmptyTimesOut(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "quiet", "g"))

	msgs, err := ReadFromStream(ctx, client, "quiet", "g", "c", 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReadPendingFromStream(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "nvrox:device-events", "g"))
	id, err := PublishJSONToStream(ctx, client, "nvrox:device-events", 0, map[string]string{"event_type": "cache.flush"})
	require.NoError(t, err)

	msgs, err := ReadFromStream(ctx, client, "nvrox:device-events", "g", "c-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// delivered but unacked
	pending, err := ReadPendingFromStream(ctx, client, "nvrox:device-events", "g", "c-1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	require.NoError(t, Ack(ctx, client, "nvrox:device-events", "g", id))
	pending, err = ReadPendingFromStream(ctx, client, "nvrox:device-events", "g", "c-1", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
