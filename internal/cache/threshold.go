package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/overdrivethinker/NVROX/internal/models"

	"go.uber.org/zap"
)

// ThresholdRegistry source of truth for threshold lookups
type ThresholdRegistry interface {
	FindThresholds(ctx context.Context, macAddress string) ([]models.Threshold, error)
}

// ThresholdCache read-through cache of per-device threshold lists.
// Empty lists are cached too.
type ThresholdCache struct {
	kv       KVStore
	registry ThresholdRegistry
	prefix   string
	ttl      time.Duration // 0 = no expiry
	logger   *zap.Logger
	loader   loader
}

// NewThresholdCache creates a threshold cache
func NewThresholdCache(kv KVStore, registry ThresholdRegistry, prefix string, ttl time.Duration, logger *zap.Logger) *ThresholdCache {
	return &ThresholdCache{
		kv:       kv,
		registry: registry,
		prefix:   prefix,
		ttl:      ttl,
		logger:   logger,
	}
}

func (c *ThresholdCache) key(macAddress string) string {
	return c.prefix + macAddress
}

// Resolve returns the thresholds configured for macAddress (possibly none)
func (c *ThresholdCache) Resolve(ctx context.Context, macAddress string) ([]models.Threshold, error) {
	key := c.key(macAddress)

	raw, err := c.kv.Get(ctx, key)
	switch {
	case err == nil:
		var thresholds []models.Threshold
		if jsonErr := json.Unmarshal([]byte(raw), &thresholds); jsonErr == nil {
			return thresholds, nil
		}
		c.logger.Warn("Discarding corrupt threshold cache entry", zap.String("key", key))
		if delErr := c.kv.Delete(ctx, key); delErr != nil {
			c.logger.Warn("Failed to delete corrupt threshold cache entry", zap.String("key", key), zap.Error(delErr))
		}
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn("Threshold cache read failed, falling back to registry",
			zap.String("mac_address", macAddress),
			zap.Error(err),
		)
	}

	v, err := c.loader.load(ctx, key, func(ctx context.Context, gen uint64) (interface{}, error) {
		thresholds, err := c.registry.FindThresholds(ctx, macAddress)
		if err != nil {
			return nil, err
		}
		if thresholds == nil {
			thresholds = []models.Threshold{}
		}

		data, err := json.Marshal(thresholds)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal thresholds: %w", err)
		}
		c.loader.store(gen, func() {
			if err := c.kv.Set(ctx, key, string(data), c.ttl); err != nil {
				c.logger.Warn("Failed to cache thresholds", zap.String("mac_address", macAddress), zap.Error(err))
			}
		})
		return thresholds, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve thresholds for %s: %w", macAddress, err)
	}

	shared := v.([]models.Threshold)
	out := make([]models.Threshold, len(shared))
	copy(out, shared)
	return out, nil
}

// Invalidate drops the cached thresholds for one device
func (c *ThresholdCache) Invalidate(ctx context.Context, macAddress string) error {
	c.loader.invalidate(c.key(macAddress))
	if err := c.kv.Delete(ctx, c.key(macAddress)); err != nil {
		return fmt.Errorf("failed to invalidate thresholds for %s: %w", macAddress, err)
	}
	return nil
}

// InvalidateAll drops every cached threshold list
func (c *ThresholdCache) InvalidateAll(ctx context.Context) error {
	c.loader.invalidate()
	n, err := c.kv.DeletePrefix(ctx, c.prefix)
	if err != nil {
		return fmt.Errorf("failed to flush threshold cache: %w", err)
	}
	c.logger.Info("Threshold cache flushed", zap.Int("removed", n))
	return nil
}
