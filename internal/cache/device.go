package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/overdrivethinker/NVROX/internal/models"

	"go.uber.org/zap"
)

// DeviceRegistry source of truth for device lookups
type DeviceRegistry interface {
	FindActiveDevice(ctx context.Context, macAddress string) (*models.Device, error)
}

// DeviceCache read-through cache of Active devices keyed by MAC address.
// Positive results are stored without TTL; absent devices are never cached
// so a newly registered device is picked up on its next message.
type DeviceCache struct {
	kv       KVStore
	registry DeviceRegistry
	prefix   string
	logger   *zap.Logger
	loader   loader
}

// NewDeviceCache creates a device cache
func NewDeviceCache(kv KVStore, registry DeviceRegistry, prefix string, logger *zap.Logger) *DeviceCache {
	return &DeviceCache{
		kv:       kv,
		registry: registry,
		prefix:   prefix,
		logger:   logger,
	}
}

func (c *DeviceCache) key(macAddress string) string {
	return c.prefix + macAddress
}

// Resolve returns the Active device for macAddress, or nil if none is registered
func (c *DeviceCache) Resolve(ctx context.Context, macAddress string) (*models.Device, error) {
	key := c.key(macAddress)

	// 1. Cache
	raw, err := c.kv.Get(ctx, key)
	switch {
	case err == nil:
		var device models.Device
		if jsonErr := json.Unmarshal([]byte(raw), &device); jsonErr == nil {
			return &device, nil
		}
		c.logger.Warn("Discarding corrupt device cache entry", zap.String("key", key))
		if delErr := c.kv.Delete(ctx, key); delErr != nil {
			c.logger.Warn("Failed to delete corrupt device cache entry", zap.String("key", key), zap.Error(delErr))
		}
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn("Device cache read failed, falling back to registry",
			zap.String("mac_address", macAddress),
			zap.Error(err),
		)
	}

	// 2. Registry; concurrent misses for the same device share one query
	v, err := c.loader.load(ctx, key, func(ctx context.Context, gen uint64) (interface{}, error) {
		device, err := c.registry.FindActiveDevice(ctx, macAddress)
		if err != nil {
			return nil, err
		}
		if device == nil {
			return nil, nil
		}

		data, err := json.Marshal(device)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal device: %w", err)
		}
		stored := c.loader.store(gen, func() {
			if err := c.kv.Set(ctx, key, string(data), 0); err != nil {
				c.logger.Warn("Failed to cache device", zap.String("mac_address", macAddress), zap.Error(err))
			}
		})
		if !stored {
			c.logger.Debug("Device invalidated during lookup, not caching", zap.String("mac_address", macAddress))
		}
		return device, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device %s: %w", macAddress, err)
	}
	if v == nil {
		return nil, nil
	}

	device := *v.(*models.Device)
	return &device, nil
}

// Invalidate drops the cached entry for one device
func (c *DeviceCache) Invalidate(ctx context.Context, macAddress string) error {
	c.loader.invalidate(c.key(macAddress))
	if err := c.kv.Delete(ctx, c.key(macAddress)); err != nil {
		return fmt.Errorf("failed to invalidate device %s: %w", macAddress, err)
	}
	return nil
}

// InvalidateAll drops every cached device
func (c *DeviceCache) InvalidateAll(ctx context.Context) error {
	c.loader.invalidate()
	n, err := c.kv.DeletePrefix(ctx, c.prefix)
	if err != nil {
		return fmt.Errorf("failed to flush device cache: %w", err)
	}
	c.logger.Info("Device cache flushed", zap.Int("removed", n))
	return nil
}
