package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/overdrivethinker/NVROX/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDeviceRegistry struct {
	mu      sync.Mutex
	devices map[string]*models.Device
	calls   int32
	err     error
}

func (f *fakeDeviceRegistry) FindActiveDevice(_ context.Context, mac string) (*models.Device, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[mac]
	if !ok || !d.IsActive() {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDeviceRegistry) set(d *models.Device) {
	f.mu.Lock()
	f.devices[d.MacAddress] = d
	f.mu.Unlock()
}

type fakeThresholdRegistry struct {
	thresholds map[string][]models.Threshold
	calls      int32
	err        error
}

func (f *fakeThresholdRegistry) FindThresholds(_ context.Context, mac string) ([]models.Threshold, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.thresholds[mac], nil
}

func newRedisKV(t *testing.T) (*RedisKVStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisKVStore(client), mr
}

func kvBackends(t *testing.T) map[string]KVStore {
	redisKV, _ := newRedisKV(t)
	return map[string]KVStore{
		"redis":  redisKV,
		"memory": NewMemoryKVStore(),
	}
}

const mac = "AA:BB:CC:DD:EE:01"

func activeDevice() *models.Device {
	return &models.Device{MacAddress: mac, DeviceName: "Lab-1", Location: "Room A", Status: models.DeviceStatusActive}
}

func TestDeviceCache_SecondResolveHitsCache(t *testing.T) {
	for name, kv := range kvBackends(t) {
		t.Run(name, func(t *testing.T) {
			registry := &fakeDeviceRegistry{devices: map[string]*models.Device{mac: activeDevice()}}
			c := NewDeviceCache(kv, registry, "device:", zap.NewNop())

			first, err := c.Resolve(context.Background(), mac)
			require.NoError(t, err)
			require.NotNil(t, first)

			second, err := c.Resolve(context.Background(), mac)
			require.NoError(t, err)
			require.NotNil(t, second)

			assert.Equal(t, first, second)
			assert.Equal(t, "Lab-1", second.DeviceName)
			assert.Equal(t, int32(1), atomic.LoadInt32(&registry.calls))
		})
	}
}

func TestDeviceCache_AbsentIsNotCached(t *testing.T) {
	for name, kv := range kvBackends(t) {
		t.Run(name, func(t *testing.T) {
			registry := &fakeDeviceRegistry{devices: map[string]*models.Device{}}
			c := NewDeviceCache(kv, registry, "device:", zap.NewNop())

			d, err := c.Resolve(context.Background(), mac)
			require.NoError(t, err)
			assert.Nil(t, d)

			_, err = kv.Get(context.Background(), "device:"+mac)
			assert.ErrorIs(t, err, ErrCacheMiss)

			// device registered after the first miss is picked up
			registry.set(activeDevice())
			d, err = c.Resolve(context.Background(), mac)
			require.NoError(t, err)
			require.NotNil(t, d)
			assert.Equal(t, int32(2), atomic.LoadInt32(&registry.calls))
		})
	}
}

func TestDeviceCache_InactiveIsAbsent(t *testing.T) {
	device := activeDevice()
	device.Status = models.DeviceStatusInactive
	registry := &fakeDeviceRegistry{devices: map[string]*models.Device{mac: device}}
	c := NewDeviceCache(NewMemoryKVStore(), registry, "device:", zap.NewNop())

	d, err := c.Resolve(context.Background(), mac)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestDeviceCache_RegistryError(t *testing.T) {
	registry := &fakeDeviceRegistry{err: errors.New("db down")}
	c := NewDeviceCache(NewMemoryKVStore(), registry, "device:", zap.NewNop())

	d, err := c.Resolve(context.Background(), mac)
	assert.Error(t, err)
	assert.Nil(t, d)
	assert.Contains(t, err.Error(), "db down")
}

func TestDeviceCache_CacheReadErrorFallsBackToRegistry(t *testing.T) {
	kv, mr := newRedisKV(t)
	registry := &fakeDeviceRegistry{devices: map[string]*models.Device{mac: activeDevice()}}
	c := NewDeviceCache(kv, registry, "device:", zap.NewNop())

	mr.Close()

	d, err := c.Resolve(context.Background(), mac)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, int32(1), atomic.LoadInt32(&registry.calls))
}

func TestDeviceCache_CorruptEntryIsReplaced(t *testing.T) {
	kv := NewMemoryKVStore()
	require.NoError(t, kv.Set(context.Background(), "device:"+mac, "{not json", 0))

	registry := &fakeDeviceRegistry{devices: map[string]*models.Device{mac: activeDevice()}}
	c := NewDeviceCache(kv, registry, "device:", zap.NewNop())

	d, err := c.Resolve(context.Background(), mac)
	require.NoError(t, err)
	require.NotNil(t, d)

	raw, err := kv.Get(context.Background(), "device:"+mac)
	require.NoError(t, err)
	assert.Contains(t, raw, "Lab-1")
}

func TestDeviceCache_ConcurrentMissesShareOneQuery(t *testing.T) {
	registry := &blockingDeviceRegistry{release: make(chan struct{})}
	c := NewDeviceCache(NewMemoryKVStore(), registry, "device:", zap.NewNop())

	const n = 8
	var wg sync.WaitGroup
	results := make([]*models.Device, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := c.Resolve(context.Background(), mac)
			assert.NoError(t, err)
			results[i] = d
		}(i)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&registry.calls) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(registry.release)
	wg.Wait()

	for _, d := range results {
		require.NotNil(t, d)
		assert.Equal(t, mac, d.MacAddress)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&registry.calls), int32(n))
}

type blockingDeviceRegistry struct {
	release chan struct{}
	calls   int32
}

func (b *blockingDeviceRegistry) FindActiveDevice(_ context.Context, mac string) (*models.Device, error) {
	atomic.AddInt32(&b.calls, 1)
	<-b.release
	d := activeDevice()
	return d, nil
}

func TestDeviceCache_InvalidateAndInvalidateAll(t *testing.T) {
	for name, kv := range kvBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			other := "AA:BB:CC:DD:EE:02"
			registry := &fakeDeviceRegistry{devices: map[string]*models.Device{
				mac:   activeDevice(),
				other: {MacAddress: other, DeviceName: "Lab-2", Status: models.DeviceStatusActive},
			}}
			c := NewDeviceCache(kv, registry, "device:", zap.NewNop())
			require.NoError(t, kv.Set(ctx, "thresholds:"+mac, "[]", 0))

			_, err := c.Resolve(ctx, mac)
			require.NoError(t, err)
			_, err = c.Resolve(ctx, other)
			require.NoError(t, err)

			require.NoError(t, c.Invalidate(ctx, mac))
			_, err = kv.Get(ctx, "device:"+mac)
			assert.ErrorIs(t, err, ErrCacheMiss)
			_, err = kv.Get(ctx, "device:"+other)
			assert.NoError(t, err)

			require.NoError(t, c.InvalidateAll(ctx))
			_, err = kv.Get(ctx, "device:"+other)
			assert.ErrorIs(t, err, ErrCacheMiss)

			// other prefixes untouched
			_, err = kv.Get(ctx, "thresholds:"+mac)
			assert.NoError(t, err)
		})
	}
}

// gatedDeviceRegistry answers from inner, then holds the first lookup until
// release is closed
type gatedDeviceRegistry struct {
	inner   *fakeDeviceRegistry
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	ctxErr  atomic.Value
}

func newGatedDeviceRegistry(inner *fakeDeviceRegistry) *gatedDeviceRegistry {
	return &gatedDeviceRegistry{inner: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedDeviceRegistry) FindActiveDevice(ctx context.Context, mac string) (*models.Device, error) {
	d, err := g.inner.FindActiveDevice(ctx, mac)
	first := false
	g.once.Do(func() {
		first = true
		close(g.entered)
	})
	if first {
		<-g.release
		g.ctxErr.Store(fmt.Sprint(ctx.Err()))
	}
	return d, err
}

func TestDeviceCache_InvalidateDuringLookupIsNotOverwritten(t *testing.T) {
	for name, kv := range kvBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			inner := &fakeDeviceRegistry{devices: map[string]*models.Device{mac: activeDevice()}}
			registry := newGatedDeviceRegistry(inner)
			c := NewDeviceCache(kv, registry, "device:", zap.NewNop())

			done := make(chan *models.Device, 1)
			go func() {
				d, err := c.Resolve(ctx, mac)
				assert.NoError(t, err)
				done <- d
			}()

			// lookup has read Active; device is deactivated and invalidated
			<-registry.entered
			deactivated := activeDevice()
			deactivated.Status = models.DeviceStatusInactive
			inner.set(deactivated)
			require.NoError(t, c.Invalidate(ctx, mac))

			// a caller arriving now must not join the stale lookup
			d, err := c.Resolve(ctx, mac)
			require.NoError(t, err)
			assert.Nil(t, d)

			close(registry.release)
			require.NotNil(t, <-done)

			_, err = kv.Get(ctx, "device:"+mac)
			assert.ErrorIs(t, err, ErrCacheMiss)

			d, err = c.Resolve(ctx, mac)
			require.NoError(t, err)
			assert.Nil(t, d)
		})
	}
}

func TestDeviceCache_InvalidateAllDuringLookupIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKVStore()
	inner := &fakeDeviceRegistry{devices: map[string]*models.Device{mac: activeDevice()}}
	registry := newGatedDeviceRegistry(inner)
	c := NewDeviceCache(kv, registry, "device:", zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Resolve(ctx, mac)
		assert.NoError(t, err)
	}()

	<-registry.entered
	require.NoError(t, c.InvalidateAll(ctx))
	close(registry.release)
	<-done

	assert.Equal(t, 0, kv.Len())
}

func TestDeviceCache_CallerCancelDoesNotFailSharedLookup(t *testing.T) {
	inner := &fakeDeviceRegistry{devices: map[string]*models.Device{mac: activeDevice()}}
	registry := newGatedDeviceRegistry(inner)
	c := NewDeviceCache(NewMemoryKVStore(), registry, "device:", zap.NewNop())

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Resolve(firstCtx, mac)
		firstErr <- err
	}()
	<-registry.entered

	second := make(chan *models.Device, 1)
	go func() {
		d, err := c.Resolve(context.Background(), mac)
		assert.NoError(t, err)
		second <- d
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(registry.release)
	d := <-second
	require.NotNil(t, d)
	assert.Equal(t, mac, d.MacAddress)

	// the shared lookup ran without the first caller's cancellation
	require.Eventually(t, func() bool { return registry.ctxErr.Load() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "<nil>", registry.ctxErr.Load())
}

type gatedThresholdRegistry struct {
	mu         sync.Mutex
	thresholds []models.Threshold
	entered    chan struct{}
	release    chan struct{}
	once       sync.Once
}

func (g *gatedThresholdRegistry) FindThresholds(context.Context, string) ([]models.Threshold, error) {
	g.mu.Lock()
	out := append([]models.Threshold(nil), g.thresholds...)
	g.mu.Unlock()

	first := false
	g.once.Do(func() {
		first = true
		close(g.entered)
	})
	if first {
		<-g.release
	}
	return out, nil
}

func TestThresholdCache_InvalidateDuringLookupIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKVStore()
	registry := &gatedThresholdRegistry{
		thresholds: models.DefaultThresholds(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	c := NewThresholdCache(kv, registry, "thresholds:", 0, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Resolve(ctx, mac)
		assert.NoError(t, err)
	}()

	<-registry.entered
	registry.mu.Lock()
	registry.thresholds = []models.Threshold{{
		Parameter:  models.ParameterTemperature,
		LowerLimit: decimal.NewFromInt(10),
		UpperLimit: decimal.NewFromInt(15),
	}}
	registry.mu.Unlock()
	require.NoError(t, c.Invalidate(ctx, mac))

	close(registry.release)
	<-done

	thresholds, err := c.Resolve(ctx, mac)
	require.NoError(t, err)
	require.Len(t, thresholds, 1)
	assert.True(t, thresholds[0].UpperLimit.Equal(decimal.NewFromInt(15)))
}

func TestThresholdCache_ResolveAndCache(t *testing.T) {
	for name, kv := range kvBackends(t) {
		t.Run(name, func(t *testing.T) {
			registry := &fakeThresholdRegistry{thresholds: map[string][]models.Threshold{mac: models.DefaultThresholds()}}
			c := NewThresholdCache(kv, registry, "thresholds:", 0, zap.NewNop())

			first, err := c.Resolve(context.Background(), mac)
			require.NoError(t, err)
			require.Len(t, first, 2)

			second, err := c.Resolve(context.Background(), mac)
			require.NoError(t, err)
			require.Len(t, second, 2)

			assert.Equal(t, models.ParameterTemperature, second[0].Parameter)
			assert.True(t, second[0].UpperLimit.Equal(decimal.NewFromInt(30)))
			assert.Equal(t, int32(1), atomic.LoadInt32(&registry.calls))
		})
	}
}

func TestThresholdCache_EmptyListIsCached(t *testing.T) {
	registry := &fakeThresholdRegistry{thresholds: map[string][]models.Threshold{}}
	c := NewThresholdCache(NewMemoryKVStore(), registry, "thresholds:", 0, zap.NewNop())

	for i := 0; i < 3; i++ {
		thresholds, err := c.Resolve(context.Background(), mac)
		require.NoError(t, err)
		assert.Empty(t, thresholds)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&registry.calls))
}

func TestThresholdCache_TTL(t *testing.T) {
	kv := NewMemoryKVStore()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }

	registry := &fakeThresholdRegistry{thresholds: map[string][]models.Threshold{mac: models.DefaultThresholds()}}
	c := NewThresholdCache(kv, registry, "thresholds:", time.Minute, zap.NewNop())

	_, err := c.Resolve(context.Background(), mac)
	require.NoError(t, err)
	_, err = c.Resolve(context.Background(), mac)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&registry.calls))

	now = now.Add(2 * time.Minute)
	_, err = c.Resolve(context.Background(), mac)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&registry.calls))
}

func TestThresholdCache_Invalidate(t *testing.T) {
	registry := &fakeThresholdRegistry{thresholds: map[string][]models.Threshold{mac: models.DefaultThresholds()}}
	c := NewThresholdCache(NewMemoryKVStore(), registry, "thresholds:", 0, zap.NewNop())

	_, err := c.Resolve(context.Background(), mac)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(context.Background(), mac))
	_, err = c.Resolve(context.Background(), mac)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&registry.calls))

	require.NoError(t, c.InvalidateAll(context.Background()))
	_, err = c.Resolve(context.Background(), mac)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&registry.calls))
}

func TestThresholdCache_RegistryError(t *testing.T) {
	registry := &fakeThresholdRegistry{err: errors.New("timeout")}
	c := NewThresholdCache(NewMemoryKVStore(), registry, "thresholds:", 0, zap.NewNop())

	thresholds, err := c.Resolve(context.Background(), mac)
	assert.Error(t, err)
	assert.Nil(t, thresholds)
}

func TestRedisKVStore_DeletePrefix(t *testing.T) {
	kv, mr := newRedisKV(t)
	ctx := context.Background()

	for i := 0; i < 1200; i++ {
		mr.Set("device:"+strconv.Itoa(i), "x")
	}
	mr.Set("other:1", "y")

	n, err := kv.DeletePrefix(ctx, "device:")
	require.NoError(t, err)
	assert.Equal(t, 1200, n)
	assert.Equal(t, []string{"other:1"}, mr.Keys())
}

func TestMemoryKVStore_Basic(t *testing.T) {
	kv := NewMemoryKVStore()
	ctx := context.Background()

	_, err := kv.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, kv.Set(ctx, "a", "1", 0))
	require.NoError(t, kv.Set(ctx, "b", "2", 0))
	v, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	assert.Equal(t, 2, kv.Len())

	require.NoError(t, kv.Delete(ctx, "a", "missing"))
	_, err = kv.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 1, kv.Len())
}
