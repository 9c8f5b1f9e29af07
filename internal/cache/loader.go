package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// lookupTimeout bounds a shared registry lookup
const lookupTimeout = 10 * time.Second

// loader collapses concurrent registry lookups per key and keeps results
// of a lookup that raced an invalidation out of the cache.
type loader struct {
	group singleflight.Group

	mu  sync.RWMutex
	gen uint64 // bumped by every invalidation
}

func (l *loader) generation() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gen
}

// load runs fn once for all concurrent callers of key. fn is detached from
// the first caller's cancellation; each caller still returns when its own
// ctx is done.
func (l *loader) load(ctx context.Context, key string, fn func(ctx context.Context, gen uint64) (interface{}, error)) (interface{}, error) {
	ch := l.group.DoChan(key, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return fn(lookupCtx, l.generation())
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// store calls write unless an invalidation happened since gen was taken.
// Invalidations wait for an in-progress write, so a write that passes the
// check is always followed by the invalidation's delete.
func (l *loader) store(gen uint64, write func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.gen != gen {
		return false
	}
	write()
	return true
}

// invalidate must run before the cache entries are deleted. keys are
// dropped from the in-flight set so later callers start a fresh lookup.
func (l *loader) invalidate(keys ...string) {
	l.mu.Lock()
	l.gen++
	l.mu.Unlock()

	for _, key := range keys {
		l.group.Forget(key)
	}
}
