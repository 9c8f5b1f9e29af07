package cache

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const memoryShards = 32

type memoryItem struct {
	value   string
	expires time.Time // zero = no ttl
}

type memoryShard struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

// MemoryKVStore in-process KVStore, sharded by key hash so unrelated keys
// do not contend on one lock.
type MemoryKVStore struct {
	shards [memoryShards]*memoryShard
	now    func() time.Time
}

func NewMemoryKVStore() *MemoryKVStore {
	m := &MemoryKVStore{now: time.Now}
	for i := range m.shards {
		m.shards[i] = &memoryShard{items: make(map[string]memoryItem)}
	}
	return m
}

func (m *MemoryKVStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%memoryShards]
}

func (m *MemoryKVStore) Get(_ context.Context, key string) (string, error) {
	s := m.shard(key)
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		return "", ErrCacheMiss
	}
	if !item.expires.IsZero() && m.now().After(item.expires) {
		s.mu.Lock()
		if cur, ok := s.items[key]; ok && cur.expires.Equal(item.expires) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return "", ErrCacheMiss
	}
	return item.value, nil
}

func (m *MemoryKVStore) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}

	s := m.shard(key)
	s.mu.Lock()
	s.items[key] = memoryItem{value: value, expires: exp}
	s.mu.Unlock()
	return nil
}

func (m *MemoryKVStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s := m.shard(key)
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
	}
	return nil
}

func (m *MemoryKVStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for key := range s.items {
			if strings.HasPrefix(key, prefix) {
				delete(s.items, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Len number of stored entries, expired ones included
func (m *MemoryKVStore) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}
