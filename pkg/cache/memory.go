package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memoryItem struct {
	value    []byte
	expireAt time.Time
}

func (m *memoryItem) expired(now time.Time) bool {
	return !m.expireAt.IsZero() && now.After(m.expireAt)
}

// MemoryCache implements Service in process memory with LRU eviction. Values
// are encoded like RedisCache encodes them, so the two are interchangeable.
type MemoryCache struct {
	mu      sync.Mutex
	data    map[string]*memoryItem
	access  map[string]time.Time
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
	once    sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{MaxSize: 1000, CleanupInterval: 5 * time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}
	mc := &MemoryCache{
		data:    make(map[string]*memoryItem),
		access:  make(map[string]time.Time),
		maxSize: cfg.MaxSize,
		ticker:  time.NewTicker(cfg.CleanupInterval),
		done:    make(chan struct{}),
	}
	go mc.cleanup()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = append([]byte(nil), v...)
	default:
		var err error
		if data, err = json.Marshal(value); err != nil {
			return fmt.Errorf("cache encode %s: %w", key, err)
		}
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, ok := mc.data[key]; !ok && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}
	item := &memoryItem{value: data}
	if expiration > 0 {
		item.expireAt = time.Now().Add(expiration)
	}
	mc.data[key] = item
	mc.access[key] = time.Now()
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	item, ok := mc.data[key]
	if !ok || item.expired(time.Now()) {
		if ok {
			delete(mc.data, key)
			delete(mc.access, key)
		}
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	mc.access[key] = time.Now()
	data := item.value
	mc.mu.Unlock()

	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append([]byte(nil), data...)
		return nil
	}
	return json.Unmarshal(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		delete(mc.data, key)
		delete(mc.access, key)
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := time.Now()
	for _, key := range keys {
		if item, ok := mc.data[key]; ok && !item.expired(now) {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if item, ok := mc.data[key]; ok && !item.expired(time.Now()) {
		return false, nil
	}
	mc.data[key] = &memoryItem{value: []byte("locked"), expireAt: time.Now().Add(ttl)}
	mc.access[key] = time.Now()
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

func (mc *MemoryCache) evictLRU() {
	var oldest string
	oldestAt := time.Now()
	for key, at := range mc.access {
		if at.Before(oldestAt) {
			oldest, oldestAt = key, at
		}
	}
	if oldest != "" {
		delete(mc.data, oldest)
		delete(mc.access, oldest)
	}
}

func (mc *MemoryCache) cleanup() {
	for {
		select {
		case <-mc.done:
			return
		case now := <-mc.ticker.C:
			mc.mu.Lock()
			for key, item := range mc.data {
				if item.expired(now) {
					delete(mc.data, key)
					delete(mc.access, key)
				}
			}
			mc.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine.
func (mc *MemoryCache) Close() error {
	mc.once.Do(func() {
		mc.ticker.Stop()
		close(mc.done)
	})
	return nil
}
