package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"jobcard-backend/internal/config"
)

// Cache is the on-device key-value store used as a fallback when the durable
// store is unreachable, and for session-scoped scratch data.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}

var errKeyRequired = errors.New("key is required")

// Open returns the cache implementation selected by cfg.CacheDriver.
func Open(ctx context.Context, cfg *config.Config) (Cache, error) {
	switch cfg.CacheDriver {
	case config.CacheDriverSQLite:
		return NewSQLiteCache(ctx, cfg.CachePath)
	case config.CacheDriverBadger:
		return NewBadgerCache(cfg.CachePath)
	case config.CacheDriverMemory:
		return NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
	}
}

func normalizeKey(key string) (string, error) {
	k := strings.TrimSpace(key)
	if k == "" {
		return "", errKeyRequired
	}
	return k, nil
}

// MemoryCache keeps entries in process memory. Used for tests and for
// devices where nothing may be written to disk.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]string)}
}

func (m *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	k, err := normalizeKey(key)
	if err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[k]
	return v, ok, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value string) error {
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[k] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entries, k)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return errors.New("prefix is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryCache) Close() error { return nil }
