package mock

import (
	"context"

	"jobcard-backend/internal/cache"
)

// Cache wraps a real cache and fails the operations whose error is set.
type Cache struct {
	cache.Cache

	GetErr          error
	SetErr          error
	DeleteErr       error
	DeletePrefixErr error
}

func NewCache() *Cache {
	return &Cache{Cache: cache.NewMemoryCache()}
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	if c.GetErr != nil {
		return "", false, c.GetErr
	}
	return c.Cache.Get(ctx, key)
}

func (c *Cache) Set(ctx context.Context, key, value string) error {
	if c.SetErr != nil {
		return c.SetErr
	}
	return c.Cache.Set(ctx, key, value)
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if c.DeleteErr != nil {
		return c.DeleteErr
	}
	return c.Cache.Delete(ctx, key)
}

func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	if c.DeletePrefixErr != nil {
		return c.DeletePrefixErr
	}
	return c.Cache.DeletePrefix(ctx, prefix)
}
