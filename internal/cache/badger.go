package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerCache stores entries in an embedded badger directory.
type BadgerCache struct {
	db *badger.DB
}

var _ Cache = (*BadgerCache)(nil)

// NewBadgerCache opens the badger store at dir. An empty dir opens an
// in-memory store.
func NewBadgerCache(dir string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

func (c *BadgerCache) Get(ctx context.Context, key string) (string, bool, error) {
	k, err := normalizeKey(key)
	if err != nil {
		return "", false, err
	}
	var value []byte
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(k))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cache key %s: %w", k, err)
	}
	return string(value), true, nil
}

func (c *BadgerCache) Set(ctx context.Context, key string, value string) error {
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(k), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", k, err)
	}
	return nil
}

func (c *BadgerCache) Delete(ctx context.Context, key string) error {
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(k))
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", k, err)
	}
	return nil
}

func (c *BadgerCache) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return errors.New("prefix is required")
	}
	if err := c.db.DropPrefix([]byte(prefix)); err != nil {
		return fmt.Errorf("failed to delete cache prefix %s: %w", prefix, err)
	}
	return nil
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}
