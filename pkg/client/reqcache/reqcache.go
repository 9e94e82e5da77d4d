// Package reqcache is the request cache. It holds what the client learned
// from earlier identity responses, such as the last ETag served. A cache
// opened over a kv.Store writes through, so its entries outlive the process.
package reqcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"qx7/pkg/client/kv"
	"qx7/pkg/platform/sentinel"
)

// KeyETag holds the quoted ETag of the last identity response.
const KeyETag = "etag"

// Keys lists every entry the cache persists.
var Keys = []string{KeyETag}

const storePrefix = "reqcache:"

type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
	store   kv.Store
}

// New returns a cache that lives in memory only.
func New() *Cache {
	return &Cache{entries: make(map[string]string)}
}

// Open returns a cache backed by store, loaded with the entries store
// already holds.
func Open(ctx context.Context, store kv.Store) (*Cache, error) {
	c := New()
	if store == nil {
		return c, nil
	}
	c.store = store
	for _, key := range Keys {
		value, err := store.Get(ctx, storePrefix+key)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load request cache %s: %w", key, err)
		}
		c.entries[key] = value
	}
	return c, nil
}

func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Put keeps the entry in memory even when the backing store rejects it.
func (c *Cache) Put(ctx context.Context, key, value string) error {
	c.mu.Lock()
	c.entries[key] = value
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	if err := c.store.Set(ctx, storePrefix+key, value, 0); err != nil {
		return fmt.Errorf("persist request cache %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear empties the cache and its backing store.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	clear(c.entries)
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	var errs []error
	for _, key := range keys {
		if err := c.store.Del(ctx, storePrefix+key); err != nil {
			errs = append(errs, fmt.Errorf("clear request cache %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
