// Package kv provides the string key-value stores behind the durable and
// session storage tiers and the clearing markers.
package kv

import (
	"context"
	"time"
)

// Store is a string key-value store. Get returns sentinel.ErrNotFound for a
// missing or expired key. A zero ttl keeps the key until deleted.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
