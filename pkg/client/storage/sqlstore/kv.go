package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qx7/pkg/platform/sentinel"
)

// KV is a string key-value store kept in qx7_kv, scoped by origin and
// namespace. It is not versioned, so it keeps working when the record
// schema is outdated.
type KV struct {
	backend   *Backend
	namespace string
	now       func() time.Time
}

// KV returns the key-value store for namespace in this backend's origin.
func (b *Backend) KV(namespace string) *KV {
	return &KV{backend: b, namespace: namespace, now: time.Now}
}

// Get returns sentinel.ErrNotFound for a missing or expired key. Expired keys
// are deleted on the way out.
func (s *KV) Get(ctx context.Context, key string) (string, error) {
	b := s.backend
	var (
		value   string
		expires int64
	)
	err := b.db.QueryRowContext(ctx, b.rebind(selectValue), b.origin, s.namespace, key).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read %s/%s: %w", s.namespace, key, err)
	}
	if expires > 0 && toMillis(s.now()) >= expires {
		if err := s.Del(ctx, key); err != nil {
			return "", err
		}
		return "", sentinel.ErrNotFound
	}
	return value, nil
}

// Set stores value. A zero ttl keeps the key until deleted.
func (s *KV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	b := s.backend
	var expires int64
	if ttl > 0 {
		expires = toMillis(s.now().Add(ttl))
	}
	if _, err := b.db.ExecContext(ctx, b.rebind(upsertValue), b.origin, s.namespace, key, value, expires); err != nil {
		return fmt.Errorf("write %s/%s: %w", s.namespace, key, err)
	}
	return nil
}

func (s *KV) Del(ctx context.Context, key string) error {
	b := s.backend
	if _, err := b.db.ExecContext(ctx, b.rebind(deleteValue), b.origin, s.namespace, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", s.namespace, key, err)
	}
	return nil
}
