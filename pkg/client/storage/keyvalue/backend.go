// Package keyvalue adapts a kv.Store into a storage tier. The durable and
// session tiers run on Redis, a database namespace or process memory.
package keyvalue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qx7/pkg/client/kv"
	"qx7/pkg/client/storage"
	"qx7/pkg/platform/sentinel"
)

// DefaultKey is the key the record is stored under.
const DefaultKey = "qx7_id"

type payload struct {
	ID          string `json:"id"`
	TimestampMS int64  `json:"timestamp"`
	TTLMS       int64  `json:"ttl"`
	Version     string `json:"version"`
}

// Backend stores the record as JSON under a single key.
type Backend struct {
	kind  storage.Kind
	store kv.Store
	key   string
}

// New returns a backend of the given kind over store. An empty key uses
// DefaultKey.
func New(kind storage.Kind, store kv.Store, key string) *Backend {
	if key == "" {
		key = DefaultKey
	}
	return &Backend{kind: kind, store: store, key: key}
}

func (b *Backend) Kind() storage.Kind {
	return b.kind
}

// Write also hands the TTL to the store so it can expire the key natively.
func (b *Backend) Write(ctx context.Context, rec storage.Record) error {
	value, err := json.Marshal(payload{
		ID:          rec.ID,
		TimestampMS: rec.Timestamp.UnixMilli(),
		TTLMS:       rec.TTL.Milliseconds(),
		Version:     rec.Version,
	})
	if err != nil {
		return fmt.Errorf("encode %s record: %w", b.kind, err)
	}
	if err := b.store.Set(ctx, b.key, string(value), rec.TTL); err != nil {
		return fmt.Errorf("write %s record: %w", b.kind, err)
	}
	return nil
}

func (b *Backend) Read(ctx context.Context) (storage.Record, error) {
	value, err := b.store.Get(ctx, b.key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return storage.Record{}, sentinel.ErrNotFound
		}
		return storage.Record{}, fmt.Errorf("read %s record: %w", b.kind, err)
	}
	var p payload
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return storage.Record{}, fmt.Errorf("decode %s record: %w", b.kind, err)
	}
	return storage.Record{
		ID:        p.ID,
		Timestamp: time.UnixMilli(p.TimestampMS).UTC(),
		TTL:       time.Duration(p.TTLMS) * time.Millisecond,
		Version:   p.Version,
	}, nil
}

func (b *Backend) Delete(ctx context.Context) error {
	if err := b.store.Del(ctx, b.key); err != nil {
		return fmt.Errorf("delete %s record: %w", b.kind, err)
	}
	return nil
}
