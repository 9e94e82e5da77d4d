package keyvalue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qx7/pkg/client/kv"
	"qx7/pkg/client/storage"
	"qx7/pkg/platform/sentinel"
)

func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	b := New(storage.KindSession, store, "")

	assert.Equal(t, storage.KindSession, b.Kind())

	_, err := b.Read(ctx)
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	rec := storage.Record{
		ID:        "0123456789abcdef0123456789abcdef",
		Timestamp: time.Date(2026, 2, 3, 4, 5, 6, 7_000_000, time.UTC),
		TTL:       24 * time.Hour,
		Version:   storage.RecordVersion,
	}
	require.NoError(t, b.Write(ctx, rec))

	got, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	raw, err := store.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"0123456789abcdef0123456789abcdef","timestamp":1770091506007,"ttl":86400000,"version":"2"}`, raw)

	require.NoError(t, b.Delete(ctx))
	_, err = b.Read(ctx)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestBackendCorruptValue(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "custom", "{not json", 0))

	_, err := New(storage.KindKV, store, "custom").Read(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, sentinel.ErrNotFound)
}

func TestBackendStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := kv.NewMemoryStore(kv.WithClock(func() time.Time { return now }))
	b := New(storage.KindKV, store, "")

	require.NoError(t, b.Write(ctx, storage.Record{ID: "0123456789abcdef", Timestamp: now, TTL: time.Minute}))
	now = now.Add(2 * time.Minute)

	_, err := b.Read(ctx)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
