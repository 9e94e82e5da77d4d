package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qx7/pkg/platform/sentinel"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))

	t.Run("missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "absent")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "a", "1", 0))
		got, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "1", got)
	})

	t.Run("ttl expiry", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "b", "2", time.Minute))
		now = now.Add(time.Minute)
		_, err := store.Get(ctx, "b")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Del(ctx, "a"))
		require.NoError(t, store.Del(ctx, "never-set"))
		_, err := store.Get(ctx, "a")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("reset", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "c", "3", 0))
		store.Reset()
		assert.Zero(t, store.Len())
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.Error(t, store.Set(cctx, "d", "4", 0))
	})
}
