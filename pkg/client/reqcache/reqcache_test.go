package reqcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qx7/pkg/client/kv"
)

type failingStore struct{ kv.Store }

func (failingStore) Get(context.Context, string) (string, error) {
	return "", errors.New("store offline")
}

func (failingStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("store offline")
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	c := New()
	assert.Zero(t, c.Len())

	_, ok := c.Get(KeyETag)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, KeyETag, `"abc"`))
	v, ok := c.Get(KeyETag)
	assert.True(t, ok)
	assert.Equal(t, `"abc"`, v)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Clear(ctx))
	assert.Zero(t, c.Len())
}

func TestCacheOutlivesProcess(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	first, err := Open(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, first.Len())
	require.NoError(t, first.Put(ctx, KeyETag, `"abc"`))

	second, err := Open(ctx, store)
	require.NoError(t, err)
	v, ok := second.Get(KeyETag)
	require.True(t, ok)
	assert.Equal(t, `"abc"`, v)

	require.NoError(t, second.Clear(ctx))
	third, err := Open(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, third.Len())
}

func TestCacheStoreFailures(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, failingStore{})
	assert.Error(t, err)

	c := &Cache{entries: make(map[string]string), store: failingStore{}}
	assert.Error(t, c.Put(ctx, KeyETag, `"abc"`))
	assert.Equal(t, 1, c.Len(), "memory keeps the entry")

	empty, err := Open(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}
