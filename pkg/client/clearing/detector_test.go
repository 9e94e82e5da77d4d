package clearing

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qx7/pkg/client/kv"
	"qx7/pkg/client/reqcache"
	"qx7/pkg/client/storage/worker"
)

type stubIDs struct{ id string }

func (s stubIDs) Read(context.Context) (string, bool) { return s.id, s.id != "" }

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type panickingPinger struct{}

func (panickingPinger) Ping(context.Context) error { panic("worker crashed") }

type fixture struct {
	session *kv.MemoryStore
	durable *kv.MemoryStore
	cache   *reqcache.Cache
}

func newFixture() fixture {
	return fixture{
		session: kv.NewMemoryStore(),
		durable: kv.NewMemoryStore(),
		cache:   reqcache.New(),
	}
}

func (f fixture) detector(id string, opts ...Option) *Detector {
	return New(stubIDs{id: id}, f.session, f.durable, f.cache, opts...)
}

func clearedNames(d Detection) []string {
	var names []string
	for _, c := range d.Checks {
		if c.Cleared {
			names = append(names, c.Name)
		}
	}
	return names
}

func TestDetectFirstVisit(t *testing.T) {
	f := newFixture()
	det := f.detector("").Detect(context.Background())

	assert.True(t, det.DataCleared)
	assert.InDelta(t, 1.0, det.Confidence, 1e-9)
	assert.Len(t, det.Checks, 5)
}

func TestDetectIntactSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	require.NoError(t, f.cache.Put(ctx, reqcache.KeyETag, `"x"`))
	d := f.detector("0123456789abcdef", WithWorker(stubPinger{}))

	d.Detect(ctx)
	det := d.Detect(ctx)

	assert.False(t, det.DataCleared)
	assert.Zero(t, det.Confidence)
	assert.Empty(t, clearedNames(det))
}

func TestDetectThreshold(t *testing.T) {
	ctx := context.Background()

	t.Run("one cleared probe is not enough", func(t *testing.T) {
		f := newFixture()
		require.NoError(t, f.cache.Put(ctx, reqcache.KeyETag, `"x"`))
		d := f.detector("0123456789abcdef")
		d.Detect(ctx)

		det := d.Detect(ctx)
		assert.Equal(t, []string{CheckWorkerUnreachable}, clearedNames(det))
		assert.False(t, det.DataCleared)
		assert.InDelta(t, 0.2, det.Confidence, 1e-9)
	})

	t.Run("two cleared probes flag clearing", func(t *testing.T) {
		f := newFixture()
		require.NoError(t, f.cache.Put(ctx, reqcache.KeyETag, `"x"`))
		d := f.detector("0123456789abcdef", WithWorker(stubPinger{err: errors.New("gone")}))
		d.Detect(ctx)
		f.session.Reset()

		det := d.Detect(ctx)
		assert.ElementsMatch(t, []string{CheckNoSessionActive, CheckWorkerUnreachable}, clearedNames(det))
		assert.True(t, det.DataCleared)
		assert.InDelta(t, 0.4, det.Confidence, 1e-9)
	})
}

func TestDetectRearmsMarkers(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	now := time.UnixMilli(1770091506007)
	f.detector("", WithClock(func() time.Time { return now })).Detect(ctx)

	active, err := f.session.Get(ctx, MarkerSessionActive)
	require.NoError(t, err)
	assert.Equal(t, "true", active)

	start, err := f.durable.Get(ctx, MarkerSessionStart)
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(now.UnixMilli(), 10), start)
}

func TestDetectWithoutStores(t *testing.T) {
	det := New(nil, nil, nil, nil).Detect(context.Background())
	assert.True(t, det.DataCleared)
	assert.InDelta(t, 1.0, det.Confidence, 1e-9)
}

func TestDetectWorkerPanics(t *testing.T) {
	ctx := context.Background()

	t.Run("panicking pinger counts as cleared", func(t *testing.T) {
		f := newFixture()
		det := f.detector("0123456789abcdef", WithWorker(panickingPinger{})).Detect(ctx)
		assert.Contains(t, clearedNames(det), CheckWorkerUnreachable)
	})

	t.Run("nil worker pointer counts as cleared", func(t *testing.T) {
		f := newFixture()
		var w *worker.Worker
		det := f.detector("0123456789abcdef", WithWorker(w)).Detect(ctx)
		assert.Contains(t, clearedNames(det), CheckWorkerUnreachable)
	})
}
