package acquire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"qx7/internal/identity"
	"qx7/internal/identity/handler"
	"qx7/internal/platform/logger"
	"qx7/pkg/client/clearing"
	"qx7/pkg/client/kv"
	"qx7/pkg/client/reqcache"
	"qx7/pkg/client/storage"
	"qx7/pkg/client/storage/keyvalue"
	"qx7/pkg/visitorid"
)

const basePath = "/api/qx7"

type recordingBroadcaster struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func (r *recordingBroadcaster) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func identityRouter() http.Handler {
	h := handler.New(identity.NewResolver(), logger.Discard())
	r := chi.NewRouter()
	r.Route(basePath, h.Register)
	return r
}

// =============================================================================
// Acquisition against the identity service
// =============================================================================

type AcquireSuite struct {
	suite.Suite
	server    *httptest.Server
	durable   *kv.MemoryStore
	session   *kv.MemoryStore
	store     *storage.Orchestrator
	cache     *reqcache.Cache
	broadcast *recordingBroadcaster
}

func TestAcquireSuite(t *testing.T) {
	suite.Run(t, new(AcquireSuite))
}

func (s *AcquireSuite) SetupTest() {
	s.server = httptest.NewServer(identityRouter())
	s.durable = kv.NewMemoryStore()
	s.session = kv.NewMemoryStore()
	s.store = storage.New([]storage.Backend{
		keyvalue.New(storage.KindKV, s.durable, ""),
		keyvalue.New(storage.KindSession, s.session, ""),
	})
	s.cache = reqcache.New()
	s.broadcast = &recordingBroadcaster{}
}

func (s *AcquireSuite) TearDownTest() {
	s.server.Close()
}

func (s *AcquireSuite) acquirer(opts ...Option) *Acquirer {
	detector := clearing.New(s.store, s.session, s.durable, s.cache)
	opts = append([]Option{
		WithDetector(detector),
		WithCache(s.cache),
		WithBroadcaster(s.broadcast),
		WithRetryBase(time.Millisecond),
	}, opts...)
	a, err := New(s.server.URL, basePath, s.store, opts...)
	s.Require().NoError(err)
	return a
}

func (s *AcquireSuite) TestFirstVisit() {
	ctx := context.Background()
	res := s.acquirer().Acquire(ctx)

	s.Require().NotNil(res.Data)
	s.True(visitorid.IsValid(res.Data.Qx7ID))
	s.Equal(visitorid.MethodNew, res.Data.PersistenceMethod)
	s.False(res.Data.IsReturning)
	s.True(res.DataCleared, "nothing was stored before the first visit")
	s.Equal(storage.HealthHealthy, res.StorageHealth)

	stored, ok := s.store.Read(ctx)
	s.True(ok)
	s.Equal(res.Data.Qx7ID, stored)

	etag, ok := s.cache.Get(reqcache.KeyETag)
	s.True(ok)
	s.Equal(visitorid.Quote(res.Data.Qx7ID), etag)

	s.Equal([]string{res.Data.Qx7ID}, s.broadcast.sent())
}

func (s *AcquireSuite) TestReturningVisitGetsNotModified() {
	ctx := context.Background()
	a := s.acquirer()
	first := a.Acquire(ctx)
	s.Require().NotNil(first.Data)

	second := a.Acquire(ctx)
	s.Require().NotNil(second.Data)
	s.Equal(first.Data.Qx7ID, second.Data.Qx7ID)
	s.True(second.Data.IsReturning)
	s.Equal(visitorid.MethodLocalStorageVerified, second.Data.PersistenceMethod)
	s.False(second.DataCleared)
	s.InDelta(0.2, second.Confidence, 1e-9, "only the worker probe reports cleared")
}

func (s *AcquireSuite) TestClearedStorageIgnoresCachedETag() {
	ctx := context.Background()
	a := s.acquirer()
	first := a.Acquire(ctx)
	s.Require().NotNil(first.Data)

	// Storage is wiped but the request cache still holds the ETag.
	s.durable.Reset()
	s.session.Reset()

	res := a.Acquire(ctx)
	s.Require().NotNil(res.Data)
	s.True(res.DataCleared)
	s.NotEqual(first.Data.Qx7ID, res.Data.Qx7ID, "cleared data distrusts the etag")
	s.Equal(visitorid.MethodNew, res.Data.PersistenceMethod)
}

func (s *AcquireSuite) TestIncognitoSkipsPersistence() {
	ctx := context.Background()
	res := s.acquirer(WithHints(Hints{Incognito: true})).Acquire(ctx)

	s.Require().NotNil(res.Data)
	s.Equal(visitorid.MethodIncognitoRandom, res.Data.PersistenceMethod)
	_, ok := s.store.Read(ctx)
	s.False(ok)
	s.Len(s.broadcast.sent(), 1)
}

func (s *AcquireSuite) TestCognitoRecovery() {
	res := s.acquirer(WithHints(Hints{CognitoUserID: "eu-west-1:abc", ReturningFromAuth: true})).Acquire(context.Background())

	s.Require().NotNil(res.Data)
	s.Equal(visitorid.Derive("eu-west-1:abc"), res.Data.Qx7ID)
	s.Equal(visitorid.MethodCognitoPostAuthRecovery, res.Data.PersistenceMethod)
}

// =============================================================================
// Retry and degraded results
// =============================================================================

type countingServer struct {
	calls atomic.Int32
	srv   *httptest.Server
}

// newFlakyServer fails the first failures requests with status, then serves
// the identity routes.
func newFlakyServer(t *testing.T, failures int32, status int) *countingServer {
	t.Helper()
	cs := &countingServer{}
	next := identityRouter()
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cs.calls.Add(1) <= failures {
			w.WriteHeader(status)
			return
		}
		next.ServeHTTP(w, r)
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func newAcquirer(t *testing.T, serverURL string, opts ...Option) *Acquirer {
	t.Helper()
	store := storage.New([]storage.Backend{keyvalue.New(storage.KindKV, kv.NewMemoryStore(), "")})
	opts = append([]Option{WithRetryBase(time.Millisecond)}, opts...)
	a, err := New(serverURL, basePath, store, opts...)
	require.NoError(t, err)
	return a
}

func TestAcquireRetries(t *testing.T) {
	t.Run("recovers after transient failures", func(t *testing.T) {
		cs := newFlakyServer(t, 2, http.StatusServiceUnavailable)
		res := newAcquirer(t, cs.srv.URL).Acquire(context.Background())

		require.NotNil(t, res.Data)
		assert.EqualValues(t, 3, cs.calls.Load())
		assert.Equal(t, storage.HealthHealthy, res.StorageHealth)
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		cs := newFlakyServer(t, 100, http.StatusBadGateway)
		res := newAcquirer(t, cs.srv.URL).Acquire(context.Background())

		assert.Equal(t, Degraded(), res)
		assert.Nil(t, res.Data)
		assert.EqualValues(t, MaxAttempts, cs.calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		cs := newFlakyServer(t, 100, http.StatusBadRequest)
		res := newAcquirer(t, cs.srv.URL).Acquire(context.Background())

		assert.Equal(t, Degraded(), res)
		assert.EqualValues(t, 1, cs.calls.Load())
	})

	t.Run("unreachable service", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		res := newAcquirer(t, url).Acquire(context.Background())
		assert.Equal(t, storage.HealthDegraded, res.StorageHealth)
		assert.True(t, res.DataCleared)
		assert.Zero(t, res.Confidence)
	})

	t.Run("backoff doubles from the base", func(t *testing.T) {
		cs := newFlakyServer(t, 100, http.StatusServiceUnavailable)
		start := time.Now()
		newAcquirer(t, cs.srv.URL, WithRetryBase(20*time.Millisecond)).Acquire(context.Background())
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	})
}

func TestAcquireRejectsInvalidID(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"qx7Id":"not-hex","persistenceMethod":"new","isReturning":false}`))
	}))
	defer srv.Close()

	res := newAcquirer(t, srv.URL).Acquire(context.Background())
	assert.Nil(t, res.Data)
	assert.EqualValues(t, 1, calls.Load())
}

func TestAcquireSendsSignals(t *testing.T) {
	requests := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r.Clone(context.Background())
		identityRouter().ServeHTTP(w, r)
	}))
	defer srv.Close()

	a := newAcquirer(t, srv.URL, WithHints(Hints{
		LimitedStorage: true,
		CognitoUserID:  "sub-1",
		RockmanID:      "rm-42",
		BearerToken:    "tok",
	}))
	res := a.Acquire(context.Background())

	require.NotNil(t, res.Data)
	got := <-requests
	assert.Equal(t, basePath+visitorid.PathStep1, got.URL.Path)
	assert.Equal(t, "rm-42", got.URL.Query().Get(visitorid.QueryRockmanID))
	assert.Equal(t, "true", got.Header.Get(visitorid.HeaderLimitedStorage))
	assert.Equal(t, "false", got.Header.Get(visitorid.HeaderIncognito))
	assert.Equal(t, "sub-1", got.Header.Get(visitorid.HeaderCognitoUserID))
	assert.Equal(t, "Bearer tok", got.Header.Get("Authorization"))
	assert.Empty(t, got.Header.Get(visitorid.HeaderClientID))
	assert.Equal(t, visitorid.MethodLimitedStorageRandom, res.Data.PersistenceMethod)
}
