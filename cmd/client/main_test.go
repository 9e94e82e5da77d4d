package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qx7/internal/identity"
	"qx7/internal/identity/handler"
	"qx7/internal/platform/config"
	"qx7/internal/platform/logger"
	"qx7/pkg/client/acquire"
	"qx7/pkg/client/storage/cookie"
	"qx7/pkg/visitorid"
)

func newService(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/api/qx7", handler.New(identity.NewResolver(), logger.Discard()).Register)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func clientConfig(t *testing.T, serverURL string) config.Client {
	t.Helper()
	return config.Client{
		ServerURL:      serverURL,
		BasePath:       "/api/qx7",
		Origin:         "https://shop.example.com",
		SQLitePath:     filepath.Join(t.TempDir(), "qx7.db"),
		CookieName:     "qx7_id",
		RecordTTL:      time.Hour,
		RetryBase:      time.Millisecond,
		RequestTimeout: time.Second,
	}
}

func runCommand(t *testing.T, command string, cfg config.Client) (*bytes.Buffer, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), command, cfg, logger.Discard(), prometheus.NewRegistry(), &out)
	return &out, err
}

func acquireOnce(t *testing.T, cfg config.Client) acquire.Result {
	t.Helper()
	out, err := runCommand(t, "acquire", cfg)
	require.NoError(t, err)
	var res acquire.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.NotNil(t, res.Data)
	return res
}

func TestClientLifecycle(t *testing.T) {
	cfg := clientConfig(t, newService(t).URL)

	first := acquireOnce(t, cfg)
	assert.True(t, visitorid.IsValid(first.Data.Qx7ID))
	assert.True(t, first.DataCleared)
	assert.False(t, first.Data.IsReturning)

	out, err := runCommand(t, "read", cfg)
	require.NoError(t, err)
	var read map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &read))
	assert.Equal(t, first.Data.Qx7ID, read["qx7Id"])

	out, err = runCommand(t, "detect", cfg)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"dataCleared": false`)

	second := acquireOnce(t, cfg)
	assert.Equal(t, first.Data.Qx7ID, second.Data.Qx7ID)
	assert.True(t, second.Data.IsReturning)
	assert.False(t, second.DataCleared)
	assert.Zero(t, second.Confidence)

	out, err = runCommand(t, "purge", cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"purged":0}`, out.String())

	_, err = runCommand(t, "forget", cfg)
	require.NoError(t, err)

	_, err = runCommand(t, "read", cfg)
	assert.ErrorIs(t, err, errNoIdentity)

	third := acquireOnce(t, cfg)
	assert.NotEqual(t, first.Data.Qx7ID, third.Data.Qx7ID)
	assert.True(t, third.DataCleared)
	assert.False(t, third.Data.IsReturning)
}

func TestClientWithoutDatabaseForgetsBetweenRuns(t *testing.T) {
	cfg := clientConfig(t, newService(t).URL)
	cfg.SQLitePath = ""

	first := acquireOnce(t, cfg)
	second := acquireOnce(t, cfg)
	assert.NotEqual(t, first.Data.Qx7ID, second.Data.Qx7ID)
	assert.True(t, second.DataCleared)
}

func TestClientSendsCookieTier(t *testing.T) {
	cookies := make(chan string, 4)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if c, err := req.Cookie("qx7_id"); err == nil {
				select {
				case cookies <- c.Value:
				default:
				}
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/api/qx7", handler.New(identity.NewResolver(), logger.Discard()).Register)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	cfg := clientConfig(t, srv.URL)
	cfg.Origin = srv.URL
	ctx := context.Background()
	d, err := wire(ctx, cfg, logger.Discard(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.close() })

	first := d.acquirer.Acquire(ctx)
	require.NotNil(t, first.Data)
	assert.Empty(t, cookies, "no cookie before the first write")

	second := d.acquirer.Acquire(ctx)
	require.NotNil(t, second.Data)
	assert.Equal(t, first.Data.Qx7ID, second.Data.Qx7ID)

	select {
	case value := <-cookies:
		rec, err := cookie.Decode(value)
		require.NoError(t, err)
		assert.Equal(t, first.Data.Qx7ID, rec.ID)
	default:
		t.Fatal("cookie tier never reached the service")
	}
}

func TestClientDegradedWhenServiceDown(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	out, err := runCommand(t, "acquire", clientConfig(t, url))
	require.NoError(t, err)

	var res acquire.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Nil(t, res.Data)
	assert.Equal(t, "degraded", res.StorageHealth)
}

func TestClientCommands(t *testing.T) {
	cfg := clientConfig(t, newService(t).URL)

	out, err := runCommand(t, "detect", cfg)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"dataCleared": true`)

	_, err = runCommand(t, "bogus", cfg)
	assert.Error(t, err)

	cfg.SQLitePath = ""
	_, err = runCommand(t, "purge", cfg)
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestPrintMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "hits_total", Help: "h"}, []string{"backend"})
	reg.MustRegister(c)
	c.WithLabelValues("kv").Add(2)
	c.WithLabelValues("cookie")

	var out bytes.Buffer
	require.NoError(t, printMetrics(&out, reg))
	assert.Equal(t, "hits_total{backend=\"kv\"} 2\n", out.String())
}
