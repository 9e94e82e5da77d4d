package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"qx7/internal/platform/config"
	"qx7/internal/platform/redis"
	"qx7/pkg/client/acquire"
	"qx7/pkg/client/bridge"
	"qx7/pkg/client/clearing"
	"qx7/pkg/client/kv"
	"qx7/pkg/client/reqcache"
	"qx7/pkg/client/storage"
	"qx7/pkg/client/storage/cookie"
	"qx7/pkg/client/storage/keyvalue"
	"qx7/pkg/client/storage/sqlstore"
	"qx7/pkg/client/storage/worker"
)

// deps holds the client's wired components and the resources to release.
type deps struct {
	store    *storage.Orchestrator
	database *sqlstore.Backend
	cache    *reqcache.Cache
	detector *clearing.Detector
	bridge   *bridge.Bridge
	acquirer *acquire.Acquirer
	closers  []func() error
}

func (d *deps) close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

// wire builds the storage tiers from cfg. Tiers whose infrastructure is not
// configured are left out; a database that fails to open is skipped.
//
// Each run of the client continues one browsing session. The durable tier,
// the session tier and the request cache live in Redis when configured,
// otherwise in the database, otherwise in memory for this run only.
func wire(ctx context.Context, cfg config.Client, logr *slog.Logger, reg prometheus.Registerer) (*deps, error) {
	d := &deps{}
	var backends []storage.Backend

	var (
		durable   kv.Store         = kv.NewMemoryStore()
		session   kv.Store         = kv.NewMemoryStore()
		transport bridge.Transport = bridge.NewHub()
	)
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if rc != nil {
		d.closers = append(d.closers, rc.Close)
		durable = kv.NewRedisStore(rc.Client, cfg.Origin)
		session = kv.NewRedisStore(rc.Client, cfg.Origin+"#session")
		transport = bridge.NewRedisChannel(rc.Client, cfg.BridgeChannel)
	}

	if db, dialect, err := openDatabase(ctx, cfg); err != nil {
		logr.WarnContext(ctx, "database tier unavailable", "error", err)
	} else if db != nil {
		d.closers = append(d.closers, db.Close)
		database, err := sqlstore.Open(ctx, db, dialect, cfg.Origin)
		if err != nil {
			logr.WarnContext(ctx, "database tier unavailable", "error", err)
		} else {
			d.database = database
			if rc == nil {
				durable = database.KV("local")
				session = database.KV("session")
			}
		}
	}

	backends = append(backends,
		keyvalue.New(storage.KindKV, durable, ""),
		keyvalue.New(storage.KindSession, session, ""),
	)
	if d.database != nil {
		backends = append(backends, d.database)
	}

	jar, err := cookie.NewJar()
	if err != nil {
		_ = d.close()
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	cookies, err := cookie.New(jar, cfg.Origin, cfg.CookieName)
	if err != nil {
		_ = d.close()
		return nil, fmt.Errorf("create cookie tier: %w", err)
	}
	backends = append(backends, cookies)

	w := worker.Start(ctx)
	d.closers = append(d.closers, func() error {
		w.Stop()
		return nil
	})
	backends = append(backends, w)

	d.store = storage.New(backends,
		storage.WithLogger(logr),
		storage.WithMetrics(storage.NewMetrics(reg)),
	)

	d.cache, err = reqcache.Open(ctx, durable)
	if err != nil {
		logr.WarnContext(ctx, "request cache not loaded", "error", err)
		d.cache = reqcache.New()
	}
	d.detector = clearing.New(d.store, session, durable, d.cache,
		clearing.WithWorker(w),
		clearing.WithLogger(logr),
	)
	d.bridge = bridge.New(transport, d.store, cfg.Origin,
		bridge.WithAllowedOrigins(cfg.AllowedOrigins...),
		bridge.WithDetector(d.detector),
		bridge.WithLogger(logr),
	)

	d.acquirer, err = acquire.New(cfg.ServerURL, cfg.BasePath, d.store,
		acquire.WithDetector(d.detector),
		acquire.WithCache(d.cache),
		acquire.WithBroadcaster(d.bridge),
		acquire.WithHTTPClient(&http.Client{Jar: jar, Timeout: cfg.RequestTimeout}),
		acquire.WithLogger(logr),
		acquire.WithRetryBase(cfg.RetryBase),
		acquire.WithRecordTTL(cfg.RecordTTL),
		acquire.WithHints(acquire.Hints{
			Incognito:         cfg.Incognito,
			LimitedStorage:    cfg.LimitedStorage,
			CognitoUserID:     cfg.CognitoUserID,
			ReturningFromAuth: cfg.ReturningFromAuth,
			RockmanID:         cfg.RockmanID,
			BearerToken:       cfg.BearerToken,
		}),
	)
	if err != nil {
		_ = d.close()
		return nil, err
	}
	return d, nil
}

func openDatabase(ctx context.Context, cfg config.Client) (*sql.DB, sqlstore.Dialect, error) {
	switch {
	case cfg.SQLitePath != "":
		db, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
		return db, sqlstore.SQLite, err
	case cfg.PostgresDSN != "":
		db, err := sqlstore.OpenPostgres(ctx, cfg.PostgresDSN)
		return db, sqlstore.Postgres, err
	default:
		return nil, sqlstore.SQLite, nil
	}
}
