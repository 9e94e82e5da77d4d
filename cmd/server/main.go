// Package main runs the identity service.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qx7/internal/identity"
	"qx7/internal/identity/handler"
	"qx7/internal/identity/metrics"
	jwttoken "qx7/internal/jwt_token"
	"qx7/internal/platform/config"
	"qx7/internal/platform/httpserver"
	"qx7/internal/platform/logger"
	"qx7/pkg/platform/httputil"
)

// main wires dependencies and keeps the server lifecycle small. Resolution
// logic lives in internal/identity.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logr := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, logr *slog.Logger) error {
	publisher, err := newPublisher(ctx, cfg.Analytics, logr)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer func() {
			if err := publisher.Close(); err != nil {
				logr.Warn("analytics publisher close failed", "error", err)
			}
		}()
	}

	opts := []handler.Option{handler.WithMetrics(metrics.New(nil))}
	if publisher != nil {
		opts = append(opts, handler.WithPublisher(publisher, cfg.Analytics.UTMCDN))
	}
	if cfg.JWTSigningKey != "" {
		opts = append(opts, handler.WithSubjectVerifier(jwttoken.NewSubjectService(cfg.JWTSigningKey, cfg.JWTIssuer)))
	}
	h := handler.New(identity.NewResolver(), logr, opts...)

	r := chi.NewRouter()
	r.Route(cfg.BasePath, h.Register)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return httpserver.Run(ctx, httpserver.New(cfg.Addr, r), logr, cfg.ShutdownGrace)
}
