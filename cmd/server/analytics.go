package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"qx7/internal/analytics"
	"qx7/internal/platform/config"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// newPublisher picks the Kafka sink when brokers are configured, otherwise the
// HTTP collector. It returns nil when neither is set.
func newPublisher(ctx context.Context, cfg config.Analytics, logr *slog.Logger) (*analytics.Publisher, error) {
	var sink analytics.Sink
	switch {
	case len(cfg.KafkaBrokers) > 0:
		ks, err := analytics.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("create kafka sink: %w", err)
		}
		if err := ks.EnsureTopic(ctx, 1, 1); err != nil {
			logr.Warn("analytics topic not ensured", "topic", cfg.KafkaTopic, "error", err)
		}
		sink = ks
		logr.Info("analytics delivery via kafka", "topic", cfg.KafkaTopic)
	case cfg.Endpoint != "":
		sink = analytics.NewHTTPSink(cfg.Endpoint, &http.Client{Timeout: cfg.Timeout})
		logr.Info("analytics delivery via http", "endpoint", cfg.Endpoint)
	default:
		logr.Info("analytics delivery disabled")
		return nil, nil
	}

	return analytics.NewPublisher(sink, logr,
		analytics.WithBuffer(cfg.Buffer),
		analytics.WithTimeout(cfg.Timeout),
		analytics.WithMetrics(analytics.NewMetrics(nil)),
		analytics.WithCircuitBreaker(analytics.NewCircuitBreaker(breakerThreshold, breakerCooldown)),
	), nil
}
