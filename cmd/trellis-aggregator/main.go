package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/trellis/pkg/config"
	"github.com/platinummonkey/trellis/pkg/members"
	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/storage/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func main() {
	runOnce := flag.Bool("run-once", false, "Refresh the gauges once, log the counts and exit")
	flag.Parse()

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "trellis-aggregator")

	svcLogger := logrus.New()
	svcLogger.SetFormatter(&logrus.JSONFormatter{})

	cm, err := postgres.NewConnectionManager(cfg.Database.ConnectionConfig(), svcLogger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Counts tolerate replica lag
	store := members.NewStore(cm.Replica())
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	refresh := func() {
		defer observability.RecoverPanic(logger, "member gauge refresh")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		start := time.Now()
		if err := members.RefreshGauges(ctx, store, metrics); err != nil {
			logger.WithError(err).Error("member gauge refresh failed")
			return
		}
		metrics.SetDBStats(cm.Primary().Stats())
		logger.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("member gauges refreshed")
	}

	if *runOnce {
		counts, err := store.CountByStatus(context.Background())
		cm.Close()
		if err != nil {
			log.Fatalf("Count failed: %v", err)
		}
		for _, s := range members.Statuses {
			logger.WithField("status", s).WithField("count", counts[s]).Info("members")
		}
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Aggregator.Schedule, refresh); err != nil {
		log.Fatalf("Failed to schedule gauge refresh: %v", err)
	}

	health := observability.NewHealthChecker(version).
		AddCheck("postgres", true, observability.DatabaseCheck(cm.Primary()))

	router := mux.NewRouter()
	router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	router.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("postgres", func(context.Context) error { return cm.Close() })
	shutdown.Register("cron", func(ctx context.Context) error {
		select {
		case <-c.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	refresh()
	c.Start()

	go func() {
		defer observability.RecoverPanic(logger, "metrics server")
		logger.WithField("addr", httpServer.Addr).
			WithField("schedule", cfg.Aggregator.Schedule).
			Info("trellis aggregator started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()

	if err := shutdown.WaitForShutdown(context.Background()); err != nil {
		logger.WithError(err).Error("shutdown incomplete")
		os.Exit(1)
	}
}
