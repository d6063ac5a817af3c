package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/trellis/pkg/accessors"
	"github.com/platinummonkey/trellis/pkg/accounts"
	"github.com/platinummonkey/trellis/pkg/api"
	"github.com/platinummonkey/trellis/pkg/config"
	"github.com/platinummonkey/trellis/pkg/identity"
	"github.com/platinummonkey/trellis/pkg/locks"
	"github.com/platinummonkey/trellis/pkg/members"
	"github.com/platinummonkey/trellis/pkg/notify"
	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/rbac"
	"github.com/platinummonkey/trellis/pkg/resolver"
	"github.com/platinummonkey/trellis/pkg/storage/postgres"
	"github.com/platinummonkey/trellis/pkg/teams"
	"github.com/platinummonkey/trellis/pkg/visibility"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "Apply database migrations and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "trellis")
	svcLogger := newServiceLogger(cfg.Observability.LogLevel)

	if err := run(cfg, *migrateOnly, logger, svcLogger); err != nil {
		logger.WithError(err).Error("trellis exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, migrateOnly bool, logger *observability.Logger, svcLogger *logrus.Logger) error {
	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}

	cm, err := postgres.NewConnectionManager(cfg.Database.ConnectionConfig(), svcLogger)
	if err != nil {
		return err
	}

	if cfg.Database.MigrateOnStart || migrateOnly {
		if err := postgres.Migrate(ctx, cm.Primary(), svcLogger, migrationSets()...); err != nil {
			cm.Close()
			return err
		}
	}
	if migrateOnly {
		logger.Info("migrations applied")
		return cm.Close()
	}

	healthCtx, stopHealth := context.WithCancel(ctx)
	cm.StartHealthCheckRoutine(healthCtx, 30*time.Second)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	health := observability.NewHealthChecker(version).
		AddCheck("postgres", true, observability.DatabaseCheck(cm.Primary()))

	var redisClient *redis.Client
	var locker locks.Locker = locks.NewLocalLocker(cfg.Redis.LockWait)
	if cfg.Redis.Enabled() {
		redisClient, err = postgres.NewRedisClient(cfg.Redis.ClientConfig())
		if err != nil {
			stopHealth()
			cm.Close()
			return err
		}
		locker = locks.NewRedisLocker(redisClient, cfg.Redis.LockConfig())
		health.AddCheck("redis", false, observability.RedisCheck(redisClient))
	} else {
		logger.Warn("redis is not configured; invite locks are local to this process")
	}

	verifier, err := identity.NewOIDCVerifier(ctx, cfg.Identity.OIDC())
	if err != nil {
		stopHealth()
		cm.Close()
		return err
	}

	templates := rbac.DefaultTemplates()
	if cfg.Permissions.RoleTemplatesPath != "" {
		templates, err = rbac.LoadTemplates(cfg.Permissions.RoleTemplatesPath)
		if err != nil {
			stopHealth()
			cm.Close()
			return err
		}
	}

	// Writes go to the primary. Permission checks read from a replica.
	roleStore := rbac.NewStore(cm.Primary())
	catalog := rbac.NewCatalog(roleStore, cfg.Permissions.CatalogCacheTTL)
	registryRoles := rbac.NewRegistry(roleStore, svcLogger)
	directory := accessors.NewDirectory(cm.Primary(), svcLogger)
	memberStore := members.NewStore(cm.Primary())
	teamStore := teams.NewStore(cm.Primary())
	engine := visibility.NewEngine(cm.Primary(), catalog, svcLogger)

	readRoles := rbac.NewStore(cm.Replica())
	readCatalog := rbac.NewCatalog(readRoles, cfg.Permissions.CatalogCacheTTL)
	checker := resolver.NewChecker(resolver.Deps{
		Projects:   readRoles,
		Members:    members.NewStore(cm.Replica()),
		Roles:      readRoles,
		Visibility: visibility.NewEngine(cm.Replica(), readCatalog, svcLogger),
		Modules:    readCatalog,
		Metrics:    metrics,
		Logger:     svcLogger,
	})

	var notifier notify.Notifier = notify.NewLogNotifier(svcLogger)
	if cfg.Notifier.Kind == "http" {
		notifier = notify.NewHTTPNotifier(cfg.Notifier.HTTP(), svcLogger)
	}

	var accountDir members.AccountDirectory
	if cfg.Accounts.Enabled() {
		accountDir = accounts.NewHTTPDirectory(cfg.Accounts.Directory(), svcLogger)
	}

	memberService := members.NewService(members.Deps{
		Store:     memberStore,
		Roles:     registryRoles,
		Projects:  roleStore,
		Accessors: directory,
		Teams:     teamStore,
		Accounts:  accountDir,
		Notifier:  notifier,
		Metrics:   metrics,
		Logger:    svcLogger,
	})

	deps := api.Deps{
		Checker:      checker,
		Projects:     roleStore,
		Roles:        registryRoles,
		Modules:      catalog,
		Accessors:    directory,
		Members:      memberService,
		Teams:        teamStore,
		Visibility:   engine,
		Locker:       locker,
		Verifier:     verifier,
		Templates:    templates,
		Logger:       logger,
		Metrics:      metrics,
		Health:       health,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Registry = registry
	}
	server := api.NewServer(deps)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("postgres", func(context.Context) error { return cm.Close() })
	shutdown.Register("replica health", func(context.Context) error { stopHealth(); return nil })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("otel", otelProviders.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		defer observability.RecoverPanic(logger, "http server")
		logger.WithFields(map[string]any{
			"addr":     httpServer.Addr,
			"version":  version,
			"replicas": len(cfg.Database.ReplicaURLs),
			"notifier": cfg.Notifier.Kind,
		}).Info("starting trellis")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- shutdown.WaitForShutdown(sigCtx) }()

	select {
	case err := <-serveErr:
		cancel()
		return errors.Join(err, <-done)
	case err := <-done:
		return err
	}
}

func migrationSets() []postgres.MigrationSet {
	return []postgres.MigrationSet{
		rbac.Migrations(),
		accessors.Migrations(),
		teams.Migrations(),
		members.Migrations(),
		visibility.Migrations(),
	}
}

func newServiceLogger(level observability.LogLevel) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(strings.ToLower(level.String())); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}
