// Package observability carries the HTTP-facing ambient stack: a slog JSON
// logger bound to request context, Prometheus metrics for permission checks
// and membership, OpenTelemetry export, health checks, panic recovery and
// graceful shutdown.
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.ObservePermissionCheck("tasks", "view", true, time.Since(start))
//
//	health := observability.NewHealthChecker(version).
//		AddCheck("database", true, observability.DatabaseCheck(db)).
//		AddCheck("redis", false, observability.RedisCheck(client))
//
// Services below the HTTP layer log through logrus; this logger is used by
// handlers and middleware, where the request id and caller are on the
// context.
package observability
