package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every Observe/Set helper is safe on a
// nil *Metrics so components can run without instrumentation.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Permission metrics
	PermissionChecksTotal   *prometheus.CounterVec
	PermissionCheckDuration *prometheus.HistogramVec
	SnapshotLoadErrorsTotal *prometheus.CounterVec

	// Membership metrics
	InvitationsTotal     *prometheus.CounterVec
	TeamSyncMembersTotal *prometheus.CounterVec
	MembersByStatus      *prometheus.GaugeVec

	// Database metrics
	DBConnectionsOpen   prometheus.Gauge
	DBConnectionsInUse  prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBConnectionsWaited prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trellis_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trellis_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		// Storage metrics
		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_storage_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trellis_storage_operation_duration_seconds",
				Help:    "Store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),

		// Permission metrics
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_permission_checks_total",
				Help: "Total number of permission checks",
			},
			[]string{"module", "operation", "result"},
		),
		PermissionCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trellis_permission_check_duration_seconds",
				Help:    "Permission check duration in seconds, snapshot loading included",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"operation"},
		),
		SnapshotLoadErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_snapshot_load_errors_total",
				Help: "Snapshot reads that failed and degraded a check to deny",
			},
			[]string{"source"},
		),

		// Membership metrics
		InvitationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_invitations_total",
				Help: "Total number of invitations emitted",
			},
			[]string{"result"},
		),
		TeamSyncMembersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_team_sync_members_total",
				Help: "Accounts processed by team sync",
			},
			[]string{"outcome"},
		),
		MembersByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trellis_members",
				Help: "Project members by lifecycle status",
			},
			[]string{"status"},
		),

		// Database metrics
		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trellis_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trellis_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trellis_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaited: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trellis_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.PermissionChecksTotal,
		m.PermissionCheckDuration,
		m.SnapshotLoadErrorsTotal,
		m.InvitationsTotal,
		m.TeamSyncMembersTotal,
		m.MembersByStatus,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaited,
	)

	return m
}

// ObservePermissionCheck records the outcome of one permission check
func (m *Metrics) ObservePermissionCheck(module, operation string, allowed bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.PermissionChecksTotal.WithLabelValues(module, operation, result).Inc()
	m.PermissionCheckDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveSnapshotError counts a failed snapshot read
func (m *Metrics) ObserveSnapshotError(source string) {
	if m == nil {
		return
	}
	m.SnapshotLoadErrorsTotal.WithLabelValues(source).Inc()
}

// ObserveStorage records one store operation
func (m *Metrics) ObserveStorage(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveInvitation counts an invitation by result: notified, prepared or failed
func (m *Metrics) ObserveInvitation(result string) {
	if m == nil {
		return
	}
	m.InvitationsTotal.WithLabelValues(result).Inc()
}

// ObserveTeamSync counts team-sync outcomes: added, skipped or failed
func (m *Metrics) ObserveTeamSync(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.TeamSyncMembersTotal.WithLabelValues(outcome).Add(float64(n))
}

// SetMembersByStatus replaces the member gauges. Statuses missing from counts
// are reset to zero.
func (m *Metrics) SetMembersByStatus(statuses []string, counts map[string]int) {
	if m == nil {
		return
	}
	for _, s := range statuses {
		m.MembersByStatus.WithLabelValues(s).Set(float64(counts[s]))
	}
}

// SetDBStats copies connection pool stats into the gauges
func (m *Metrics) SetDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaited.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// routeOf maps a request to a low-cardinality route label; nil uses the path.
func HTTPMetricsMiddleware(metrics *Metrics, routeOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if routeOf != nil {
				route = routeOf(r)
			}
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
