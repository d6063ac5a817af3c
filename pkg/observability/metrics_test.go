package observability

import (
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	require.NotNil(t, metrics)

	t.Run("registering twice panics", func(t *testing.T) {
		assert.Panics(t, func() { NewMetrics(registry) })
	})
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePermissionCheck("tasks", "view", true, time.Millisecond)
		m.ObserveSnapshotError("member")
		m.ObserveStorage("members.get", time.Millisecond, nil)
		m.ObserveInvitation("notified")
		m.ObserveTeamSync("added", 2)
		m.SetMembersByStatus([]string{"active"}, map[string]int{"active": 1})
		m.SetDBStats(sql.DBStats{})
	})
}

func TestMetrics_Helpers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObservePermissionCheck("tasks", "view", true, time.Millisecond)
	m.ObservePermissionCheck("tasks", "view", false, time.Millisecond)
	m.ObservePermissionCheck("tasks", "view", false, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PermissionChecksTotal.WithLabelValues("tasks", "view", "allow")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PermissionChecksTotal.WithLabelValues("tasks", "view", "deny")))

	m.ObserveInvitation("prepared")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvitationsTotal.WithLabelValues("prepared")))

	m.ObserveTeamSync("added", 3)
	m.ObserveTeamSync("failed", 0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TeamSyncMembersTotal.WithLabelValues("added")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TeamSyncMembersTotal.WithLabelValues("failed")))

	m.SetMembersByStatus([]string{"open", "active"}, map[string]int{"active": 7})
	assert.Equal(t, 7.0, testutil.ToFloat64(m.MembersByStatus.WithLabelValues("active")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.MembersByStatus.WithLabelValues("open")))

	m.ObserveStorage("members.get", time.Millisecond, io.EOF)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageOperationsTotal.WithLabelValues("members.get", "error")))

	m.SetDBStats(sql.DBStats{OpenConnections: 4, InUse: 1, Idle: 3})
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DBConnectionsOpen))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DBConnectionsIdle))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m, func(*http.Request) string { return "/members/{id}" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("missing"))
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/members/123", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/members/{id}", "404")))

	t.Run("metrics endpoint exposes counters", func(t *testing.T) {
		rec := httptest.NewRecorder()
		MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), "trellis_http_requests_total"))
	})
}
