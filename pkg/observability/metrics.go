package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access gate metrics: outcome is one of allow, redirect_login,
	// redirect_org_select, force_logout
	GateDecisionsTotal *prometheus.CounterVec

	// RBAC metrics
	RoleMutationsTotal    *prometheus.CounterVec
	PermissionChecksTotal *prometheus.CounterVec

	// Session metrics
	SessionOperationsTotal *prometheus.CounterVec
	SessionsActive         prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fitstack_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fitstack_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fitstack_gate_decisions_total",
				Help: "Access gate decisions by gate name and outcome",
			},
			[]string{"gate", "outcome"},
		),
		RoleMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fitstack_role_mutations_total",
				Help: "Role assignment/revocation/task-toggle attempts by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fitstack_permission_checks_total",
				Help: "HasRole/task checks by result",
			},
			[]string{"result"},
		),
		SessionOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fitstack_session_operations_total",
				Help: "Session store operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fitstack_sessions_active",
				Help: "Number of active sessions",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fitstack_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fitstack_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GateDecisionsTotal,
		m.RoleMutationsTotal,
		m.PermissionChecksTotal,
		m.SessionOperationsTotal,
		m.SessionsActive,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordRoleMutation counts a role mutation attempt
func (m *Metrics) RecordRoleMutation(operation, outcome string) {
	m.RoleMutationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordPermissionCheck counts a permission check by result
func (m *Metrics) RecordPermissionCheck(allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.PermissionChecksTotal.WithLabelValues(result).Inc()
}

// RecordGateDecision counts an access gate decision
func (m *Metrics) RecordGateDecision(gate, outcome string) {
	m.GateDecisionsTotal.WithLabelValues(gate, outcome).Inc()
}

// RecordSessionOperation counts a session store operation
func (m *Metrics) RecordSessionOperation(operation, outcome string) {
	m.SessionOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// UpdateDBStats updates database connection pool gauges
func (m *Metrics) UpdateDBStats(db *sql.DB) {
	if db == nil {
		return
	}
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// InstrumentHandler wraps an HTTP handler with request metrics
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// statusWriter captures the response status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
