package observability

import (
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

	// Authorization metrics
	AuthorizationsTotal   *prometheus.CounterVec
	AuthorizationDuration *prometheus.HistogramVec

	// Role assignment metrics
	RoleAssignmentsTotal *prometheus.CounterVec

	// Audit pipeline metrics
	AuditEventsTotal   *prometheus.CounterVec
	AuditFailuresTotal *prometheus.CounterVec

	// Admin email source
	AdminEmailsLoaded prometheus.Gauge
	AdminEmailReloads *prometheus.CounterVec

	// Rate limiting
	RateLimitedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drivewatch_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drivewatch_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthorizationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drivewatch_authorizations_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"resource", "outcome"},
		),
		AuthorizationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drivewatch_authorization_duration_seconds",
				Help:    "Authorization decision latency in seconds, including the user store read",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"resource"},
		),

		RoleAssignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drivewatch_role_assignments_total",
				Help: "Total number of role assignment attempts",
			},
			[]string{"new_role", "status"},
		),

		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drivewatch_audit_events_total",
				Help: "Total number of audit events written",
			},
			[]string{"event_type"},
		),
		AuditFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drivewatch_audit_failures_total",
				Help: "Total number of audit events that could not be written",
			},
			[]string{"event_type"},
		),

		AdminEmailsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "drivewatch_admin_emails_loaded",
				Help: "Number of admin emails currently configured",
			},
		),
		AdminEmailReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drivewatch_admin_email_reloads_total",
				Help: "Total number of admin email file reloads",
			},
			[]string{"status"},
		),

		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drivewatch_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"scope"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthorizationsTotal,
		m.AuthorizationDuration,
		m.RoleAssignmentsTotal,
		m.AuditEventsTotal,
		m.AuditFailuresTotal,
		m.AdminEmailsLoaded,
		m.AdminEmailReloads,
		m.RateLimitedTotal,
	)

	return m
}

// RecordAuthorization counts one authorization decision
func (m *Metrics) RecordAuthorization(resource string, authorized bool, duration time.Duration) {
	m.AuthorizationsTotal.WithLabelValues(resource, outcome(authorized)).Inc()
	m.AuthorizationDuration.WithLabelValues(resource).Observe(duration.Seconds())
}

// RecordRoleAssignment counts one role assignment attempt
func (m *Metrics) RecordRoleAssignment(newRole string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.RoleAssignmentsTotal.WithLabelValues(newRole, status).Inc()
}

// RecordAuditWrite counts one audit write and whether it failed
func (m *Metrics) RecordAuditWrite(eventType string, err error) {
	if err != nil {
		m.AuditFailuresTotal.WithLabelValues(eventType).Inc()
		return
	}
	m.AuditEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordAdminEmailReload tracks admin email file reloads
func (m *Metrics) RecordAdminEmailReload(count int, err error) {
	if err != nil {
		m.AdminEmailReloads.WithLabelValues("failure").Inc()
		return
	}
	m.AdminEmailReloads.WithLabelValues("success").Inc()
	m.AdminEmailsLoaded.Set(float64(count))
}

// RecordRateLimited counts one rejected request; scope is "actor" or "anonymous"
func (m *Metrics) RecordRateLimited(scope string) {
	m.RateLimitedTotal.WithLabelValues(scope).Inc()
}

func outcome(authorized bool) string {
	if authorized {
		return "allowed"
	}
	return "denied"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// routeName maps a request to a low-cardinality route label.
func HTTPMetricsMiddleware(metrics *Metrics, routeName func(*http.Request) string) func(http.Handler) http.Handler {
	if routeName == nil {
		routeName = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeName(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
