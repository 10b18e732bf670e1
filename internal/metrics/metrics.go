package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the Sparkgate engine.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Query dispatch metrics.
	QueriesTotal         *prometheus.CounterVec
	QuerySparksTotal     *prometheus.CounterVec
	FallbackAdvanceTotal *prometheus.CounterVec
	ActiveQueries        prometheus.Gauge

	// Upstream call metrics.
	UpstreamCallsTotal     *prometheus.CounterVec
	UpstreamCallDuration   *prometheus.HistogramVec
	UpstreamErrorsTotal    *prometheus.CounterVec
	BreakerRejectionsTotal *prometheus.CounterVec

	// Budget metrics.
	BudgetRejectionsTotal *prometheus.CounterVec
	OverdraftsTotal       prometheus.Counter

	// Rate limiting.
	RateLimitRejectionsTotal prometheus.Counter

	// Charge collector metrics.
	CollectorBufferSize   prometheus.Gauge
	CollectorFlushesTotal *prometheus.CounterVec
	CollectorChargesTotal prometheus.Counter

	// Auth metrics.
	AuthFailuresTotal  *prometheus.CounterVec
	AuthSuccessesTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkgate_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sparkgate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkgate_queries_total",
			Help: "Total number of query dispatches by mode and outcome.",
		}, []string{"mode", "outcome"}),

		QuerySparksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkgate_query_sparks_total",
			Help: "Total sparks charged by dispatch mode.",
		}, []string{"mode"}),

		FallbackAdvanceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkgate_fallback_advances_total",
			Help: "Total number of fallback advances past a failed candidate.",
		}, []string{"model_id"}),

		ActiveQueries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sparkgate_active_queries",
			Help: "Number of query dispatches currently in flight.",
		}),

		UpstreamCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkgate_upstream_calls_total",
			Help: "Total number of upstream model calls by status.",
		}, []string{"model_id", "status"}),

		UpstreamCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sparkgate_upstream_call_duration_seconds",
			Help:    "Upstream call duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model_id"}),

		UpstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkgate_upstream_errors_total",
			Help: "Total number of upstream call errors by error type.",
		}, []string{"error_type", "model_id"}),

		BreakerRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkgate_breaker_rejections_total",
			Help: "Total number of calls rejected by an open provider breaker.",
		}, []string{"family"}),

		BudgetRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkgate_budget_rejections_total",
			Help: "Total number of authorization rejections by reason.",
		}, []string{"reason"}),

		OverdraftsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sparkgate_overdrafts_total",
			Help: "Total number of settlements that exceeded the available balance.",
		}),

		RateLimitRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sparkgate_ratelimit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter.",
		}),

		CollectorBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sparkgate_collector_buffer_size",
			Help: "Current number of buffered charge records.",
		}),

		CollectorFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkgate_collector_flushes_total",
			Help: "Total number of charge collector flushes.",
		}, []string{"status"}),

		CollectorChargesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sparkgate_collector_charges_total",
			Help: "Total number of charge records recorded.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkgate_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparkgate_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"auth_type"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sparkgate_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	// Register all metrics.
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.QueriesTotal,
		m.QuerySparksTotal,
		m.FallbackAdvanceTotal,
		m.ActiveQueries,
		m.UpstreamCallsTotal,
		m.UpstreamCallDuration,
		m.UpstreamErrorsTotal,
		m.BreakerRejectionsTotal,
		m.BudgetRejectionsTotal,
		m.OverdraftsTotal,
		m.RateLimitRejectionsTotal,
		m.CollectorBufferSize,
		m.CollectorFlushesTotal,
		m.CollectorChargesTotal,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.ServerStartTime,
	)

	// Set server start time.
	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// IncQuery increments the query counter for the given mode and outcome.
func (m *Metrics) IncQuery(mode, outcome string) {
	m.QueriesTotal.WithLabelValues(mode, outcome).Inc()
}

// AddQuerySparks adds settled sparks to the per-mode spend counter.
func (m *Metrics) AddQuerySparks(mode string, sparks float64) {
	m.QuerySparksTotal.WithLabelValues(mode).Add(sparks)
}

// IncFallbackAdvance counts a fallback advance past the given failed model.
func (m *Metrics) IncFallbackAdvance(modelID string) {
	m.FallbackAdvanceTotal.WithLabelValues(modelID).Inc()
}

// IncUpstreamCall increments the upstream call counter.
func (m *Metrics) IncUpstreamCall(modelID, status string) {
	m.UpstreamCallsTotal.WithLabelValues(modelID, status).Inc()
}

// ObserveUpstreamDuration records the upstream call duration.
func (m *Metrics) ObserveUpstreamDuration(modelID string, seconds float64) {
	m.UpstreamCallDuration.WithLabelValues(modelID).Observe(seconds)
}

// IncUpstreamError increments the upstream error counter with error type
// classification.
func (m *Metrics) IncUpstreamError(errorType, modelID string) {
	m.UpstreamErrorsTotal.WithLabelValues(errorType, modelID).Inc()
}

// IncBudgetRejection increments the budget rejection counter for a reason
// such as "insufficient_balance" or "budget_too_low".
func (m *Metrics) IncBudgetRejection(reason string) {
	m.BudgetRejectionsTotal.WithLabelValues(reason).Inc()
}

// IncOverdraft counts a settlement whose charges exceeded the balance.
func (m *Metrics) IncOverdraft() {
	m.OverdraftsTotal.Inc()
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}

// IncAuthSuccess increments the auth success counter for the given auth type.
func (m *Metrics) IncAuthSuccess(authType string) {
	m.AuthSuccessesTotal.WithLabelValues(authType).Inc()
}

// IncHTTPRequest increments the HTTP request counter.
func (m *Metrics) IncHTTPRequest(method, pathPattern string, statusCode int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, fmt.Sprintf("%d", statusCode)).Inc()
}
