package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	stageDurationBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}
	scoreBuckets         = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 1}
)

// Stage outcome label values.
const (
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
	OutcomeHeld     = "held"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
)

// Metrics holds the Prometheus instruments for specflow. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Workflows
	WorkflowStartsTotal *prometheus.CounterVec
	StageRunsTotal      *prometheus.CounterVec
	StageDuration       *prometheus.HistogramVec
	ReviewScore         *prometheus.HistogramVec
	WorkflowsTracked    prometheus.Gauge

	// Approvals
	ApprovalRequestsTotal  prometheus.Counter
	ApprovalDecisionsTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all instruments on reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "specflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "specflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		WorkflowStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "specflow_workflow_starts_total",
			Help: "Total number of workflow starts.",
		}, []string{"source"}),
		StageRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "specflow_stage_runs_total",
			Help: "Total number of stage executions by outcome.",
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "specflow_stage_duration_seconds",
			Help:    "Stage execution duration in seconds.",
			Buckets: stageDurationBuckets,
		}, []string{"stage"}),
		ReviewScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "specflow_review_score",
			Help:    "Primary review score per document stage.",
			Buckets: scoreBuckets,
		}, []string{"stage"}),
		WorkflowsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "specflow_workflows_tracked",
			Help: "Number of workflows held in memory.",
		}),

		ApprovalRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "specflow_approval_requests_total",
			Help: "Total number of approval requests sent.",
		}),
		ApprovalDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "specflow_approval_decisions_total",
			Help: "Total number of approval decisions received.",
		}, []string{"decision"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WorkflowStartsTotal,
		m.StageRunsTotal,
		m.StageDuration,
		m.ReviewScore,
		m.WorkflowsTracked,
		m.ApprovalRequestsTotal,
		m.ApprovalDecisionsTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordWorkflowStart records a workflow start from source (webhook, cli, api, mcp).
func (m *Metrics) RecordWorkflowStart(source string) {
	if m == nil {
		return
	}
	m.WorkflowStartsTotal.WithLabelValues(source).Inc()
}

// RecordStage records one stage execution.
func (m *Metrics) RecordStage(stage, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StageRunsTotal.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordReviewScore records a primary review score.
func (m *Metrics) RecordReviewScore(stage string, score float64) {
	if m == nil {
		return
	}
	m.ReviewScore.WithLabelValues(stage).Observe(score)
}

// SetWorkflowsTracked sets the number of in-memory workflows.
func (m *Metrics) SetWorkflowsTracked(n int) {
	if m == nil {
		return
	}
	m.WorkflowsTracked.Set(float64(n))
}

// RecordApprovalRequest records an outbound approval request.
func (m *Metrics) RecordApprovalRequest() {
	if m == nil {
		return
	}
	m.ApprovalRequestsTotal.Inc()
}

// RecordApprovalDecision records an inbound human decision.
func (m *Metrics) RecordApprovalDecision(decision string) {
	if m == nil {
		return
	}
	m.ApprovalDecisionsTotal.WithLabelValues(decision).Inc()
}

// --- HTTP Middleware ---

// Middleware records request metrics using chi's route pattern rather than
// the raw path to keep label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
