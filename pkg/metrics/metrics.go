// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feasgen_build_info",
			Help: "Build information of the feasgen service",
		},
		[]string{"version", "commit", "date"},
	)

	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feasgen_runs_started_total",
			Help: "Total number of pipeline runs started",
		},
	)

	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feasgen_runs_finished_total",
			Help: "Total number of pipeline runs finished, by terminal phase",
		},
		[]string{"phase"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feasgen_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"stage", "status"},
	)

	SubagentsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feasgen_subagents_in_flight",
			Help: "Number of subagent tasks currently executing",
		},
	)

	SubagentTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feasgen_subagent_tasks_total",
			Help: "Total number of subagent task executions, by terminal status",
		},
		[]string{"status"},
	)

	SubagentRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feasgen_subagent_retries_total",
			Help: "Total number of subagent task attempt retries",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feasgen_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feasgen_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise the raw path.
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
