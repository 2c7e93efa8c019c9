// Package metrics provides Prometheus instrumentation for the router and
// storage façade.
//
// Standard metrics exposed automatically by prometheus/client_golang:
//   - go_goroutines, go_gc_duration_seconds, etc. (Go runtime)
//   - process_cpu_seconds_total, process_open_fds, etc. (process)
//
// Library-specific metrics registered here:
//   pushduck_http_requests_total        — counter: router requests by route/action/status
//   pushduck_http_request_duration_seconds — histogram: router latency by route/action
//   pushduck_validation_failures_total  — counter: per-file schema validation failures by route/field
//   pushduck_signer_calls_total         — counter: signer invocations by operation
//   pushduck_presigned_urls_total       — counter: presigned URLs issued by route
//   pushduck_completions_total          — counter: upload completions by route/outcome
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ── Counters ──────────────────────────────────────────────────────────────────

// HTTPRequests counts router requests by route, action (presign/complete),
// and response status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pushduck_http_requests_total",
	Help: "Total requests handled by the upload router.",
}, []string{"route", "action", "status"})

// ValidationFailures counts per-file schema validation failures by route and
// the failing field (size, type).
var ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pushduck_validation_failures_total",
	Help: "Per-file schema validation failures.",
}, []string{"route", "field"})

// SignerCalls counts signer invocations by operation (sign, presign).
var SignerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pushduck_signer_calls_total",
	Help: "Signer invocations by operation.",
}, []string{"operation"})

// PresignedURLs counts presigned URLs issued, by route.
var PresignedURLs = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pushduck_presigned_urls_total",
	Help: "Presigned URLs issued, by route.",
}, []string{"route"})

// Completions counts upload completion calls by route and outcome (ok/error).
var Completions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pushduck_completions_total",
	Help: "Upload completion calls, by route and outcome.",
}, []string{"route", "outcome"})

// ── Histograms ────────────────────────────────────────────────────────────────

// HTTPDuration tracks router request latency by route and action.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "pushduck_http_request_duration_seconds",
	Help:    "Router request latency in seconds.",
	Buckets: prometheus.DefBuckets, // .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
}, []string{"route", "action"})

// ── Handler ───────────────────────────────────────────────────────────────────

// Handler returns the Prometheus HTTP handler for a /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ── Middleware ────────────────────────────────────────────────────────────────

// Middleware wraps the router's handler to record request counts and latency.
// route and action are resolved by the caller from the parsed request body
// (action is "presign" or "complete"; route is "" when it could not be
// determined, e.g. a malformed body).
func Middleware(route, action string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		HTTPRequests.WithLabelValues(route, action, status).Inc()
		HTTPDuration.WithLabelValues(route, action).Observe(dur)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// ── Init (registry-scoped) ────────────────────────────────────────────────────

// Init registers a fresh copy of every metric above with the given
// prometheus.Registerer. Pass prometheus.NewRegistry() to get an isolated
// registry for tests; production code relies on the promauto package-level
// vars above, registered to prometheus.DefaultRegisterer at init time.
func Init(reg prometheus.Registerer) {
	httpReqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pushduck_http_requests_total",
		Help: "Total requests handled by the upload router.",
	}, []string{"route", "action", "status"})

	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pushduck_http_request_duration_seconds",
		Help:    "Router request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "action"})

	validationFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pushduck_validation_failures_total",
		Help: "Per-file schema validation failures.",
	}, []string{"route", "field"})

	signerCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pushduck_signer_calls_total",
		Help: "Signer invocations by operation.",
	}, []string{"operation"})

	presignedURLs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pushduck_presigned_urls_total",
		Help: "Presigned URLs issued, by route.",
	}, []string{"route"})

	completions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pushduck_completions_total",
		Help: "Upload completion calls, by route and outcome.",
	}, []string{"route", "outcome"})

	reg.MustRegister(
		httpReqs,
		httpDur,
		validationFailures,
		signerCalls,
		presignedURLs,
		completions,
	)
}
