package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Decision metrics
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_decisions_total",
			Help: "Routing decisions by priority tier, venue and outcome",
		},
		[]string{"tier", "venue", "outcome"},
	)

	decisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routing_decision_duration_seconds",
			Help:    "Routing decision latency by priority tier",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"tier"},
	)

	routingErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_errors_total",
			Help: "Routing failures by error kind",
		},
		[]string{"kind"},
	)

	// Fleet metrics
	agentsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agents_registered",
			Help: "Number of agents currently in the registry",
		},
	)
)

// MetricsMiddleware records HTTP request metrics.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics for WebSocket upgrade requests
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// MetricsHandler returns the Prometheus metrics handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordDecision records one finalized routing decision.
func RecordDecision(tier, venue string, assigned bool, processingMS float64) {
	outcome := "assigned"
	if !assigned {
		outcome = "no_assignment"
	}
	decisionsTotal.WithLabelValues(tier, venue, outcome).Inc()
	decisionDuration.WithLabelValues(tier).Observe(processingMS / 1000.0)
}

// RecordRoutingError records a routing failure by taxonomy kind.
func RecordRoutingError(kind string) {
	routingErrorsTotal.WithLabelValues(kind).Inc()
}

// SetRegisteredAgents sets the current registry size.
func SetRegisteredAgents(count int) {
	agentsRegistered.Set(float64(count))
}
