package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const apiSubsystem = "api"

var (
	// HTTP request metrics for the control-plane API (status, load,
	// unload, pause/resume, config reload).
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hmr",
			Subsystem: apiSubsystem,
			Name:      "http_requests_total",
			Help:      "Total number of control-plane HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hmr",
			Subsystem: apiSubsystem,
			Name:      "http_request_duration_seconds",
			Help:      "Control-plane HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hmr",
			Subsystem: apiSubsystem,
			Name:      "http_requests_in_flight",
			Help:      "Number of control-plane HTTP requests currently being processed",
		},
		[]string{"method", "endpoint"},
	)

	httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hmr",
			Subsystem: apiSubsystem,
			Name:      "http_request_size_bytes",
			Help:      "Control-plane HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "endpoint"},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hmr",
			Subsystem: apiSubsystem,
			Name:      "http_response_size_bytes",
			Help:      "Control-plane HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "endpoint"},
	)
)

// MetricsMiddleware instruments the control-plane HTTP API with
// Prometheus metrics (hmr_api_http_*).
//
// Metrics collected:
//   - hmr_api_http_requests_total (counter) - Total requests by method, endpoint, status
//   - hmr_api_http_request_duration_seconds (histogram) - Request duration
//   - hmr_api_http_requests_in_flight (gauge) - Active requests
//   - hmr_api_http_request_size_bytes (histogram) - Request size
//   - hmr_api_http_response_size_bytes (histogram) - Response size
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Normalize endpoint path for metrics (avoid high cardinality)
		endpoint := normalizeEndpoint(r.URL.Path)
		method := r.Method

		// Track in-flight requests
		httpRequestsInFlight.WithLabelValues(method, endpoint).Inc()
		defer httpRequestsInFlight.WithLabelValues(method, endpoint).Dec()

		// Wrap response writer to capture status and size
		rw := &metricsResponseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Record request size
		if r.ContentLength > 0 {
			httpRequestSize.WithLabelValues(method, endpoint).Observe(float64(r.ContentLength))
		}

		// Call next handler
		next.ServeHTTP(rw, r)

		// Calculate duration
		duration := time.Since(start).Seconds()

		// Record metrics
		status := strconv.Itoa(rw.statusCode)
		httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
		httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
		httpResponseSize.WithLabelValues(method, endpoint).Observe(float64(rw.size))
	})
}

// metricsResponseWriter wraps http.ResponseWriter for metrics collection
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// normalizeEndpoint normalizes URL paths to reduce cardinality in metrics
// Replaces dynamic segments (module IDs, versions) with placeholders
//
// Examples:
//   - /v1/modules/pkg.physics.collision -> /v1/modules/{id}
//   - /v1/modules/pkg.physics.collision/versions/1.4.0 -> /v1/modules/{id}/versions/{version}
func normalizeEndpoint(path string) string {
	// segments: "", "v1", "modules", <id>, "versions", <version>
	segments := strings.Split(path, "/")
	if len(segments) > 3 && segments[1] == "v1" && segments[2] == "modules" {
		segments[3] = "{id}"
		if len(segments) > 5 && segments[4] == "versions" {
			segments[5] = "{version}"
		}
	}
	return strings.Join(segments, "/")
}
