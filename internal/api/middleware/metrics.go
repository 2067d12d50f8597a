package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipgrab_http_requests_total",
			Help: "Total number of HTTP requests to the file server.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipgrab_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, including streamed bodies.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"method", "path"},
	)
)

// Metrics records request counts and durations per normalized route.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// tokenRoutes are the prefixes whose last segment is a download token.
var tokenRoutes = []string{"/download/", "/preview/", "/files/"}

// normalizePath replaces tokens with {token} to bound label cardinality.
func normalizePath(path string) string {
	for _, prefix := range tokenRoutes {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return prefix + "{token}"
		}
	}
	if strings.HasPrefix(path, "/static/") {
		return "/static/*"
	}
	switch path {
	case "/health", "/api/v1/stats", "/api/v1/history":
		return path
	}
	return "other"
}

// redactPath keeps only the first eight characters of a token segment.
func redactPath(path string) string {
	for _, prefix := range tokenRoutes {
		if token, ok := strings.CutPrefix(path, prefix); ok && len(token) > 8 {
			return prefix + token[:8] + "..."
		}
	}
	return path
}
