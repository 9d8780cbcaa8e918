package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/spendlens/spendlens/pkg/infrastructure/metrics"
)

// MetricsMiddleware records request counts and latencies.
type MetricsMiddleware struct {
	collector metrics.Collector
}

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(collector metrics.Collector) *MetricsMiddleware {
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	return &MetricsMiddleware{collector: collector}
}

// Handler wraps next with request metrics.
func (m *MetricsMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		m.collector.IncrementCounter("http_requests_total",
			"method", r.Method,
			"path", r.URL.Path,
			"status", strconv.Itoa(ww.Status()))
		m.collector.RecordHistogram("http_request_duration_seconds",
			time.Since(start).Seconds(),
			"method", r.Method,
			"path", r.URL.Path)
	})
}
