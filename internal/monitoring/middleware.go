package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware provides Prometheus metrics for HTTP requests
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Call next handler
		next.ServeHTTP(wrapped, r)

		// Extract route pattern from gorilla/mux
		route := mux.CurrentRoute(r)
		endpoint := "unknown"
		if route != nil {
			if template, err := route.GetPathTemplate(); err == nil {
				endpoint = template
			}
		}

		// Record metrics
		duration := time.Since(start).Seconds()
		method := r.Method
		statusCode := strconv.Itoa(wrapped.statusCode)

		RequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
		RequestDuration.WithLabelValues(method, endpoint).Observe(duration)
	})
}
