package middleware

import (
	"net/http"
	"time"

	"github.com/rpattn/mora/internal/metrics"

	"github.com/sirupsen/logrus"
)

// responseWriter captures HTTP status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs every HTTP request and records it under route in the metrics.
func LoggingMiddleware(logger *logrus.Entry, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			// Process HTTP request
			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			metrics.ObserveHTTP(route, r.Method, rw.statusCode, duration)
			logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rw.statusCode,
				"duration_ms": float64(duration.Microseconds()) / 1000,
				"remote_addr": r.RemoteAddr,
			}).Info("http request")
		})
	}
}
