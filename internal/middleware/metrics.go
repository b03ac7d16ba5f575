package middleware

import (
	"net/http"
	"time"
)

// Observe records one completed request. The observer decides how to label
// and export the measurement, keeping this package free of metric types.
func Observe(observe func(method, path string, status int, elapsed time.Duration)) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			observe(r.Method, r.URL.Path, status, time.Since(start))
		})
	}
}
