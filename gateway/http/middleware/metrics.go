package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/julienstroheker/devicestream/internal/metrics"
)

// Metrics is a middleware that counts requests by method and status code and
// observes their duration. Upgraded connections are counted but not timed.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := wrap(w)
		next.ServeHTTP(rw, r)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.statusCode)).Inc()
		if !rw.hijacked {
			metrics.HTTPRequestDurationSeconds.Observe(time.Since(start).Seconds())
		}
	})
}
