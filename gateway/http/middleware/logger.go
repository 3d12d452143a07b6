package middleware

import (
	"net/http"
	"time"

	"github.com/julienstroheker/devicestream/internal/logging"
)

// Logger is a middleware that logs HTTP requests and responses
// It logs when a request is received and when the response is sent
// The logger is stored in the request context for downstream handlers to access
func Logger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Telemetry IDs are attached to every line logged for this request
			var ids []logging.Field
			if requestID := GetRequestID(ctx); requestID != "" {
				ids = append(ids, logging.String("request_id", requestID))
			}
			if clientRequestID := GetClientRequestID(ctx); clientRequestID != "" {
				ids = append(ids, logging.String("client_request_id", clientRequestID))
			}
			if sessionID := GetSessionID(ctx); sessionID != "" {
				ids = append(ids, logging.String("session_id", sessionID))
			}

			base := logger
			if base == nil {
				base = logging.FromContext(ctx)
			}
			requestLogger := base.With(ids...)
			r = r.WithContext(logging.WithContext(ctx, requestLogger))

			start := time.Now()

			requestLogger.Info("Request received",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.String("remote_addr", r.RemoteAddr))

			rw := wrap(w)
			next.ServeHTTP(rw, r)

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", rw.statusCode),
				logging.Duration("duration", time.Since(start)),
			}
			if rw.hijacked {
				requestLogger.Info("Connection closed", fields...)
				return
			}
			requestLogger.Info("Response sent", fields...)
		})
	}
}
