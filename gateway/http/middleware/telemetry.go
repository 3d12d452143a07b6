package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// ClientRequestIDKey is the context key for the client request ID
	ClientRequestIDKey contextKey = "X-Client-Request-Id"
	// RequestIDKey is the context key for the internal request ID
	RequestIDKey contextKey = "X-Request-Id"
	// SessionIDKey is the context key for the proxy session ID
	SessionIDKey contextKey = "X-Session-Id"
)

// Telemetry is a middleware that handles request tracing headers.
// It echoes X-Client-Request-Id, keeps the caller's X-Session-Id and generates
// a new X-Request-Id for each request. All of them are stored in the request
// context; the two request IDs are also set on the response.
func Telemetry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientRequestID := r.Header.Get("X-Client-Request-Id")
		sessionID := r.Header.Get("X-Session-Id")
		requestID := uuid.New().String()

		if clientRequestID != "" {
			w.Header().Set("X-Client-Request-Id", clientRequestID)
		}
		w.Header().Set("X-Request-Id", requestID)

		ctx := r.Context()
		if clientRequestID != "" {
			ctx = context.WithValue(ctx, ClientRequestIDKey, clientRequestID)
		}
		if sessionID != "" {
			ctx = context.WithValue(ctx, SessionIDKey, sessionID)
		}
		ctx = context.WithValue(ctx, RequestIDKey, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClientRequestID retrieves the client request ID from the context
func GetClientRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(ClientRequestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRequestID retrieves the internal request ID from the context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetSessionID retrieves the proxy session ID from the context
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}
