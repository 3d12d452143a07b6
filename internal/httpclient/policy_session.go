package httpclient

import (
	"context"
	"net/http"
)

const defaultSessionHeader = "X-Session-Id"

type sessionIDKey struct{}

// WithSessionID returns a context carrying the relay session id.
// Requests made with that context are tagged by SessionPolicy.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext returns the session id stored by WithSessionID
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

// SessionPolicy copies the session id of the request context into a header,
// so control-plane logs can be correlated with relay logs
type SessionPolicy struct {
	headerName string
}

// NewSessionPolicy creates a new SessionPolicy
func NewSessionPolicy(headerName string) *SessionPolicy {
	if headerName == "" {
		headerName = defaultSessionHeader
	}
	return &SessionPolicy{headerName: headerName}
}

// Do implements Policy interface
func (p *SessionPolicy) Do(
	req *http.Request,
	next func(*http.Request) (*http.Response, error),
) (*http.Response, error) {
	if id := SessionIDFromContext(req.Context()); id != "" {
		req.Header.Set(p.headerName, id)
	}
	return next(req)
}
