package httpclient

import (
	"context"
	"fmt"
	"net/http"
)

// TokenSource supplies the value of the Authorization header
type TokenSource interface {
	// Token returns a complete header value, e.g. "SharedAccessSignature sr=..." or "Bearer ..."
	Token(ctx context.Context) (string, error)
}

// AuthorizationPolicy sets the Authorization header from a TokenSource
type AuthorizationPolicy struct {
	tokens TokenSource
}

// NewAuthorizationPolicy creates a new AuthorizationPolicy
func NewAuthorizationPolicy(tokens TokenSource) *AuthorizationPolicy {
	return &AuthorizationPolicy{tokens: tokens}
}

// Do implements Policy interface
func (p *AuthorizationPolicy) Do(
	req *http.Request,
	next func(*http.Request) (*http.Response, error),
) (*http.Response, error) {
	token, err := p.tokens.Token(req.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire authorization token: %w", err)
	}
	req.Header.Set("Authorization", token)
	return next(req)
}
