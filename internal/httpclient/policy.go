package httpclient

import (
	"net/http"
)

// Transport sends a request one step further down a policy chain.
type Transport func(*http.Request) (*http.Response, error)

// Policy wraps a control plane request, e.g. to stamp headers or log the
// exchange. It must call next exactly once unless it fails the request.
type Policy interface {
	Do(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error)
}

// PolicyFunc adapts a function to Policy
type PolicyFunc func(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error)

// Do implements Policy interface
func (f PolicyFunc) Do(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error) {
	return f(req, next)
}

// Chain composes policies around send. policies[0] runs first and sees the
// response last.
func Chain(send Transport, policies ...Policy) Transport {
	next := send
	for i := len(policies) - 1; i >= 0; i-- {
		policy, inner := policies[i], next
		next = func(r *http.Request) (*http.Response, error) {
			return policy.Do(r, inner)
		}
	}
	return next
}
