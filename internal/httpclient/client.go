package httpclient

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/julienstroheker/devicestream/internal/logging"
)

// Client is an HTTP client that runs every request through a policy chain.
// It never retries; a failed call is reported to the caller as is.
type Client struct {
	httpClient *http.Client
	policies   []Policy
}

// Options contains configuration options for the HTTP client
type Options struct {
	// Timeout is the maximum time for the entire request
	Timeout time.Duration

	// Logger is used for debug logging (optional)
	Logger *logging.Logger

	// UserAgent is the User-Agent header value
	UserAgent string

	// Tokens authorizes each request (optional)
	Tokens TokenSource

	// Transport allows customizing the underlying HTTP transport
	Transport http.RoundTripper

	// AdditionalPolicies allows adding custom policies
	AdditionalPolicies []Policy
}

// DefaultOptions returns default options for the HTTP client
func DefaultOptions() *Options {
	return &Options{
		Timeout:   30 * time.Second,
		UserAgent: defaultUserAgent,
	}
}

// NewClient creates a new HTTP client with the given options
func NewClient(opts *Options) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}

	httpClient := &http.Client{
		Timeout: opts.Timeout,
	}

	if opts.Transport != nil {
		httpClient.Transport = opts.Transport
	}

	// Build policy chain in order:
	// 1. Error handling (outermost)
	// 2. Request ID and session correlation
	// 3. User Agent
	// 4. Authorization
	// 5. Logging
	// 6. Custom policies
	policies := make([]Policy, 0)

	policies = append(policies, NewErrorPolicy())

	// Request ID policy (must be before logging to see the ID in logs)
	policies = append(policies, NewDefaultRequestIDPolicy())
	policies = append(policies, NewSessionPolicy(""))

	if opts.UserAgent != "" {
		policies = append(policies, NewUserAgentPolicy(opts.UserAgent))
	}

	if opts.Tokens != nil {
		policies = append(policies, NewAuthorizationPolicy(opts.Tokens))
	}

	// Logging policy (only if logger is provided)
	// This should be last so it logs after all other policies have modified the request
	if opts.Logger != nil {
		policies = append(policies, NewLoggingPolicy(opts.Logger, &LoggingOptions{
			LogHeaders:    true,
			LogBody:       true,
			HeaderFilters: []string{"Authorization"},
		}))
	}

	if len(opts.AdditionalPolicies) > 0 {
		policies = append(policies, opts.AdditionalPolicies...)
	}

	return &Client{
		httpClient: httpClient,
		policies:   policies,
	}
}

// Do executes an HTTP request through the policy chain
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return Chain(c.httpClient.Do, c.policies...)(req)
}

// Get is a convenience method for GET requests
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post is a convenience method for POST requests. body may be nil.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(req)
}
