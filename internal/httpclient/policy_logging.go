package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/julienstroheker/devicestream/internal/logging"
)

// maxLoggedBody caps how much of a body ends up in a single log line
const maxLoggedBody = 1024

// credential headers are never logged, whatever the filters say
var credentialHeaders = []string{"Authorization", "Proxy-Authorization"}

// LoggingPolicy logs requests and responses in debug mode
type LoggingPolicy struct {
	logger        *logging.Logger
	logHeaders    bool
	logBody       bool
	redactBody    bool
	headerFilters []string // Headers to redact
}

// LoggingOptions contains configuration for LoggingPolicy
type LoggingOptions struct {
	// LogHeaders enables logging of all request/response headers
	LogHeaders bool

	// LogBody enables logging of request/response body, truncated to 1KB
	LogBody bool

	// RedactBody redacts the body content (shows only size)
	RedactBody bool

	// HeaderFilters lists extra header names whose values are redacted.
	// Authorization and Proxy-Authorization are always redacted.
	HeaderFilters []string
}

// NewLoggingPolicy creates a new LoggingPolicy
func NewLoggingPolicy(logger *logging.Logger, opts *LoggingOptions) *LoggingPolicy {
	if opts == nil {
		opts = &LoggingOptions{}
	}

	return &LoggingPolicy{
		logger:        logger,
		logHeaders:    opts.LogHeaders,
		logBody:       opts.LogBody,
		redactBody:    opts.RedactBody,
		headerFilters: opts.HeaderFilters,
	}
}

// Do implements Policy interface
func (p *LoggingPolicy) Do(
	req *http.Request,
	next func(*http.Request) (*http.Response, error),
) (*http.Response, error) {
	p.logRequest(req)

	start := time.Now()
	resp, err := next(req)
	duration := time.Since(start)

	if err != nil {
		p.logger.Debug("HTTP Request failed",
			logging.String("method", req.Method),
			logging.String("url", req.URL.Redacted()),
			logging.Error(err),
			logging.Duration("duration", duration))
		return resp, err
	}

	p.logResponse(req, resp, duration)
	return resp, nil
}

func (p *LoggingPolicy) logRequest(req *http.Request) {
	fields := []logging.Field{
		logging.String("method", req.Method),
		logging.String("url", req.URL.Redacted()),
	}

	if p.logHeaders && len(req.Header) > 0 {
		fields = append(fields, p.formatHeaders("request_headers", req.Header))
	}

	if p.logBody && req.Body != nil && req.Body != http.NoBody {
		body, err := readAndRestore(&req.Body)
		if err == nil {
			fields = append(fields, p.formatBody("request_body", body))
		}
	}

	p.logger.Debug("HTTP Request", fields...)
}

func (p *LoggingPolicy) logResponse(req *http.Request, resp *http.Response, duration time.Duration) {
	fields := []logging.Field{
		logging.String("method", req.Method),
		logging.String("url", req.URL.Redacted()),
		logging.Int("status", resp.StatusCode),
		logging.Duration("duration", duration),
	}

	if p.logHeaders && len(resp.Header) > 0 {
		fields = append(fields, p.formatHeaders("response_headers", resp.Header))
	}

	if p.logBody && resp.Body != nil {
		body, err := readAndRestore(&resp.Body)
		if err == nil {
			fields = append(fields, p.formatBody("response_body", body))
		}
	}

	p.logger.Debug("HTTP Response", fields...)
}

// formatBody formats body content for logging
func (p *LoggingPolicy) formatBody(key string, body []byte) logging.Field {
	if p.redactBody {
		return logging.Bytes(key+"_size", int64(len(body)))
	}
	if len(body) > maxLoggedBody {
		return logging.String(key, string(body[:maxLoggedBody])+"...")
	}
	return logging.String(key, string(body))
}

// formatHeaders renders headers sorted by name, redacting credentials and filtered names
func (p *LoggingPolicy) formatHeaders(key string, headers http.Header) logging.Field {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	slices.Sort(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		value := strings.Join(headers[name], ", ")
		if p.redacted(name) {
			value = "[REDACTED]"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, value))
	}
	return logging.String(key, strings.Join(parts, "; "))
}

func (p *LoggingPolicy) redacted(name string) bool {
	for _, filter := range credentialHeaders {
		if strings.EqualFold(name, filter) {
			return true
		}
	}
	for _, filter := range p.headerFilters {
		if strings.EqualFold(name, filter) {
			return true
		}
	}
	return false
}

// readAndRestore drains body and replaces it with an in-memory copy
func readAndRestore(body *io.ReadCloser) ([]byte, error) {
	data, err := io.ReadAll(*body)
	_ = (*body).Close()
	*body = io.NopCloser(bytes.NewReader(data))
	return data, err
}
