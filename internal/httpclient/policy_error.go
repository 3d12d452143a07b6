package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/julienstroheker/devicestream/internal/api"
)

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 4096

// ResponseError is returned for responses with a 4xx or 5xx status.
// Code and Message are filled from an api.ErrorResponse body when present.
type ResponseError struct {
	Method     string
	URL        string
	StatusCode int
	Code       string
	Message    string
}

func (e *ResponseError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// ErrorPolicy wraps transport errors with the request URL and turns
// error statuses into *ResponseError
type ErrorPolicy struct{}

// NewErrorPolicy creates a new ErrorPolicy
func NewErrorPolicy() *ErrorPolicy {
	return &ErrorPolicy{}
}

// Do implements Policy interface
func (p *ErrorPolicy) Do(
	req *http.Request,
	next func(*http.Request) (*http.Response, error),
) (*http.Response, error) {
	resp, err := next(req)
	if err != nil {
		return resp, fmt.Errorf("request to %s failed: %w", req.URL.Redacted(), err)
	}

	if resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}

	respErr := &ResponseError{
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		StatusCode: resp.StatusCode,
	}
	if resp.Body != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()

		var apiErr api.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
			respErr.Code = apiErr.Code
			respErr.Message = apiErr.Message
		} else if len(body) > 0 {
			respErr.Message = string(body)
		}
	}

	return nil, respErr
}
