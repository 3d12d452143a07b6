package httpclient

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewErrorPolicy(t *testing.T) {
	policy := NewErrorPolicy()
	if policy == nil {
		t.Fatal("Expected non-nil policy")
	}
}

func TestErrorPolicyDoSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	policy := NewErrorPolicy()
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	next := func(r *http.Request) (*http.Response, error) {
		return http.DefaultClient.Do(r)
	}

	resp, err := policy.Do(req, next)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestErrorPolicyDoWithError(t *testing.T) {
	policy := NewErrorPolicy()
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)

	expectedErr := errors.New("connection failed")
	next := func(r *http.Request) (*http.Response, error) {
		return nil, expectedErr
	}

	resp, err := policy.Do(req, next)
	if resp != nil {
		defer func() {
			_ = resp.Body.Close()
		}()
	}

	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	// Verify error is wrapped with URL context
	if !strings.Contains(err.Error(), "request to http://example.com failed") {
		t.Errorf("Expected error to contain URL context, got: %v", err)
	}

	// Verify original error is preserved
	if !strings.Contains(err.Error(), "connection failed") {
		t.Errorf("Expected error to contain original error, got: %v", err)
	}
}

func TestErrorPolicyDoWrapsError(t *testing.T) {
	policy := NewErrorPolicy()
	testURL := "http://test.example.com/api/endpoint"
	req, _ := http.NewRequest(http.MethodPost, testURL, nil)

	next := func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("network timeout")
	}

	resp, err := policy.Do(req, next)
	if resp != nil {
		defer func() {
			_ = resp.Body.Close()
		}()
	}

	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	errorMsg := err.Error()
	if !strings.Contains(errorMsg, testURL) {
		t.Errorf("Expected error message to contain '%s', got: %v", testURL, errorMsg)
	}

	if !strings.Contains(errorMsg, "network timeout") {
		t.Errorf("Expected error message to contain 'network timeout', got: %v", errorMsg)
	}
}

func TestErrorPolicyPreservesErrorChain(t *testing.T) {
	policy := NewErrorPolicy()
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)

	baseErr := errors.New("base error")
	next := func(r *http.Request) (*http.Response, error) {
		return nil, baseErr
	}

	resp, err := policy.Do(req, next)
	if resp != nil {
		defer func() {
			_ = resp.Body.Close()
		}()
	}

	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	// Verify the error chain is preserved (using errors.Is)
	if !errors.Is(err, baseErr) {
		t.Error("Expected error chain to be preserved")
	}
}

func TestErrorPolicyStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"DeviceNotConnected","message":"device dev1 is offline"}`))
	}))
	defer server.Close()

	policy := NewErrorPolicy()
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/twins/dev1/streams/s", nil)

	next := func(r *http.Request) (*http.Response, error) {
		return http.DefaultClient.Do(r)
	}

	resp, err := policy.Do(req, next)
	if resp != nil {
		t.Error("Expected nil response for error status")
	}

	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("Expected *ResponseError, got: %v", err)
	}
	if respErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", respErr.StatusCode)
	}
	if respErr.Code != "DeviceNotConnected" {
		t.Errorf("Expected code 'DeviceNotConnected', got '%s'", respErr.Code)
	}
	if respErr.Message != "device dev1 is offline" {
		t.Errorf("Expected message from body, got '%s'", respErr.Message)
	}
}

func TestErrorPolicyPlainTextStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	policy := NewErrorPolicy()
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	_, err := policy.Do(req, func(r *http.Request) (*http.Response, error) {
		return http.DefaultClient.Do(r)
	})

	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("Expected *ResponseError, got: %v", err)
	}
	if !strings.Contains(respErr.Message, "bad gateway") {
		t.Errorf("Expected plain text body as message, got '%s'", respErr.Message)
	}
}
