package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienstroheker/devicestream/internal/api"
	"github.com/julienstroheker/devicestream/internal/controlplane"
)

func newTestHub(t *testing.T, timeout time.Duration) *controlplane.Hub {
	t.Helper()

	hub, err := controlplane.NewHub(&controlplane.HubOptions{
		Issuer: controlplane.IssuerFunc(func(_ context.Context, deviceID, streamName string) (*controlplane.Issued, error) {
			return &controlplane.Issued{
				StreamName:   streamName,
				URL:          "ws://gateway/streams/s1",
				DeviceToken:  "device-token",
				ServiceToken: "service-token",
			}, nil
		}),
		DecisionTimeout: timeout,
	})
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	return hub
}

// serveGrant routes a stream request through a mux so path values are set
func serveGrant(hub *controlplane.Hub, method, path string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.Handle("/twins/{deviceId}/streams/{streamName}", NewStreamRequestHandler(hub))

	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestStreamRequestHandler_DeviceNotConnected(t *testing.T) {
	w := serveGrant(newTestHub(t, time.Second), http.MethodPost, "/twins/dev1/streams/ssh")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status code %d, got %d", http.StatusNotFound, w.Code)
	}

	var body api.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if body.Code != "DeviceNotConnected" {
		t.Errorf("Expected code DeviceNotConnected, got: %s", body.Code)
	}
}

func TestStreamRequestHandler_DeviceTimeout(t *testing.T) {
	hub := newTestHub(t, 50*time.Millisecond)
	device := hub.Connect("dev1")
	defer func() { _ = device.Close() }()

	w := serveGrant(hub, http.MethodPost, "/twins/dev1/streams/ssh")

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("Expected status code %d, got %d", http.StatusGatewayTimeout, w.Code)
	}
}

func TestStreamRequestHandler_MethodNotAllowed(t *testing.T) {
	w := serveGrant(newTestHub(t, time.Second), http.MethodGet, "/twins/dev1/streams/ssh")

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status code %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}

func TestStreamRequestHandler_Accepted(t *testing.T) {
	tests := []struct {
		name   string
		accept bool
	}{
		{name: "accepted", accept: true},
		{name: "rejected", accept: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newTestHub(t, 2*time.Second)
			device := hub.Connect("dev1")
			defer func() { _ = device.Close() }()

			go func() {
				req, err := device.WaitForStreamRequest(context.Background())
				if err != nil || req == nil {
					return
				}
				if tt.accept {
					_ = device.Accept(context.Background(), req)
				} else {
					_ = device.Reject(context.Background(), req)
				}
			}()

			w := serveGrant(hub, http.MethodPost, "/twins/dev1/streams/ssh")
			if w.Code != http.StatusOK {
				t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
			}

			var grant api.SessionGrant
			if err := json.NewDecoder(w.Body).Decode(&grant); err != nil {
				t.Fatalf("Failed to decode grant: %v", err)
			}
			if grant.IsAccepted != tt.accept {
				t.Errorf("Expected IsAccepted %v, got: %v", tt.accept, grant.IsAccepted)
			}
			if tt.accept && grant.AuthorizationToken != "service-token" {
				t.Errorf("Expected service token, got: %q", grant.AuthorizationToken)
			}
			if grant.StreamName != "ssh" {
				t.Errorf("Expected stream name ssh, got: %s", grant.StreamName)
			}
		})
	}
}
