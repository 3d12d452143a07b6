package controlplane

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testIssuer() Issuer {
	return IssuerFunc(func(_ context.Context, deviceID, streamName string) (*Issued, error) {
		return &Issued{
			StreamName:   streamName + "-1",
			URL:          "wss://gw.example/streams/" + streamName + "-1",
			DeviceToken:  "device-token",
			ServiceToken: "service-token",
		}, nil
	})
}

func newTestHub(t *testing.T, timeout time.Duration) *Hub {
	t.Helper()
	hub, err := NewHub(&HubOptions{Issuer: testIssuer(), DecisionTimeout: timeout})
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	return hub
}

// answer waits for one request on dev and accepts or rejects it
func answer(t *testing.T, dev *HubDevice, accept bool) <-chan *StreamRequest {
	t.Helper()
	got := make(chan *StreamRequest, 1)
	go func() {
		req, err := dev.WaitForStreamRequest(context.Background())
		if err != nil || req == nil {
			got <- nil
			return
		}
		if accept {
			_ = dev.Accept(context.Background(), req)
		} else {
			_ = dev.Reject(context.Background(), req)
		}
		got <- req
	}()
	return got
}

func TestNewHubRequiresIssuer(t *testing.T) {
	if _, err := NewHub(nil); err == nil {
		t.Error("Expected error for nil options")
	}
	if _, err := NewHub(&HubOptions{}); err == nil {
		t.Error("Expected error for missing issuer")
	}
}

func TestHubRequestStreamAccepted(t *testing.T) {
	hub := newTestHub(t, time.Second)
	dev := hub.Connect("dev1")
	defer func() { _ = dev.Close() }()

	pushed := answer(t, dev, true)

	grant, err := hub.RequestStream(context.Background(), "dev1", "ServiceStream")
	if err != nil {
		t.Fatalf("RequestStream failed: %v", err)
	}
	if !grant.IsAccepted {
		t.Fatal("Expected grant to be accepted")
	}
	if grant.URL != "wss://gw.example/streams/ServiceStream-1" {
		t.Errorf("Expected issued URL, got '%s'", grant.URL)
	}
	if grant.AuthorizationToken != "service-token" {
		t.Errorf("Expected service token, got '%s'", grant.AuthorizationToken)
	}

	req := <-pushed
	if req == nil {
		t.Fatal("Expected device to receive a request")
	}
	if req.AuthorizationToken != "device-token" {
		t.Errorf("Expected device token in request, got '%s'", req.AuthorizationToken)
	}
	if req.DeviceID != "dev1" || req.RequestID == "" {
		t.Errorf("Expected request for dev1 with an id, got %+v", req)
	}
}

func TestHubRequestStreamRejected(t *testing.T) {
	hub := newTestHub(t, time.Second)
	dev := hub.Connect("dev1")
	defer func() { _ = dev.Close() }()

	answer(t, dev, false)

	grant, err := hub.RequestStream(context.Background(), "dev1", "ServiceStream")
	if err != nil {
		t.Fatalf("RequestStream failed: %v", err)
	}
	if grant.IsAccepted {
		t.Error("Expected grant to be rejected")
	}
	if grant.URL != "" || grant.AuthorizationToken != "" {
		t.Errorf("Expected rejected grant without credentials, got %+v", grant)
	}
}

func TestHubRequestStreamDeviceNotConnected(t *testing.T) {
	hub := newTestHub(t, time.Second)

	_, err := hub.RequestStream(context.Background(), "missing", "ServiceStream")
	if !errors.Is(err, ErrDeviceNotConnected) {
		t.Errorf("Expected ErrDeviceNotConnected, got: %v", err)
	}
	if !errors.Is(err, ErrGrantUnavailable) {
		t.Errorf("Expected ErrGrantUnavailable, got: %v", err)
	}
}

func TestHubRequestStreamTimeout(t *testing.T) {
	hub := newTestHub(t, 50*time.Millisecond)
	dev := hub.Connect("dev1")
	defer func() { _ = dev.Close() }()

	_, err := hub.RequestStream(context.Background(), "dev1", "ServiceStream")
	if !errors.Is(err, ErrGrantUnavailable) {
		t.Errorf("Expected ErrGrantUnavailable, got: %v", err)
	}
}

func TestHubRequestStreamCancelled(t *testing.T) {
	hub := newTestHub(t, time.Minute)
	dev := hub.Connect("dev1")
	defer func() { _ = dev.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := hub.RequestStream(ctx, "dev1", "ServiceStream")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got: %v", err)
	}
}

func TestHubDeviceClose(t *testing.T) {
	hub := newTestHub(t, time.Minute)
	dev := hub.Connect("dev1")

	done := make(chan error, 1)
	go func() {
		_, err := hub.RequestStream(context.Background(), "dev1", "ServiceStream")
		done <- err
	}()

	// Give the requester time to block on the device
	time.Sleep(20 * time.Millisecond)
	_ = dev.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrGrantUnavailable) {
			t.Errorf("Expected ErrGrantUnavailable, got: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RequestStream did not return after device closed")
	}

	req, err := dev.WaitForStreamRequest(context.Background())
	if req != nil || err != nil {
		t.Errorf("Expected (nil, nil) from closed device, got (%v, %v)", req, err)
	}
	if hub.Connected("dev1") {
		t.Error("Expected device to be detached")
	}
}

func TestHubConnectReplacesDevice(t *testing.T) {
	hub := newTestHub(t, time.Second)
	first := hub.Connect("dev1")
	second := hub.Connect("dev1")
	defer func() { _ = second.Close() }()

	select {
	case <-first.Done():
	default:
		t.Error("Expected previous device to be closed")
	}

	// Closing the replaced device must not detach the new one
	_ = first.Close()
	if !hub.Connected("dev1") {
		t.Error("Expected replacement device to stay connected")
	}
	if hub.ConnectedDevices() != 1 {
		t.Errorf("Expected 1 connected device, got %d", hub.ConnectedDevices())
	}
}

func TestHubDeviceAcceptUnknownRequest(t *testing.T) {
	hub := newTestHub(t, time.Second)
	dev := hub.Connect("dev1")
	defer func() { _ = dev.Close() }()

	err := dev.Accept(context.Background(), &StreamRequest{RequestID: "nope"})
	if !errors.Is(err, ErrGrantUnavailable) {
		t.Errorf("Expected ErrGrantUnavailable, got: %v", err)
	}
}

func TestHubDeviceWaitCancelled(t *testing.T) {
	hub := newTestHub(t, time.Second)
	dev := hub.Connect("dev1")
	defer func() { _ = dev.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := dev.WaitForStreamRequest(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}
