package controlplane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/julienstroheker/devicestream/internal/api"
	"github.com/julienstroheker/devicestream/internal/logging"
)

// DefaultDecisionTimeout bounds how long RequestStream waits for a device
const DefaultDecisionTimeout = 30 * time.Second

// Issued holds the gateway endpoint and per-side tokens minted for one stream
type Issued struct {
	StreamName   string
	URL          string
	DeviceToken  string
	ServiceToken string
}

// Issuer mints the gateway credentials of a new stream
type Issuer interface {
	Issue(ctx context.Context, deviceID, streamName string) (*Issued, error)
}

// IssuerFunc adapts a function to Issuer
type IssuerFunc func(ctx context.Context, deviceID, streamName string) (*Issued, error)

// Issue implements Issuer
func (f IssuerFunc) Issue(ctx context.Context, deviceID, streamName string) (*Issued, error) {
	return f(ctx, deviceID, streamName)
}

// HubOptions configures a Hub
type HubOptions struct {
	// Issuer mints gateway URLs and tokens (required)
	Issuer Issuer

	// DecisionTimeout bounds the wait for a device to pick up and answer a request
	DecisionTimeout time.Duration

	// Logger is used for debug logging (optional)
	Logger *logging.Logger
}

// Hub is an in-memory control plane. Devices attach with Connect and receive
// the requests made with RequestStream for their id.
type Hub struct {
	issuer  Issuer
	timeout time.Duration
	logger  *logging.Logger

	mu      sync.Mutex
	devices map[string]*HubDevice
}

// NewHub creates a Hub
func NewHub(opts *HubOptions) (*Hub, error) {
	if opts == nil || opts.Issuer == nil {
		return nil, fmt.Errorf("issuer is required")
	}

	timeout := opts.DecisionTimeout
	if timeout <= 0 {
		timeout = DefaultDecisionTimeout
	}

	return &Hub{
		issuer:  opts.Issuer,
		timeout: timeout,
		logger:  opts.Logger,
		devices: make(map[string]*HubDevice),
	}, nil
}

// pendingRequest is a request waiting for the device's decision
type pendingRequest struct {
	req      *StreamRequest
	decision chan bool
}

// HubDevice is the GrantSource of one connected device
type HubDevice struct {
	hub      *Hub
	deviceID string

	requests chan *pendingRequest
	closed   chan struct{}
	once     sync.Once

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// Connect attaches deviceID to the hub. A device already attached under the
// same id is closed and replaced.
func (h *Hub) Connect(deviceID string) *HubDevice {
	dev := &HubDevice{
		hub:      h,
		deviceID: deviceID,
		requests: make(chan *pendingRequest),
		closed:   make(chan struct{}),
		pending:  make(map[string]*pendingRequest),
	}

	h.mu.Lock()
	previous := h.devices[deviceID]
	h.devices[deviceID] = dev
	h.mu.Unlock()

	if previous != nil {
		previous.shutdown()
	}

	if h.logger != nil {
		h.logger.Debug("Device connected", logging.String("device_id", deviceID))
	}

	return dev
}

// Connected reports whether deviceID is attached
func (h *Hub) Connected(deviceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.devices[deviceID]
	return ok
}

// ConnectedDevices returns the number of attached devices
func (h *Hub) ConnectedDevices() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.devices)
}

// RequestStream issues credentials for a new stream, pushes the request to the
// device and waits for its decision
func (h *Hub) RequestStream(ctx context.Context, deviceID, streamName string) (*api.SessionGrant, error) {
	h.mu.Lock()
	dev := h.devices[deviceID]
	h.mu.Unlock()

	if dev == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotConnected, deviceID)
	}

	issued, err := h.issuer.Issue(ctx, deviceID, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to issue stream credentials: %w", err)
	}

	p := &pendingRequest{
		req: &StreamRequest{
			RequestID:          uuid.New().String(),
			DeviceID:           deviceID,
			StreamName:         issued.StreamName,
			URL:                issued.URL,
			AuthorizationToken: issued.DeviceToken,
		},
		decision: make(chan bool, 1),
	}
	defer dev.forget(p.req.RequestID)

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case dev.requests <- p:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-dev.closed:
		return nil, fmt.Errorf("%w: device %s disconnected", ErrGrantUnavailable, deviceID)
	case <-timer.C:
		return nil, fmt.Errorf("%w: device %s did not pick up the request", ErrGrantUnavailable, deviceID)
	}

	select {
	case accepted := <-p.decision:
		grant := &api.SessionGrant{
			StreamName: issued.StreamName,
			IsAccepted: accepted,
		}
		if accepted {
			grant.URL = issued.URL
			grant.AuthorizationToken = issued.ServiceToken
		}
		if h.logger != nil {
			h.logger.Debug("Stream request answered",
				logging.String("device_id", deviceID),
				logging.String("stream", issued.StreamName),
				logging.Bool("accepted", accepted))
		}
		return grant, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-dev.closed:
		return nil, fmt.Errorf("%w: device %s disconnected", ErrGrantUnavailable, deviceID)
	case <-timer.C:
		return nil, fmt.Errorf("%w: device %s did not answer in time", ErrGrantUnavailable, deviceID)
	}
}

// WaitForStreamRequest returns the next request for this device, or (nil, nil)
// once the device is closed
func (d *HubDevice) WaitForStreamRequest(ctx context.Context) (*StreamRequest, error) {
	select {
	case <-d.closed:
		return nil, nil
	default:
	}

	select {
	case p := <-d.requests:
		d.mu.Lock()
		d.pending[p.req.RequestID] = p
		d.mu.Unlock()

		req := *p.req
		return &req, nil
	case <-d.closed:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Accept answers req positively
func (d *HubDevice) Accept(_ context.Context, req *StreamRequest) error {
	return d.decide(req, true)
}

// Reject declines req
func (d *HubDevice) Reject(_ context.Context, req *StreamRequest) error {
	return d.decide(req, false)
}

func (d *HubDevice) decide(req *StreamRequest, accepted bool) error {
	if req == nil {
		return fmt.Errorf("nil stream request")
	}

	d.mu.Lock()
	p, ok := d.pending[req.RequestID]
	delete(d.pending, req.RequestID)
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: request %s is no longer pending", ErrGrantUnavailable, req.RequestID)
	}

	// decision is buffered and written once
	p.decision <- accepted
	return nil
}

func (d *HubDevice) forget(requestID string) {
	d.mu.Lock()
	delete(d.pending, requestID)
	d.mu.Unlock()
}

// Close detaches the device. Waiting requesters fail with ErrGrantUnavailable.
func (d *HubDevice) Close() error {
	d.hub.mu.Lock()
	if d.hub.devices[d.deviceID] == d {
		delete(d.hub.devices, d.deviceID)
	}
	d.hub.mu.Unlock()

	d.shutdown()
	return nil
}

func (d *HubDevice) shutdown() {
	d.once.Do(func() {
		close(d.closed)
		if d.hub.logger != nil {
			d.hub.logger.Debug("Device disconnected", logging.String("device_id", d.deviceID))
		}
	})
}

// Done is closed once the device is detached
func (d *HubDevice) Done() <-chan struct{} {
	return d.closed
}

var (
	_ GrantSource    = (*HubDevice)(nil)
	_ GrantRequester = (*Hub)(nil)
)
