// Package controlplane connects the two proxy roles to the service that hands
// out session grants.
//
// The device side consumes a GrantSource: it waits for stream requests pushed
// to it and answers each with Accept or Reject. The service side consumes a
// GrantRequester: it asks for a stream to a device and receives a grant.
//
// Hub implements both in memory. ServiceClient and DeviceClient reach a remote
// control plane over HTTP and a WebSocket control channel.
package controlplane

import (
	"context"

	"github.com/julienstroheker/devicestream/internal/api"
)

// StreamRequest is a grant pushed to the device side
type StreamRequest struct {
	RequestID          string
	DeviceID           string
	StreamName         string
	URL                string
	AuthorizationToken string
}

// GrantSource delivers stream requests to the device side
type GrantSource interface {
	// WaitForStreamRequest blocks until a request arrives. It returns (nil, nil)
	// when the control channel closed; the next call reconnects.
	WaitForStreamRequest(ctx context.Context) (*StreamRequest, error)

	// Accept tells the control plane the device will connect for req
	Accept(ctx context.Context, req *StreamRequest) error

	// Reject declines req; no connection is made
	Reject(ctx context.Context, req *StreamRequest) error
}

// GrantRequester requests streams on behalf of the service side
type GrantRequester interface {
	// RequestStream asks deviceID to open streamName. A grant the device
	// declined is returned with IsAccepted false and a nil error.
	RequestStream(ctx context.Context, deviceID, streamName string) (*api.SessionGrant, error)
}

// TokenSource supplies the Authorization header value for control-plane calls
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
