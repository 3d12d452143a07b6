// Package api holds the JSON bodies exchanged with the control plane.
package api

// SessionGrant is the control plane's answer to a stream request. It authorizes
// exactly one relay session through the streaming gateway.
type SessionGrant struct {
	StreamName         string `json:"streamName"`
	IsAccepted         bool   `json:"isAccepted"`
	URL                string `json:"url,omitempty"`
	AuthorizationToken string `json:"authorizationToken,omitempty"`
}

// StreamRequestMessage is pushed to a device over its control channel when a
// service asks to open a stream to it.
type StreamRequestMessage struct {
	RequestID          string `json:"requestId"`
	StreamName         string `json:"streamName"`
	URL                string `json:"url"`
	AuthorizationToken string `json:"authorizationToken"`
}

// StreamResponseMessage is the device's decision for a StreamRequestMessage.
type StreamResponseMessage struct {
	RequestID string `json:"requestId"`
	Accepted  bool   `json:"accepted"`
}

// ErrorResponse is the body of every non-2xx control plane response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the body of the gateway health endpoint.
type HealthResponse struct {
	Status           string `json:"status"`
	ConnectedDevices int    `json:"connectedDevices"`
	PendingStreams   int    `json:"pendingStreams"`
}
