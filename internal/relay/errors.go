package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectFailed matches every failure to open a local or gateway connection
	ErrConnectFailed = errors.New("connect failed")
	// ErrRelayIO matches I/O failures of either relay direction
	ErrRelayIO = errors.New("relay i/o error")
	// ErrConnectionClosed is returned when using a Conn after Close
	ErrConnectionClosed = errors.New("connection is closed")
)

// ConnectError describes a failed connection attempt
type ConnectError struct {
	// Target is the gateway URL or TCP address that was dialed
	Target string
	// StatusCode is the HTTP status of a rejected WebSocket handshake, 0 otherwise
	StatusCode int
	Err        error
}

func (e *ConnectError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to connect to %s (status %d): %v", e.Target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("failed to connect to %s: %v", e.Target, e.Err)
}

// Unwrap lets errors.Is match both ErrConnectFailed and the cause
func (e *ConnectError) Unwrap() []error {
	return []error{ErrConnectFailed, e.Err}
}

// IOError is returned by Relay when a copy loop fails
type IOError struct {
	Direction Direction
	Err       error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.Direction, e.Err)
}

// Unwrap lets errors.Is match both ErrRelayIO and the cause
func (e *IOError) Unwrap() []error {
	return []error{ErrRelayIO, e.Err}
}
