package controlplane

import (
	"errors"
	"fmt"
)

var (
	// ErrGrantUnavailable means no grant could be obtained: the device is not
	// connected, did not answer in time, or the control channel closed
	ErrGrantUnavailable = errors.New("grant unavailable")

	// ErrGrantRejected means the device or the control plane declined the stream
	ErrGrantRejected = errors.New("grant rejected")
)

// ErrDeviceNotConnected is the ErrGrantUnavailable case of a device holding no
// control channel
var ErrDeviceNotConnected = fmt.Errorf("%w: device is not connected", ErrGrantUnavailable)
