package config

// Role selects which process a Config is validated for
type Role string

const (
	// RoleDevice waits for stream requests and connects to the local target
	RoleDevice Role = "device"

	// RoleService listens locally and requests streams to a device
	RoleService Role = "service"

	// RoleGateway runs the bundled control plane and streaming gateway
	RoleGateway Role = "gateway"
)

// IsValid checks if the role is known
func (r Role) IsValid() bool {
	return r == RoleDevice || r == RoleService || r == RoleGateway
}

// String returns the string representation
func (r Role) String() string {
	return string(r)
}
