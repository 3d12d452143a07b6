package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/julienstroheker/devicestream/internal/auth"
)

const (
	// DefaultRemoteHost is the device-side target host
	DefaultRemoteHost = "localhost"
	// DefaultRemotePort is the device-side target port (SSH)
	DefaultRemotePort = 22
	// DefaultLocalPort is the service-side loopback listen port
	DefaultLocalPort = 2222
	// DefaultDeviceID is the device the service side opens streams to
	DefaultDeviceID = "iot-device-sample"
	// DefaultStreamName labels streams requested by the service side
	DefaultStreamName = "ServiceStream"
	// DefaultGatewayAddr is the listen address of the bundled gateway
	DefaultGatewayAddr = ":8080"
)

// Config holds the configuration of every devicestream process
type Config struct {
	// ConnectionString is the credential used against the control plane
	ConnectionString string

	// APIURL overrides the control-plane endpoint derived from the connection string
	APIURL string

	// RemoteHost and RemotePort are the local target of the device side
	RemoteHost string
	RemotePort int

	// LocalPort is the loopback port the service side listens on
	LocalPort int

	// DeviceID is the device the service side requests streams to
	DeviceID string

	// StreamName labels streams requested by the service side
	StreamName string

	// LogLevel controls logging verbosity (debug, info, warn, error)
	LogLevel string

	// GatewayAddr is the listen address of the bundled gateway
	GatewayAddr string

	// GatewayPublicURL is the base URL clients use to reach the bundled gateway
	GatewayPublicURL string

	// GatewayKeyName and GatewayKey enable SAS validation on the bundled gateway
	GatewayKeyName string
	GatewayKey     string

	// RedisAddr selects the Redis grant store of the bundled gateway; empty means in-memory
	RedisAddr string

	// parse errors found by Load, reported by Validate
	loadErrors []string
}

// Load creates a Config by reading from environment variables
// and applying defaults where values are not set
func Load() *Config {
	cfg := &Config{
		ConnectionString: getEnvOrDefault("DEVICESTREAM_CONNECTION_STRING", ""),
		APIURL:           getEnvOrDefault("DEVICESTREAM_API_URL", ""),
		RemoteHost:       getEnvOrDefault("DEVICESTREAM_REMOTE_HOST", DefaultRemoteHost),
		DeviceID:         getEnvOrDefault("DEVICESTREAM_DEVICE_ID", ""),
		StreamName:       getEnvOrDefault("DEVICESTREAM_STREAM_NAME", DefaultStreamName),
		LogLevel:         getEnvOrDefault("DEVICESTREAM_LOG_LEVEL", "info"),
		GatewayAddr:      getEnvOrDefault("DEVICESTREAM_GATEWAY_ADDR", DefaultGatewayAddr),
		GatewayPublicURL: getEnvOrDefault("DEVICESTREAM_GATEWAY_PUBLIC_URL", ""),
		GatewayKeyName:   getEnvOrDefault("DEVICESTREAM_GATEWAY_KEY_NAME", ""),
		GatewayKey:       getEnvOrDefault("DEVICESTREAM_GATEWAY_KEY", ""),
		RedisAddr:        getEnvOrDefault("DEVICESTREAM_REDIS_ADDR", ""),
	}

	cfg.RemotePort = cfg.getEnvInt("DEVICESTREAM_REMOTE_PORT", DefaultRemotePort)
	cfg.LocalPort = cfg.getEnvInt("DEVICESTREAM_LOCAL_PORT", DefaultLocalPort)

	return cfg
}

// Validate checks that the values required by role are present and well formed
func (c *Config) Validate(role Role) error {
	if !role.IsValid() {
		return fmt.Errorf("invalid role %q", role)
	}

	problems := append([]string(nil), c.loadErrors...)
	var missing []string

	switch role {
	case RoleDevice, RoleService:
		if c.ConnectionString == "" {
			missing = append(missing, "DEVICESTREAM_CONNECTION_STRING")
		} else if _, err := auth.ParseConnectionString(c.ConnectionString); err != nil {
			problems = append(problems, err.Error())
		}
	}

	switch role {
	case RoleDevice:
		if c.RemoteHost == "" {
			missing = append(missing, "DEVICESTREAM_REMOTE_HOST")
		}
		if !validPort(c.RemotePort) {
			problems = append(problems, fmt.Sprintf("remote port %d out of range", c.RemotePort))
		}
	case RoleService:
		if !validPort(c.LocalPort) {
			problems = append(problems, fmt.Sprintf("local port %d out of range", c.LocalPort))
		}
	case RoleGateway:
		if c.GatewayAddr == "" {
			missing = append(missing, "DEVICESTREAM_GATEWAY_ADDR")
		}
		if c.GatewayKey != "" && c.GatewayKeyName == "" {
			missing = append(missing, "DEVICESTREAM_GATEWAY_KEY_NAME")
		}
	}

	if len(missing) > 0 {
		problems = append(problems, "missing required configuration: "+strings.Join(missing, ", "))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid %s configuration: %s", role, strings.Join(problems, "; "))
	}

	return nil
}

// Credentials parses the connection string
func (c *Config) Credentials() (*auth.ConnectionString, error) {
	return auth.ParseConnectionString(c.ConnectionString)
}

// ControlPlaneURL returns APIURL, or the endpoint derived from the connection string
func (c *Config) ControlPlaneURL() (string, error) {
	if c.APIURL != "" {
		return strings.TrimSuffix(c.APIURL, "/"), nil
	}
	cs, err := c.Credentials()
	if err != nil {
		return "", err
	}
	return cs.APIURL(), nil
}

// TargetDeviceID returns DeviceID, the connection string's DeviceId, or DefaultDeviceID
func (c *Config) TargetDeviceID() string {
	if c.DeviceID != "" {
		return c.DeviceID
	}
	if cs, err := c.Credentials(); err == nil && cs.DeviceID != "" {
		return cs.DeviceID
	}
	return DefaultDeviceID
}

// TargetAddr is the host:port the device side connects to
func (c *Config) TargetAddr() string {
	return net.JoinHostPort(c.RemoteHost, strconv.Itoa(c.RemotePort))
}

// GatewayURL returns GatewayPublicURL, or a loopback URL on the GatewayAddr port
func (c *Config) GatewayURL() string {
	if c.GatewayPublicURL != "" {
		return strings.TrimSuffix(c.GatewayPublicURL, "/")
	}

	host, port, err := net.SplitHostPort(c.GatewayAddr)
	if err != nil {
		return "http://localhost" + DefaultGatewayAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// ListenAddr is the loopback address the service side listens on
func (c *Config) ListenAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(c.LocalPort))
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

// getEnvOrDefault retrieves an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable, recording unparsable values
func (c *Config) getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Sprintf("%s=%q is not a number", key, val))
		return defaultValue
	}
	return n
}
