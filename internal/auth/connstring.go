package auth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConnectionString is returned when a connection string cannot be parsed
var ErrInvalidConnectionString = errors.New("invalid connection string")

// ConnectionString holds the fields of an IoT Hub style connection string:
//
//	HostName=hub.example.net;DeviceId=dev1;SharedAccessKey=base64key
//	HostName=hub.example.net;SharedAccessKeyName=service;SharedAccessKey=base64key
type ConnectionString struct {
	HostName            string
	DeviceID            string
	SharedAccessKeyName string
	SharedAccessKey     string
}

// ParseConnectionString parses a semicolon separated list of key=value pairs.
// Keys are matched case-insensitively; HostName is required.
func ParseConnectionString(s string) (*ConnectionString, error) {
	cs := &ConnectionString{}

	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Keys are base64 and may end with '=' padding, split on the first '=' only
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: segment %q is not key=value", ErrInvalidConnectionString, part)
		}

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "hostname":
			cs.HostName = value
		case "deviceid":
			cs.DeviceID = value
		case "sharedaccesskeyname":
			cs.SharedAccessKeyName = value
		case "sharedaccesskey":
			cs.SharedAccessKey = value
		}
	}

	if cs.HostName == "" {
		return nil, fmt.Errorf("%w: HostName is required", ErrInvalidConnectionString)
	}

	return cs, nil
}

// HasKey reports whether the connection string carries a shared access key
func (c *ConnectionString) HasKey() bool {
	return c.SharedAccessKey != ""
}

// ResourceURI is the resource a SAS token for this connection string is scoped to
func (c *ConnectionString) ResourceURI() string {
	if c.DeviceID != "" && c.SharedAccessKeyName == "" {
		return c.HostName + "/devices/" + c.DeviceID
	}
	return c.HostName
}

// APIURL is the default control-plane endpoint for the hub
func (c *ConnectionString) APIURL() string {
	if strings.Contains(c.HostName, "://") {
		return c.HostName
	}
	return "https://" + c.HostName
}

// String renders the connection string with the key redacted
func (c *ConnectionString) String() string {
	parts := []string{"HostName=" + c.HostName}
	if c.DeviceID != "" {
		parts = append(parts, "DeviceId="+c.DeviceID)
	}
	if c.SharedAccessKeyName != "" {
		parts = append(parts, "SharedAccessKeyName="+c.SharedAccessKeyName)
	}
	if c.SharedAccessKey != "" {
		parts = append(parts, "SharedAccessKey=[REDACTED]")
	}
	return strings.Join(parts, ";")
}
