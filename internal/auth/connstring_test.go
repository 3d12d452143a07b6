package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestParseConnectionString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ConnectionString
		wantErr bool
	}{
		{
			name:  "device connection string",
			input: "HostName=hub.example.net;DeviceId=iot-device-sample;SharedAccessKey=dGVzdGtleQ==",
			want: ConnectionString{
				HostName:        "hub.example.net",
				DeviceID:        "iot-device-sample",
				SharedAccessKey: "dGVzdGtleQ==",
			},
		},
		{
			name:  "service connection string",
			input: "HostName=hub.example.net;SharedAccessKeyName=service;SharedAccessKey=dGVzdGtleQ==",
			want: ConnectionString{
				HostName:            "hub.example.net",
				SharedAccessKeyName: "service",
				SharedAccessKey:     "dGVzdGtleQ==",
			},
		},
		{
			name:  "case insensitive keys and trailing separator",
			input: "hostname=hub.example.net; deviceid=dev1;",
			want:  ConnectionString{HostName: "hub.example.net", DeviceID: "dev1"},
		},
		{
			name:    "missing host name",
			input:   "DeviceId=dev1;SharedAccessKey=abc",
			wantErr: true,
		},
		{
			name:    "segment without value",
			input:   "HostName=hub.example.net;garbage",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConnectionString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConnectionString) {
					t.Errorf("Expected ErrInvalidConnectionString, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if *got != tt.want {
				t.Errorf("ParseConnectionString() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestConnectionStringResourceURI(t *testing.T) {
	device := &ConnectionString{HostName: "hub.example.net", DeviceID: "dev1", SharedAccessKey: "k"}
	if got := device.ResourceURI(); got != "hub.example.net/devices/dev1" {
		t.Errorf("Expected device scoped resource, got '%s'", got)
	}

	service := &ConnectionString{HostName: "hub.example.net", SharedAccessKeyName: "service", SharedAccessKey: "k"}
	if got := service.ResourceURI(); got != "hub.example.net" {
		t.Errorf("Expected hub scoped resource, got '%s'", got)
	}
}

func TestConnectionStringAPIURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"hub.example.net", "https://hub.example.net"},
		{"http://localhost:8080", "http://localhost:8080"},
	}

	for _, tt := range tests {
		cs := &ConnectionString{HostName: tt.host}
		if got := cs.APIURL(); got != tt.want {
			t.Errorf("APIURL() for %q = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestConnectionStringRedactsKey(t *testing.T) {
	cs, err := ParseConnectionString("HostName=hub.example.net;DeviceId=dev1;SharedAccessKey=c2VjcmV0")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	s := cs.String()
	if strings.Contains(s, "c2VjcmV0") {
		t.Errorf("Expected key to be redacted, got '%s'", s)
	}
	if !strings.Contains(s, "DeviceId=dev1") {
		t.Errorf("Expected device id to be rendered, got '%s'", s)
	}
}
