package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienstroheker/devicestream/internal/api"
	"github.com/julienstroheker/devicestream/internal/logging"
)

const controlWriteTimeout = 10 * time.Second

// DeviceClientOptions configures a DeviceClient
type DeviceClientOptions struct {
	// BaseURL is the control-plane endpoint; http(s) is dialed as ws(s)
	BaseURL string

	// DeviceID identifies this device
	DeviceID string

	// Tokens authorizes the control channel handshake (optional)
	Tokens TokenSource

	// Dialer overrides the WebSocket dialer (optional)
	Dialer *websocket.Dialer

	// Logger is used for debug logging (optional)
	Logger *logging.Logger
}

// DeviceClient receives stream requests over a WebSocket control channel.
//
// The channel is opened lazily by WaitForStreamRequest. When it drops,
// WaitForStreamRequest returns (nil, nil) and the following call dials again.
// Only one goroutine may call WaitForStreamRequest at a time; Accept and
// Reject may be called concurrently with it.
type DeviceClient struct {
	endpoint string
	tokens   TokenSource
	dialer   *websocket.Dialer
	logger   *logging.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewDeviceClient creates a DeviceClient
func NewDeviceClient(opts *DeviceClientOptions) (*DeviceClient, error) {
	if opts == nil || opts.BaseURL == "" {
		return nil, fmt.Errorf("control plane base URL is required")
	}
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	endpoint, err := controlChannelURL(opts.BaseURL, opts.DeviceID)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 30 * time.Second,
		}
	}

	return &DeviceClient{
		endpoint: endpoint,
		tokens:   opts.Tokens,
		dialer:   dialer,
		logger:   opts.Logger,
	}, nil
}

func controlChannelURL(base, deviceID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid control plane URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported control plane URL scheme %q", u.Scheme)
	}

	return u.JoinPath("devices", deviceID, "streams").String(), nil
}

// WaitForStreamRequest blocks until the control plane pushes a stream request
func (c *DeviceClient) WaitForStreamRequest(ctx context.Context) (*StreamRequest, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.UnderlyingConn().SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		var msg api.StreamRequestMessage
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if ctx.Err() == nil && (errors.As(err, &syntaxErr) || errors.As(err, &typeErr)) {
				if c.logger != nil {
					c.logger.Warn("Ignoring malformed control message", logging.Error(err))
				}
				continue
			}

			c.drop(conn)

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if c.logger != nil {
				c.logger.Info("Control channel closed", logging.Error(err))
			}
			return nil, nil
		}

		if msg.RequestID == "" {
			if c.logger != nil {
				c.logger.Warn("Ignoring stream request without id")
			}
			continue
		}

		return &StreamRequest{
			RequestID:          msg.RequestID,
			StreamName:         msg.StreamName,
			URL:                msg.URL,
			AuthorizationToken: msg.AuthorizationToken,
		}, nil
	}
}

// Accept answers req positively
func (c *DeviceClient) Accept(ctx context.Context, req *StreamRequest) error {
	return c.respond(ctx, req, true)
}

// Reject declines req
func (c *DeviceClient) Reject(ctx context.Context, req *StreamRequest) error {
	return c.respond(ctx, req, false)
}

func (c *DeviceClient) respond(ctx context.Context, req *StreamRequest, accepted bool) error {
	if req == nil {
		return fmt.Errorf("nil stream request")
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("%w: control channel is not connected", ErrGrantUnavailable)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(controlWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)

	err := conn.WriteJSON(api.StreamResponseMessage{
		RequestID: req.RequestID,
		Accepted:  accepted,
	})
	if err != nil {
		c.drop(conn)
		return fmt.Errorf("failed to send stream response: %w", err)
	}

	return nil
}

// Close closes the control channel
func (c *DeviceClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return conn.Close()
}

// connection returns the open control channel or dials a new one
func (c *DeviceClient) connection(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn, nil
	}

	header := http.Header{}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire authorization token: %w", err)
		}
		header.Set("Authorization", token)
	}

	if c.logger != nil {
		c.logger.Debug("Opening control channel", logging.String("url", c.endpoint))
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if resp != nil {
			return nil, fmt.Errorf("%w: control channel handshake failed with status %d", ErrGrantUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: failed to open control channel: %w", ErrGrantUnavailable, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("Control channel connected", logging.String("url", c.endpoint))
	}

	return conn, nil
}

// drop forgets conn if it is still the current connection and closes it
func (c *DeviceClient) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

var _ GrantSource = (*DeviceClient)(nil)
