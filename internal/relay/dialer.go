package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienstroheker/devicestream/internal/logging"
	"github.com/julienstroheker/devicestream/internal/metrics"
)

const defaultHandshakeTimeout = 30 * time.Second

// Dialer opens authenticated connections to the streaming gateway.
// The zero value is ready to use.
type Dialer struct {
	// HandshakeTimeout bounds the WebSocket handshake (default: 30s)
	HandshakeTimeout time.Duration

	// ReadBufferSize and WriteBufferSize size the WebSocket I/O buffers (default: 4096)
	ReadBufferSize  int
	WriteBufferSize int

	// TLSClientConfig is used for wss:// URLs (optional)
	TLSClientConfig *tls.Config

	// Logger is used for debug logging (optional)
	Logger *logging.Logger
}

// DefaultDialer is used by Connect
var DefaultDialer = &Dialer{}

// Connect opens a gateway connection with DefaultDialer
func Connect(ctx context.Context, gatewayURL, token string, logger *logging.Logger) (Conn, error) {
	d := *DefaultDialer
	d.Logger = logger
	return d.Connect(ctx, gatewayURL, token)
}

// Connect dials gatewayURL and authenticates with token as a bearer credential.
// It makes exactly one attempt; every failure matches ErrConnectFailed.
func (d *Dialer) Connect(ctx context.Context, gatewayURL, token string) (Conn, error) {
	u, err := parseGatewayURL(gatewayURL)
	if err != nil {
		metrics.GatewayConnectsTotal.WithLabelValues("invalid").Inc()
		return nil, &ConnectError{Target: gatewayURL, Err: err}
	}

	// Never log the token
	if d.Logger != nil {
		d.Logger.Debug("Connecting to streaming gateway", logging.String("url", u.Redacted()))
	}

	handshakeTimeout := d.HandshakeTimeout
	if handshakeTimeout == 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   d.ReadBufferSize,
		WriteBufferSize:  d.WriteBufferSize,
		TLSClientConfig:  d.TLSClientConfig,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		metrics.GatewayConnectsTotal.WithLabelValues("failed").Inc()
		connectErr := &ConnectError{Target: u.Redacted(), Err: err}
		if ctx.Err() != nil {
			connectErr.Err = ctx.Err()
		}
		if resp != nil {
			connectErr.StatusCode = resp.StatusCode
			if resp.Body != nil {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				_ = resp.Body.Close()
				if d.Logger != nil && len(body) > 0 {
					d.Logger.Debug("Streaming gateway rejected handshake",
						logging.Int("status", resp.StatusCode),
						logging.String("body", string(body)))
				}
			}
		}
		return nil, connectErr
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	metrics.GatewayConnectsTotal.WithLabelValues("connected").Inc()
	if d.Logger != nil {
		d.Logger.Debug("Streaming gateway connected", logging.String("url", u.Redacted()))
	}

	return NewConn(conn), nil
}

// parseGatewayURL accepts ws(s) URLs and maps http(s) onto them
func parseGatewayURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported gateway URL scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("gateway URL %q has no host", raw)
	}

	return u, nil
}
