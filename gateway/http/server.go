package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/julienstroheker/devicestream/gateway/http/handlers"
	"github.com/julienstroheker/devicestream/gateway/http/middleware"
	"github.com/julienstroheker/devicestream/gateway/management"
	"github.com/julienstroheker/devicestream/gateway/stream"
	"github.com/julienstroheker/devicestream/internal/controlplane"
	"github.com/julienstroheker/devicestream/internal/logging"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	addr   string
	logger *logging.Logger
}

// Options configures the HTTP server
type Options struct {
	// Addr is the listen address (default: :8080)
	Addr string

	// Hub holds the device control channels (required)
	Hub *controlplane.Hub

	// Management redeems stream tokens (required)
	Management *management.Service

	// Streams pairs stream halves (required)
	Streams *stream.Manager

	// KeyName and Key enable SAS validation of control plane routes (optional)
	KeyName string
	Key     string

	Logger *logging.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(opts *Options) (*Server, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.Hub == nil || opts.Management == nil || opts.Streams == nil {
		return nil, fmt.Errorf("hub, management service and stream manager are required")
	}

	addr := opts.Addr
	if addr == "" {
		addr = ":8080"
	}

	upgrader := &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}

	// Control plane routes are the ones a SAS key protects
	controlPlane := func(h http.Handler) http.Handler { return h }
	if opts.Key != "" {
		controlPlane = middleware.SharedAccessSignature(opts.KeyName, opts.Key)
	}

	mux := http.NewServeMux()

	mux.Handle("/healthz", handlers.NewHealthHandler(opts.Hub, opts.Streams))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /twins/{deviceId}/streams/{streamName}",
		controlPlane(handlers.NewStreamRequestHandler(opts.Hub)))
	mux.Handle("GET /devices/{deviceId}/streams",
		controlPlane(handlers.NewDeviceChannelHandler(opts.Hub, upgrader)))

	// Stream tokens authenticate the rendezvous route
	mux.Handle("GET /streams/{streamId}",
		handlers.NewStreamHandler(opts.Management, opts.Streams, upgrader))

	// Apply middleware chain: Telemetry -> Logger -> Metrics -> Handler
	var handler http.Handler = mux
	handler = middleware.Metrics(handler)
	handler = middleware.Logger(opts.Logger)(handler)
	handler = middleware.Telemetry(handler)

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr:   addr,
		logger: opts.Logger,
	}, nil
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Serve accepts connections on ln
func (s *Server) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

// Handler returns the server's root handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Close immediately closes the server
func (s *Server) Close() error {
	return s.server.Close()
}

// Addr returns the address the server is configured to listen on
func (s *Server) Addr() string {
	return s.addr
}
