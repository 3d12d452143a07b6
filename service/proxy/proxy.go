// Package proxy implements the service side of a stream: it listens on a
// loopback port and, for every client that connects, asks the control plane
// for a stream to the device and relays the client through the gateway.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"github.com/julienstroheker/devicestream/internal/controlplane"
	"github.com/julienstroheker/devicestream/internal/httpclient"
	"github.com/julienstroheker/devicestream/internal/logging"
	"github.com/julienstroheker/devicestream/internal/metrics"
	"github.com/julienstroheker/devicestream/internal/relay"
)

const (
	// DefaultStreamName is the stream name requested when none is configured
	DefaultStreamName = "ServiceStream"

	// DefaultListenAddr is the loopback address local clients connect to
	DefaultListenAddr = "127.0.0.1:2222"
)

// GatewayDialer opens authenticated gateway connections. *relay.Dialer implements it.
type GatewayDialer interface {
	Connect(ctx context.Context, gatewayURL, token string) (relay.Conn, error)
}

// Options contains configuration for the Proxy
type Options struct {
	// Requester asks the control plane for streams (required)
	Requester controlplane.GrantRequester

	// DeviceID is the device every stream targets (required)
	DeviceID string

	// StreamName is the requested stream name (default: ServiceStream)
	StreamName string

	// ListenAddr is the local listen address used by Run (default: 127.0.0.1:2222)
	ListenAddr string

	// Dialer opens gateway connections (default: relay.DefaultDialer)
	Dialer GatewayDialer

	// ChunkSize is the relay read buffer size (default: relay.DefaultChunkSize)
	ChunkSize int

	// Backoff paces Accept retries after a listener error (default: 5ms up to 1s)
	Backoff *backoff.Backoff
}

// Proxy runs the service negotiation loop
type Proxy struct {
	requester  controlplane.GrantRequester
	deviceID   string
	streamName string
	listenAddr string
	dialer     GatewayDialer
	chunkSize  int
	backoff    backoff.Backoff
}

// New creates a Proxy
func New(opts *Options) (*Proxy, error) {
	if opts == nil || opts.Requester == nil {
		return nil, fmt.Errorf("grant requester is required")
	}
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	p := &Proxy{
		requester:  opts.Requester,
		deviceID:   opts.DeviceID,
		streamName: opts.StreamName,
		listenAddr: opts.ListenAddr,
		dialer:     opts.Dialer,
		chunkSize:  opts.ChunkSize,
		backoff:    backoff.Backoff{Min: 5 * time.Millisecond, Max: time.Second, Factor: 2},
	}

	if p.streamName == "" {
		p.streamName = DefaultStreamName
	}
	if p.listenAddr == "" {
		p.listenAddr = DefaultListenAddr
	}
	if p.dialer == nil {
		p.dialer = relay.DefaultDialer
	}
	if opts.Backoff != nil {
		p.backoff = backoff.Backoff{
			Min:    opts.Backoff.Min,
			Max:    opts.Backoff.Max,
			Factor: opts.Backoff.Factor,
			Jitter: opts.Backoff.Jitter,
		}
	}

	return p, nil
}

// Run listens on the configured address and serves clients until ctx is cancelled
func (p *Proxy) Run(ctx context.Context, logger *logging.Logger) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", p.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.listenAddr, err)
	}

	return p.Serve(ctx, ln, logger)
}

// Serve accepts clients on ln until ctx is cancelled, handling each one in its
// own goroutine. ln is closed when Serve returns, after every in-flight
// session has finished.
func (p *Proxy) Serve(ctx context.Context, ln net.Listener, logger *logging.Logger) error {
	if logger != nil {
		logger.Info("Listening for local clients",
			logging.String("addr", ln.Addr().String()),
			logging.String("device_id", p.deviceID))
	}

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	pacing := p.backoff

	var wg sync.WaitGroup
	defer wg.Wait()
	defer func() {
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				if logger != nil {
					logger.Info("Service proxy stopped")
				}
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			d := pacing.Duration()
			if logger != nil {
				logger.Warn("Failed to accept client", logging.Error(err), logging.Duration("retry_in", d))
			}
			if err := sleep(ctx, d); err != nil {
				return err
			}
			continue
		}
		pacing.Reset()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.HandleConn(ctx, conn, logger); err != nil && logger != nil && ctx.Err() == nil {
				logger.Error("Stream session failed", logging.Error(err))
			}
		}()
	}
}

// HandleConn requests a stream for client and relays it through the gateway.
// client is always closed on return; the gateway is only dialed when the
// grant is accepted.
func (p *Proxy) HandleConn(ctx context.Context, client net.Conn, logger *logging.Logger) error {
	defer func() {
		_ = client.Close()
	}()

	sessionID := uuid.New().String()
	ctx = httpclient.WithSessionID(ctx, sessionID)
	if logger != nil {
		logger = logger.With(
			logging.String("session_id", sessionID),
			logging.String("client", client.RemoteAddr().String()))
		logger.Info("Requesting stream", logging.String("device_id", p.deviceID))
	}

	grant, err := p.requester.RequestStream(ctx, p.deviceID, p.streamName)
	if err != nil {
		metrics.SessionsTotal.WithLabelValues(metrics.RoleService, outcomeOf(ctx)).Inc()
		return fmt.Errorf("failed to request stream to %s: %w", p.deviceID, err)
	}

	if grant == nil {
		metrics.SessionsTotal.WithLabelValues(metrics.RoleService, metrics.OutcomeFailed).Inc()
		return fmt.Errorf("%w: empty grant for %s", controlplane.ErrGrantUnavailable, p.deviceID)
	}

	if !grant.IsAccepted {
		if logger != nil {
			logger.Info("Stream request rejected by device", logging.String("stream", grant.StreamName))
		}
		metrics.SessionsTotal.WithLabelValues(metrics.RoleService, metrics.OutcomeRejected).Inc()
		return nil
	}

	remote, err := p.dialer.Connect(ctx, grant.URL, grant.AuthorizationToken)
	if err != nil {
		metrics.SessionsTotal.WithLabelValues(metrics.RoleService, outcomeOf(ctx)).Inc()
		return err
	}
	defer func() {
		_ = remote.Close()
	}()

	if logger != nil {
		logger.Debug("Relaying stream", logging.String("stream", grant.StreamName))
	}

	outcome, err := relay.Relay(ctx, client, remote, &relay.RelayOptions{
		ChunkSize: p.chunkSize,
		Logger:    logger,
	})
	if logger != nil && outcome != nil {
		fields := []logging.Field{
			logging.Bytes("sent", outcome.BytesSent),
			logging.Bytes("received", outcome.BytesReceived),
			logging.Duration("duration", outcome.Duration),
		}
		if err != nil {
			logger.Warn("Stream session ended with error", append(fields, logging.Error(err))...)
		} else {
			logger.Info("Stream session closed", fields...)
		}
	}

	if err != nil {
		metrics.SessionsTotal.WithLabelValues(metrics.RoleService, outcomeOf(ctx)).Inc()
		return err
	}
	metrics.SessionsTotal.WithLabelValues(metrics.RoleService, metrics.OutcomeCompleted).Inc()
	return nil
}

func outcomeOf(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.Canceled) {
		return metrics.OutcomeCancelled
	}
	return metrics.OutcomeFailed
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
