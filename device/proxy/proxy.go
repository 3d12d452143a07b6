// Package proxy implements the device side of a stream: it waits for stream
// requests pushed by the control plane, and for every accepted request
// connects the streaming gateway to a local TCP service.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/julienstroheker/devicestream/internal/controlplane"
	"github.com/julienstroheker/devicestream/internal/logging"
	"github.com/julienstroheker/devicestream/internal/metrics"
	"github.com/julienstroheker/devicestream/internal/relay"
)

const (
	defaultTargetAddr  = "localhost:22"
	defaultDialTimeout = 30 * time.Second
)

// AcceptPolicy decides whether a stream request is accepted
type AcceptPolicy func(ctx context.Context, req *controlplane.StreamRequest) bool

// AcceptAll accepts every request
func AcceptAll(context.Context, *controlplane.StreamRequest) bool { return true }

// RejectAll declines every request
func RejectAll(context.Context, *controlplane.StreamRequest) bool { return false }

// GatewayDialer opens authenticated gateway connections. *relay.Dialer implements it.
type GatewayDialer interface {
	Connect(ctx context.Context, gatewayURL, token string) (relay.Conn, error)
}

// LocalDialer opens connections to the local service. *net.Dialer implements it.
type LocalDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options contains configuration for the Proxy
type Options struct {
	// Source delivers stream requests (required)
	Source controlplane.GrantSource

	// TargetAddr is the local service to expose (default: localhost:22)
	TargetAddr string

	// Policy decides each request (default: AcceptAll)
	Policy AcceptPolicy

	// Dialer opens gateway connections (default: relay.DefaultDialer)
	Dialer GatewayDialer

	// LocalDialer opens connections to TargetAddr (default: net.Dialer with a 30s timeout)
	LocalDialer LocalDialer

	// ChunkSize is the relay read buffer size (default: relay.DefaultChunkSize)
	ChunkSize int

	// Backoff paces waits that return no request (default: 100ms up to 10s)
	Backoff *backoff.Backoff
}

// Proxy runs the device negotiation loop
type Proxy struct {
	source      controlplane.GrantSource
	targetAddr  string
	policy      AcceptPolicy
	dialer      GatewayDialer
	localDialer LocalDialer
	chunkSize   int
	backoff     backoff.Backoff
}

// New creates a Proxy
func New(opts *Options) (*Proxy, error) {
	if opts == nil || opts.Source == nil {
		return nil, fmt.Errorf("grant source is required")
	}

	p := &Proxy{
		source:      opts.Source,
		targetAddr:  opts.TargetAddr,
		policy:      opts.Policy,
		dialer:      opts.Dialer,
		localDialer: opts.LocalDialer,
		chunkSize:   opts.ChunkSize,
		backoff:     backoff.Backoff{Min: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: true},
	}

	if p.targetAddr == "" {
		p.targetAddr = defaultTargetAddr
	}
	if p.policy == nil {
		p.policy = AcceptAll
	}
	if p.dialer == nil {
		p.dialer = relay.DefaultDialer
	}
	if p.localDialer == nil {
		p.localDialer = &net.Dialer{Timeout: defaultDialTimeout}
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

// Run waits for stream requests and handles them one at a time until ctx is
// cancelled. Session failures are logged and never stop the loop; Run only
// returns ctx.Err().
func (p *Proxy) Run(ctx context.Context, logger *logging.Logger) error {
	if logger != nil {
		logger.Info("Waiting for stream requests", logging.String("target", p.targetAddr))
	}

	pacing := p.backoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := p.source.WaitForStreamRequest(ctx)
		if err != nil || req == nil {
			if ctx.Err() != nil {
				if logger != nil {
					logger.Info("Device proxy stopped")
				}
				return ctx.Err()
			}

			d := pacing.Duration()
			if logger != nil {
				if err != nil {
					logger.Warn("Waiting for stream request failed", logging.Error(err), logging.Duration("retry_in", d))
				} else {
					logger.Debug("Control channel closed", logging.Duration("retry_in", d))
				}
			}
			if err := sleep(ctx, d); err != nil {
				return err
			}
			continue
		}
		pacing.Reset()

		if err := p.HandleRequest(ctx, req, logger); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if logger != nil {
				logger.Error("Stream session failed",
					logging.String("stream", req.StreamName),
					logging.Error(err))
			}
		}
	}
}

// HandleRequest decides req and, when accepted, relays the gateway stream to
// the target until either side ends. Both connections are closed on return.
func (p *Proxy) HandleRequest(ctx context.Context, req *controlplane.StreamRequest, logger *logging.Logger) error {
	if logger != nil {
		logger = logger.With(
			logging.String("session_id", uuid.New().String()),
			logging.String("stream", req.StreamName))
	}

	if !p.policy(ctx, req) {
		if logger != nil {
			logger.Info("Rejecting stream request")
		}
		metrics.SessionsTotal.WithLabelValues(metrics.RoleDevice, metrics.OutcomeRejected).Inc()
		if err := p.source.Reject(ctx, req); err != nil {
			return fmt.Errorf("failed to reject stream request: %w", err)
		}
		return nil
	}

	if err := p.source.Accept(ctx, req); err != nil {
		metrics.SessionsTotal.WithLabelValues(metrics.RoleDevice, metrics.OutcomeFailed).Inc()
		return fmt.Errorf("failed to accept stream request: %w", err)
	}

	if logger != nil {
		logger.Info("Stream request accepted")
	}

	var (
		remote relay.Conn
		local  net.Conn
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		conn, err := p.dialer.Connect(gctx, req.URL, req.AuthorizationToken)
		if err != nil {
			return err
		}
		remote = conn
		return nil
	})
	g.Go(func() error {
		conn, err := p.localDialer.DialContext(gctx, "tcp", p.targetAddr)
		if err != nil {
			return &relay.ConnectError{Target: p.targetAddr, Err: err}
		}
		local = conn
		return nil
	})

	err := g.Wait()

	// The local connection closes first, then the gateway one with a normal closure
	if remote != nil {
		defer func() {
			_ = remote.Close()
		}()
	}
	if local != nil {
		defer func() {
			_ = local.Close()
		}()
	}
	if err != nil {
		metrics.SessionsTotal.WithLabelValues(metrics.RoleDevice, outcomeOf(ctx)).Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	if logger != nil {
		logger.Debug("Relaying stream", logging.String("target", p.targetAddr))
	}

	outcome, err := relay.Relay(ctx, local, remote, &relay.RelayOptions{
		ChunkSize: p.chunkSize,
		Logger:    logger,
	})
	logOutcome(logger, outcome, err)

	if err != nil {
		metrics.SessionsTotal.WithLabelValues(metrics.RoleDevice, outcomeOf(ctx)).Inc()
		return err
	}
	metrics.SessionsTotal.WithLabelValues(metrics.RoleDevice, metrics.OutcomeCompleted).Inc()
	return nil
}

func outcomeOf(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.Canceled) {
		return metrics.OutcomeCancelled
	}
	return metrics.OutcomeFailed
}

func logOutcome(logger *logging.Logger, outcome *relay.Outcome, err error) {
	if logger == nil || outcome == nil {
		return
	}
	fields := []logging.Field{
		logging.Bytes("sent", outcome.BytesSent),
		logging.Bytes("received", outcome.BytesReceived),
		logging.String("ended_by", outcome.EndedBy.String()),
		logging.Duration("duration", outcome.Duration),
	}
	if err != nil {
		logger.Warn("Stream session ended with error", append(fields, logging.Error(err))...)
		return
	}
	logger.Info("Stream session closed", fields...)
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
