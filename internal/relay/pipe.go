package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/julienstroheker/devicestream/internal/logging"
	"github.com/julienstroheker/devicestream/internal/metrics"
)

// DefaultChunkSize is the largest local read forwarded as one gateway message
const DefaultChunkSize = 10240

// Direction identifies one of the two relay copy loops
type Direction int

const (
	// DirectionNone means no loop has finished
	DirectionNone Direction = iota
	// DirectionInbound copies gateway messages to the local stream
	DirectionInbound
	// DirectionOutbound copies local reads to the gateway
	DirectionOutbound
)

// String returns the metrics label of the direction
func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return metrics.DirectionInbound
	case DirectionOutbound:
		return metrics.DirectionOutbound
	default:
		return "none"
	}
}

// RelayOptions configures Relay
type RelayOptions struct {
	// ChunkSize is the local read buffer size (default: DefaultChunkSize)
	ChunkSize int

	// Logger is used for debug logging (optional)
	Logger *logging.Logger
}

// Outcome summarizes a finished relay
type Outcome struct {
	// BytesSent counts bytes read locally and sent to the gateway
	BytesSent int64
	// BytesReceived counts bytes received from the gateway and written locally
	BytesReceived int64
	// EndedBy is the copy loop that finished first
	EndedBy  Direction
	Duration time.Duration
}

// deadliner is implemented by net.Conn and lets Relay interrupt blocked local I/O
type deadliner interface {
	SetDeadline(t time.Time) error
}

type loopResult struct {
	dir Direction
	err error
}

// Relay copies data between local and remote until one direction ends.
//
// A clean end of stream on either side, or a gateway Conn that is already
// closed, returns a nil error. A failed copy
// returns an *IOError. If ctx is cancelled, Relay returns ctx.Err() after
// both loops have stopped. Neither stream is closed.
func Relay(ctx context.Context, local io.ReadWriter, remote Conn, opts *RelayOptions) (*Outcome, error) {
	if opts == nil {
		opts = &RelayOptions{}
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	start := time.Now()
	metrics.ActiveRelays.Inc()
	defer metrics.ActiveRelays.Dec()

	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Local streams know nothing about contexts. Once the relay is over,
	// a past deadline unblocks whichever local Read or Write is pending.
	// The deadline is cleared again before Relay returns.
	localDeadliner, interruptible := local.(deadliner)
	if interruptible {
		interrupted := make(chan struct{})
		stop := context.AfterFunc(relayCtx, func() {
			defer close(interrupted)
			_ = localDeadliner.SetDeadline(time.Now())
		})
		defer func() {
			if !stop() {
				<-interrupted
				_ = localDeadliner.SetDeadline(time.Time{})
			}
		}()
	}

	var sent, received atomic.Int64
	done := make(chan loopResult, 2)

	go func() {
		done <- loopResult{DirectionInbound, copyInbound(relayCtx, local, remote, &received)}
	}()

	go func() {
		done <- loopResult{DirectionOutbound, copyOutbound(relayCtx, local, remote, chunkSize, &sent)}
	}()

	// Wait for one direction to complete
	first := <-done
	cancel()

	if opts.Logger != nil {
		if first.err != nil {
			opts.Logger.Debug("Relay direction failed", logging.String("direction", first.dir.String()), logging.Error(first.err))
		} else {
			opts.Logger.Debug("Relay direction ended", logging.String("direction", first.dir.String()))
		}
	}

	// Join the other loop. A local stream that cannot be interrupted is
	// abandoned instead; its loop ends when the caller closes the stream.
	if interruptible || first.dir == DirectionOutbound {
		<-done
	}

	outcome := &Outcome{
		BytesSent:     sent.Load(),
		BytesReceived: received.Load(),
		EndedBy:       first.dir,
		Duration:      time.Since(start),
	}
	metrics.RelayDurationSeconds.Observe(outcome.Duration.Seconds())

	if err := ctx.Err(); err != nil {
		return outcome, err
	}
	return outcome, first.err
}

// copyInbound writes each gateway message to the local stream
func copyInbound(ctx context.Context, local io.Writer, remote Conn, received *atomic.Int64) error {
	counter := metrics.RelayBytesTotal.WithLabelValues(metrics.DirectionInbound)

	for {
		data, err := remote.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &IOError{Direction: DirectionInbound, Err: err}
		}

		if len(data) == 0 {
			continue
		}

		n, err := local.Write(data)
		received.Add(int64(n))
		counter.Add(float64(n))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &IOError{Direction: DirectionInbound, Err: err}
		}
	}
}

// copyOutbound sends each local read to the gateway as one message
func copyOutbound(ctx context.Context, local io.Reader, remote Conn, chunkSize int, sent *atomic.Int64) error {
	counter := metrics.RelayBytesTotal.WithLabelValues(metrics.DirectionOutbound)
	buf := make([]byte, chunkSize)

	for {
		n, readErr := local.Read(buf)
		if n > 0 {
			if err := remote.Send(ctx, buf[:n]); err != nil {
				if errors.Is(err, ErrConnectionClosed) {
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &IOError{Direction: DirectionOutbound, Err: err}
			}
			sent.Add(int64(n))
			counter.Add(float64(n))
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, net.ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &IOError{Direction: DirectionOutbound, Err: readErr}
		}
	}
}
