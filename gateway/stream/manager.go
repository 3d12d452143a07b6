// Package stream pairs the two halves of a gateway stream and pipes messages
// between them.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/julienstroheker/devicestream/gateway/store"
	"github.com/julienstroheker/devicestream/internal/logging"
	"github.com/julienstroheker/devicestream/internal/metrics"
	"github.com/julienstroheker/devicestream/internal/relay"
)

// DefaultPairTimeout bounds how long a half waits for its peer
const DefaultPairTimeout = 30 * time.Second

var (
	// ErrPeerTimeout is returned when the other side never connected
	ErrPeerTimeout = errors.New("peer did not connect in time")

	// ErrSideTaken is returned when the same side of a stream joins twice
	ErrSideTaken = errors.New("stream side already connected")

	// ErrManagerClosed is returned by Join after Close
	ErrManagerClosed = errors.New("stream manager closed")
)

// half is a connected side waiting for its peer
type half struct {
	side   store.Side
	conn   relay.Conn
	paired chan struct{}
	done   chan struct{}
}

// Manager holds pending halves keyed by stream id
type Manager struct {
	timeout time.Duration
	logger  *logging.Logger

	mu      sync.Mutex
	pending map[string]*half
	closed  bool
	done    chan struct{}
}

// Options configures the stream manager
type Options struct {
	// PairTimeout bounds the wait for the peer (default: DefaultPairTimeout)
	PairTimeout time.Duration

	// Logger is used for debug logging (optional)
	Logger *logging.Logger
}

// NewManager creates a new stream manager
func NewManager(opts *Options) *Manager {
	if opts == nil {
		opts = &Options{}
	}

	timeout := opts.PairTimeout
	if timeout <= 0 {
		timeout = DefaultPairTimeout
	}

	return &Manager{
		timeout: timeout,
		logger:  opts.Logger,
		pending: make(map[string]*half),
		done:    make(chan struct{}),
	}
}

// Join attaches conn as side of streamID and blocks until the stream is over.
// The first half waits for its peer; the second one pipes messages between
// the two until either closes. Both connections are closed when the stream
// ends. A half that is never paired gets ErrPeerTimeout, ErrManagerClosed or
// ctx.Err(), and conn is left open for the caller to close.
func (m *Manager) Join(ctx context.Context, streamID string, side store.Side, conn relay.Conn) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}

	if peer, ok := m.pending[streamID]; ok {
		if peer.side == side {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s side of %s", ErrSideTaken, side, streamID)
		}
		delete(m.pending, streamID)
		m.mu.Unlock()

		metrics.PendingStreams.Dec()
		metrics.PairedStreamsTotal.Inc()
		close(peer.paired)
		defer close(peer.done)

		if m.logger != nil {
			m.logger.Debug("Stream paired", logging.String("stream_id", streamID))
		}
		return pipe(ctx, conn, peer.conn)
	}

	h := &half{
		side:   side,
		conn:   conn,
		paired: make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.pending[streamID] = h
	m.mu.Unlock()
	metrics.PendingStreams.Inc()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	var err error
	select {
	case <-h.paired:
		<-h.done
		return nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = ErrPeerTimeout
	case <-m.done:
		err = ErrManagerClosed
	}

	// The peer may have taken this half while the wait was ending
	if !m.remove(streamID, h) {
		<-h.done
		return nil
	}

	if errors.Is(err, ErrPeerTimeout) {
		metrics.StreamTimeoutsTotal.Inc()
		if m.logger != nil {
			m.logger.Info("Stream peer did not connect", logging.String("stream_id", streamID), logging.String("side", string(side)))
		}
	}
	return err
}

// Pending returns the number of halves waiting for their peer
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close wakes every pending half with ErrManagerClosed; later Joins fail the same way
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// remove drops h if it is still pending under streamID
func (m *Manager) remove(streamID string, h *half) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending[streamID] != h {
		return false
	}
	delete(m.pending, streamID)
	metrics.PendingStreams.Dec()
	return true
}

// pipe forwards messages both ways until one side ends, then closes both
func pipe(ctx context.Context, a, b relay.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- forward(ctx, a, b) }()
	go func() { done <- forward(ctx, b, a) }()

	err := <-done
	cancel()
	_ = a.Close()
	_ = b.Close()
	<-done

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// forward copies messages from src to dst. A normal close of src is a clean end.
func forward(ctx context.Context, src, dst relay.Conn) error {
	for {
		msg, err := src.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, relay.ErrConnectionClosed) {
				return nil
			}
			return err
		}
		if err := dst.Send(ctx, msg); err != nil {
			if errors.Is(err, relay.ErrConnectionClosed) {
				return nil
			}
			return err
		}
	}
}
