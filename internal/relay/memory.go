package relay

import (
	"context"
	"io"
	"sync"
)

// memoryConn is one end of an in-memory message pipe. Messages are handed
// over synchronously, so Send blocks until the peer receives.
type memoryConn struct {
	in  <-chan []byte
	out chan<- []byte

	closed     chan struct{}
	peerClosed <-chan struct{}
	once       sync.Once
}

// NewPipe creates a connected pair of in-memory Conns.
// A message sent on one end is received on the other.
func NewPipe() (Conn, Conn) {
	aToB := make(chan []byte)
	bToA := make(chan []byte)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})

	a := &memoryConn{in: bToA, out: aToB, closed: aClosed, peerClosed: bClosed}
	b := &memoryConn{in: aToB, out: bToA, closed: bClosed, peerClosed: aClosed}
	return a, b
}

// Receive returns the next message from the peer
func (c *memoryConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, ErrConnectionClosed
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrConnectionClosed
	case <-c.peerClosed:
		return nil, io.EOF
	case msg := <-c.in:
		return msg, nil
	}
}

// Send hands a copy of p to the peer
func (c *memoryConn) Send(ctx context.Context, p []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	msg := make([]byte, len(p))
	copy(msg, p)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrConnectionClosed
	case <-c.peerClosed:
		return ErrConnectionClosed
	case c.out <- msg:
		return nil
	}
}

// Close closes this end; the peer observes io.EOF
func (c *memoryConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
	})
	return nil
}

var _ Conn = (*memoryConn)(nil)
