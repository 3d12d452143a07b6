package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeGracePeriod bounds how long Close waits to deliver the close frame
const closeGracePeriod = time.Second

// Conn is one side of a gateway stream. Each Send is delivered to the peer as
// one complete message and each Receive returns one message.
//
// One goroutine may call Receive while another calls Send. Close may be called
// from any goroutine, any number of times.
type Conn interface {
	// Receive waits for the next message. It returns io.EOF once the peer closed normally.
	Receive(ctx context.Context) ([]byte, error)

	// Send delivers p as a single binary message
	Send(ctx context.Context, p []byte) error

	// Close ends the stream with a normal closure
	Close() error
}

// wsConn adapts a gorilla WebSocket connection to Conn
type wsConn struct {
	conn *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an established WebSocket connection
func NewConn(conn *websocket.Conn) Conn {
	return &wsConn{conn: conn}
}

// Receive reads the next data message from the WebSocket
func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The underlying net.Conn is safe for concurrent use; moving its deadline
	// unblocks a pending read when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.UnderlyingConn().SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}

	return data, nil
}

// Send writes p as one binary message
func (c *wsConn) Send(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.UnderlyingConn().SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
			return ErrConnectionClosed
		}
		return err
	}

	return nil
}

// Close sends a normal closure frame and closes the connection
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

var _ Conn = (*wsConn)(nil)
