package relay

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestPipe_SendReceive(t *testing.T) {
	a, b := NewPipe()
	ctx := context.Background()

	payload := []byte("hello")
	go func() {
		_ = a.Send(ctx, payload)
	}()

	msg, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(msg) != "hello" {
		t.Errorf("Expected %q, got %q", "hello", msg)
	}
}

func TestPipe_SendCopiesMessage(t *testing.T) {
	a, b := NewPipe()
	ctx := context.Background()

	buf := []byte("abc")
	go func() {
		_ = a.Send(ctx, buf)
		buf[0] = 'x'
	}()

	msg, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(msg) != "abc" {
		t.Errorf("Expected received message to be unaffected by later writes, got %q", msg)
	}
}

func TestPipe_PeerClose(t *testing.T) {
	a, b := NewPipe()
	ctx := context.Background()

	_ = a.Close()

	if _, err := b.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF from peer, got: %v", err)
	}
	if err := b.Send(ctx, []byte("x")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed sending to closed peer, got: %v", err)
	}
	if _, err := a.Receive(ctx); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed on closed end, got: %v", err)
	}
}

func TestPipe_CloseTwice(t *testing.T) {
	a, _ := NewPipe()

	if err := a.Close(); err != nil {
		t.Errorf("Expected nil error, got: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Expected nil error on second Close, got: %v", err)
	}
}

func TestPipe_ReceiveCancelled(t *testing.T) {
	_, b := NewPipe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := b.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got: %v", err)
	}
}
