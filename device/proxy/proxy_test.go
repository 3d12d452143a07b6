package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/goleak"

	"github.com/julienstroheker/devicestream/internal/controlplane"
	"github.com/julienstroheker/devicestream/internal/relay"
)

// pipeGateway hands out in-memory gateway connections and keeps the far ends
type pipeGateway struct {
	mu     sync.Mutex
	tokens []string
	fail   error
	peers  chan relay.Conn
}

func newPipeGateway() *pipeGateway {
	return &pipeGateway{peers: make(chan relay.Conn, 4)}
}

func (g *pipeGateway) Connect(_ context.Context, _ string, token string) (relay.Conn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens = append(g.tokens, token)
	if g.fail != nil {
		return nil, g.fail
	}
	a, b := relay.NewPipe()
	g.peers <- b
	return a, nil
}

func (g *pipeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tokens)
}

// pipeTarget plays the local TCP service
type pipeTarget struct {
	peers chan net.Conn
}

func newPipeTarget() *pipeTarget {
	return &pipeTarget{peers: make(chan net.Conn, 4)}
}

func (p *pipeTarget) DialContext(context.Context, string, string) (net.Conn, error) {
	a, b := net.Pipe()
	p.peers <- b
	return a, nil
}

func newHub(t *testing.T) *controlplane.Hub {
	t.Helper()
	hub, err := controlplane.NewHub(&controlplane.HubOptions{
		Issuer: controlplane.IssuerFunc(func(_ context.Context, _, streamName string) (*controlplane.Issued, error) {
			return &controlplane.Issued{
				StreamName:   streamName,
				URL:          "wss://gw.example/streams/" + streamName,
				DeviceToken:  "device-token",
				ServiceToken: "service-token",
			}, nil
		}),
		DecisionTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	return hub
}

func startProxy(t *testing.T, opts *Options) (cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- p.Run(ctx, nil)
	}()
	return cancel, errs
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestNew_RequiresSource(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("Expected error for nil options")
	}
	if _, err := New(&Options{}); err == nil {
		t.Error("Expected error for missing source")
	}
}

func TestRun_AcceptedStream(t *testing.T) {
	hub := newHub(t)
	dev := hub.Connect("dev1")
	defer func() { _ = dev.Close() }()

	gateway := newPipeGateway()
	target := newPipeTarget()

	cancel, done := startProxy(t, &Options{
		Source:      dev,
		Dialer:      gateway,
		LocalDialer: target,
	})
	defer cancel()

	grant, err := hub.RequestStream(context.Background(), "dev1", "ServiceStream")
	if err != nil {
		t.Fatalf("RequestStream failed: %v", err)
	}
	if !grant.IsAccepted {
		t.Fatal("Expected grant to be accepted")
	}

	var remote relay.Conn
	var local net.Conn
	select {
	case remote = <-gateway.peers:
	case <-time.After(2 * time.Second):
		t.Fatal("Gateway was not dialed")
	}
	select {
	case local = <-target.peers:
	case <-time.After(2 * time.Second):
		t.Fatal("Target was not dialed")
	}

	ctx := context.Background()
	if err := remote.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(local, buf); err != nil {
		t.Fatalf("Local read failed: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("Expected 'hello' at the target, got '%s'", buf)
	}

	if _, err := local.Write([]byte("world")); err != nil {
		t.Fatalf("Local write failed: %v", err)
	}
	msg, err := remote.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(msg) != "world" {
		t.Errorf("Expected 'world' at the gateway, got '%s'", msg)
	}

	// Closing the target ends the session and closes the gateway stream
	_ = local.Close()
	if _, err := remote.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after session end, got: %v", err)
	}

	if gateway.tokens[0] != "device-token" {
		t.Errorf("Expected device token on gateway dial, got '%s'", gateway.tokens[0])
	}

	cancel()
	if err := waitRun(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

func TestRun_RejectedStreamDialsNothing(t *testing.T) {
	hub := newHub(t)
	dev := hub.Connect("dev1")
	defer func() { _ = dev.Close() }()

	gateway := newPipeGateway()
	target := newPipeTarget()

	cancel, done := startProxy(t, &Options{
		Source:      dev,
		Policy:      RejectAll,
		Dialer:      gateway,
		LocalDialer: target,
	})

	grant, err := hub.RequestStream(context.Background(), "dev1", "ServiceStream")
	if err != nil {
		t.Fatalf("RequestStream failed: %v", err)
	}
	if grant.IsAccepted {
		t.Error("Expected grant to be rejected")
	}

	cancel()
	_ = waitRun(t, done)

	if gateway.calls() != 0 {
		t.Errorf("Expected no gateway dial, got %d", gateway.calls())
	}
	if len(target.peers) != 0 {
		t.Errorf("Expected no target dial, got %d", len(target.peers))
	}
}

// flakySource returns (nil, nil) a few times before blocking
type flakySource struct {
	empty atomic.Int32
	calls atomic.Int32
}

func (s *flakySource) WaitForStreamRequest(ctx context.Context) (*controlplane.StreamRequest, error) {
	n := s.calls.Add(1)
	if n <= s.empty.Load() {
		return nil, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *flakySource) Accept(context.Context, *controlplane.StreamRequest) error { return nil }
func (s *flakySource) Reject(context.Context, *controlplane.StreamRequest) error { return nil }

func TestRun_ClosedChannelReturnsToWaiting(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	source := &flakySource{}
	source.empty.Store(3)

	cancel, done := startProxy(t, &Options{
		Source:  source,
		Backoff: &backoff.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond},
	})

	deadline := time.Now().Add(2 * time.Second)
	for source.calls.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := source.calls.Load(); got < 4 {
		t.Errorf("Expected the loop to keep waiting, got %d calls", got)
	}

	cancel()
	if err := waitRun(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

func TestRun_CancelWhileWaiting(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := newHub(t)
	dev := hub.Connect("dev1")
	defer func() { _ = dev.Close() }()

	cancel, done := startProxy(t, &Options{Source: dev})

	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := waitRun(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

func TestHandleRequest_GatewayFailureClosesLocal(t *testing.T) {
	hub := newHub(t)
	dev := hub.Connect("dev1")
	defer func() { _ = dev.Close() }()

	gateway := newPipeGateway()
	gateway.fail = &relay.ConnectError{Target: "wss://gw.example", StatusCode: 401, Err: errors.New("bad handshake")}
	target := newPipeTarget()

	p, err := New(&Options{Source: dev, Dialer: gateway, LocalDialer: target})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	answered := make(chan error, 1)
	go func() {
		_, err := hub.RequestStream(context.Background(), "dev1", "ServiceStream")
		answered <- err
	}()

	req, err := dev.WaitForStreamRequest(context.Background())
	if err != nil || req == nil {
		t.Fatalf("Expected a request, got (%v, %v)", req, err)
	}

	err = p.HandleRequest(context.Background(), req, nil)
	if !errors.Is(err, relay.ErrConnectFailed) {
		t.Errorf("Expected ErrConnectFailed, got: %v", err)
	}
	if err := <-answered; err != nil {
		t.Errorf("Expected the request to be answered, got: %v", err)
	}

	// The target connection, if it was opened, must be closed
	select {
	case local := <-target.peers:
		_ = local.SetReadDeadline(time.Now().Add(time.Second))
		if _, err := local.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
			t.Errorf("Expected target connection to be closed, got: %v", err)
		}
	default:
	}
}
