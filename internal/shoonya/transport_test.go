package shoonya

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quantrail/shoonya-stream/errs"
	"github.com/quantrail/shoonya-stream/internal/schema"
)

// scriptConn is an in-memory wire connection. It acknowledges the connect
// frame with the configured status and records every outbound write.
type scriptConn struct {
	ackStatus string

	inbound chan []byte

	mu     sync.Mutex
	writes [][]byte

	closed    chan struct{}
	closeOnce sync.Once
}

func newScriptConn(ackStatus string) *scriptConn {
	return &scriptConn{
		ackStatus: ackStatus,
		inbound:   make(chan []byte, 16),
		writes:    nil,
		closed:    make(chan struct{}),
		closeOnce: sync.Once{},
	}
}

func (c *scriptConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-c.inbound:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *scriptConn) Write(ctx context.Context, payload []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), payload...))
	c.mu.Unlock()
	if strings.Contains(string(payload), `"t":"c"`) {
		c.inbound <- []byte(fmt.Sprintf(`{"t":"ck","s":%q,"uid":"FA1234"}`, c.ackStatus))
	}
	return nil
}

func (c *scriptConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *scriptConn) hasWrite(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.writes {
		if strings.Contains(string(w), substr) {
			return true
		}
	}
	return false
}

// scriptDialer hands out pre-built connections in order and errors once the
// script is exhausted.
type scriptDialer struct {
	mu    sync.Mutex
	conns []*scriptConn
}

func (d *scriptDialer) dial(_ context.Context, _ string) (WireConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil, errors.New("no more scripted connections")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

type frameRecorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *frameRecorder) handle(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), payload...))
	return nil
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *frameRecorder) contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.frames {
		if strings.Contains(string(f), substr) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testCreds() schema.Credentials {
	return schema.Credentials{UserID: "FA1234", AccountID: "FA1234", SessionToken: "tok", Source: "API"}
}

func TestTransportHandshakeAndForwardedAck(t *testing.T) {
	conn := newScriptConn("OK")
	dialer := &scriptDialer{conns: []*scriptConn{conn}}
	recorder := &frameRecorder{}

	tr := NewTransport(TransportConfig{URL: "ws://test"}, testCreds(), recorder.handle, nil, nil).
		WithDialer(dialer.dial)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := tr.State(); got != StateConnected {
		t.Fatalf("State() = %s, want connected", got)
	}
	// The connect acknowledgement is forwarded so downstream hooks see it.
	if !recorder.contains(`"t":"ck"`) {
		t.Fatalf("handler did not receive the connect acknowledgement")
	}
	if !conn.hasWrite(`"susertoken":"tok"`) {
		t.Fatalf("connect frame was not written")
	}

	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := tr.State(); got != StateDisconnected {
		t.Fatalf("State() after stop = %s, want disconnected", got)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestTransportSendFailsFastWhenDisconnected(t *testing.T) {
	tr := NewTransport(TransportConfig{URL: "ws://test"}, testCreds(), nil, nil, nil)
	started := time.Now()
	err := tr.Send(context.Background(), []byte(`{"t":"t","k":"NSE|618"}`))
	if !errors.Is(err, errs.New("", errs.CodeNotConnected)) {
		t.Fatalf("Send() error = %v, want not_connected", err)
	}
	if elapsed := time.Since(started); elapsed > 100*time.Millisecond {
		t.Fatalf("Send() took %s, want fast fail", elapsed)
	}
}

func TestTransportStartTimesOutWithoutAck(t *testing.T) {
	dialer := &scriptDialer{conns: nil}
	tr := NewTransport(TransportConfig{URL: "ws://test", HandshakeTimeout: 50 * time.Millisecond},
		testCreds(), nil, nil, nil).WithDialer(dialer.dial)
	err := tr.Start(context.Background())
	if !errors.Is(err, errs.New("", errs.CodeTimeout)) {
		t.Fatalf("Start() error = %v, want timeout", err)
	}
	_ = tr.Stop()
}

func TestTransportRetriesAfterRejectedHandshake(t *testing.T) {
	rejected := newScriptConn("NOT_OK")
	accepted := newScriptConn("OK")
	dialer := &scriptDialer{conns: []*scriptConn{rejected, accepted}}
	errCh := make(chan error, 16)

	tr := NewTransport(TransportConfig{URL: "ws://test"}, testCreds(), nil, nil, errCh).
		WithDialer(dialer.dial)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	var sawAuth bool
	for done := false; !done; {
		select {
		case err := <-errCh:
			if errors.Is(err, errs.New("", errs.CodeAuth)) {
				sawAuth = true
				done = true
			}
		default:
			done = true
		}
	}
	if !sawAuth {
		t.Fatalf("rejected handshake did not surface an auth error")
	}
	if got := tr.State(); got != StateConnected {
		t.Fatalf("State() = %s, want connected after retry", got)
	}
}

func TestTransportAnswersHeartbeats(t *testing.T) {
	conn := newScriptConn("OK")
	dialer := &scriptDialer{conns: []*scriptConn{conn}}
	recorder := &frameRecorder{}

	tr := NewTransport(TransportConfig{URL: "ws://test"}, testCreds(), recorder.handle, nil, nil).
		WithDialer(dialer.dial)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	conn.inbound <- []byte(`{"t":"h"}`)
	waitFor(t, "heartbeat reply", func() bool { return conn.hasWrite(`{"t":"h"}`) })

	// Heartbeats are consumed by the transport, never forwarded.
	conn.inbound <- []byte(`{"t":"tf","e":"NSE","tk":"618","lp":"120.50"}`)
	waitFor(t, "tick forward", func() bool { return recorder.contains(`"tk":"618"`) })
	if recorder.contains(`{"t":"h"}`) {
		t.Fatalf("heartbeat leaked to the handler")
	}
}

func TestTransportSerializesSendsWithHeartbeatReplies(t *testing.T) {
	conn := newScriptConn("OK")
	dialer := &scriptDialer{conns: []*scriptConn{conn}}

	tr := NewTransport(TransportConfig{URL: "ws://test"}, testCreds(), nil, nil, nil).
		WithDialer(dialer.dial)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	const sends = 20
	baseline := conn.writeCount()
	var wg sync.WaitGroup
	for i := 0; i < sends; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := []byte(fmt.Sprintf(`{"t":"t","k":"NSE|%d"}`, i))
			if err := tr.Send(context.Background(), payload); err != nil {
				t.Errorf("Send() error = %v", err)
			}
		}()
		conn.inbound <- []byte(`{"t":"h"}`)
	}
	wg.Wait()
	waitFor(t, "all frames written", func() bool {
		return conn.writeCount() >= baseline+2*sends
	})
}

func TestTransportReconnectsAndSignalsOnUp(t *testing.T) {
	first := newScriptConn("OK")
	second := newScriptConn("OK")
	dialer := &scriptDialer{conns: []*scriptConn{first, second}}
	var ups atomic.Int32

	tr := NewTransport(TransportConfig{URL: "ws://test"}, testCreds(), nil,
		func() { ups.Add(1) }, nil).WithDialer(dialer.dial)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()
	if got := ups.Load(); got != 1 {
		t.Fatalf("onUp fired %d times after start, want 1", got)
	}

	_ = first.Close()
	waitFor(t, "reconnect", func() bool {
		return ups.Load() == 2 && tr.State() == StateConnected
	})

	// Sends after the reconnect land on the new connection.
	if err := tr.Send(context.Background(), []byte(`{"t":"t","k":"NSE|618"}`)); err != nil {
		t.Fatalf("Send() after reconnect error = %v", err)
	}
	if !second.hasWrite(`"k":"NSE|618"`) {
		t.Fatalf("send did not reach the replacement connection")
	}
}

func TestTransportStartTwiceFails(t *testing.T) {
	conn := newScriptConn("OK")
	dialer := &scriptDialer{conns: []*scriptConn{conn}}

	tr := NewTransport(TransportConfig{URL: "ws://test"}, testCreds(), nil, nil, nil).
		WithDialer(dialer.dial)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()
	if err := tr.Start(context.Background()); !errors.Is(err, errs.New("", errs.CodeInvalid)) {
		t.Fatalf("second Start() error = %v, want invalid_request", err)
	}
}
