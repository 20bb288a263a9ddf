package shoonya

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/quantrail/shoonya-stream/errs"
	"github.com/quantrail/shoonya-stream/internal/observability"
	"github.com/quantrail/shoonya-stream/internal/schema"
)

// State models the transport connection lifecycle.
type State int32

const (
	// StateDisconnected means no connection exists and none is being attempted.
	StateDisconnected State = iota
	// StateConnecting means a dial or handshake is in progress.
	StateConnecting
	// StateConnected means the handshake succeeded and the receive loop runs.
	StateConnected
	// StateDraining means an explicit stop is waiting for the receive loop.
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// WireConn abstracts the duplex connection owned by the transport. Exactly one
// reader (the receive loop) and serialized writers operate on it.
type WireConn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Close() error
}

// DialFunc opens a wire connection to the vendor endpoint.
type DialFunc func(ctx context.Context, url string) (WireConn, error)

// TransportConfig carries transport tuning knobs.
type TransportConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	JoinTimeout      time.Duration
	BackoffSeed      time.Duration
	BackoffCeiling   time.Duration
}

func (c *TransportConfig) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 5 * time.Second
	}
	if c.BackoffSeed <= 0 {
		c.BackoffSeed = 10 * time.Millisecond
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = 30 * time.Second
	}
}

// Transport owns the single duplex connection to the vendor: it connects,
// authenticates, replies to heartbeats, recovers with backoff, and forwards
// every other inbound frame to the handler in arrival order.
type Transport struct {
	cfg   TransportConfig
	creds schema.Credentials
	dial  DialFunc

	handler   func([]byte) error
	onUp      func()
	errorChan chan<- error

	ctx    context.Context
	cancel context.CancelFunc

	conn    WireConn
	writeMu sync.Mutex

	state atomic.Int32

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	started   atomic.Bool
	stopped   atomic.Bool

	metrics *transportMetrics
}

// NewTransport creates a transport for the given endpoint and session. The
// handler receives every inbound frame except heartbeats and the handshake
// acknowledgement consumed during connect; onUp fires after every successful
// handshake, including reconnects.
func NewTransport(cfg TransportConfig, creds schema.Credentials, handler func([]byte) error, onUp func(), errorChan chan<- error) *Transport {
	cfg.applyDefaults()
	return &Transport{
		cfg:       cfg,
		creds:     creds,
		dial:      dialWebsocket,
		handler:   handler,
		onUp:      onUp,
		errorChan: errorChan,
		ctx:       nil,
		cancel:    nil,
		conn:      nil,
		writeMu:   sync.Mutex{},
		state:     atomic.Int32{},
		ready:     make(chan struct{}),
		readyOnce: sync.Once{},
		done:      make(chan struct{}),
		started:   atomic.Bool{},
		stopped:   atomic.Bool{},
		metrics:   newTransportMetrics(),
	}
}

// WithDialer overrides the connection dialer, primarily for testing.
func (t *Transport) WithDialer(dial DialFunc) *Transport {
	if dial != nil {
		t.dial = dial
	}
	return t
}

// State reports the current lifecycle state.
func (t *Transport) State() State {
	return State(t.state.Load())
}

// Start establishes the connection in a background goroutine and blocks until
// the first handshake completes or the handshake timeout elapses.
func (t *Transport) Start(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return errs.New("transport.start", errs.CodeInvalid, errs.WithMessage("transport already started"))
	}
	t.ctx, t.cancel = context.WithCancel(ctx)

	go func() {
		defer close(t.done)
		if err := t.run(); err != nil && !errors.Is(err, context.Canceled) {
			t.reportError(fmt.Errorf("transport run: %w", err))
		}
		t.state.Store(int32(StateDisconnected))
	}()

	select {
	case <-t.ready:
		return nil
	case <-time.After(t.cfg.HandshakeTimeout):
		return errs.New("transport.start", errs.CodeTimeout,
			errs.WithMessage("timeout waiting for connect acknowledgement"))
	case <-t.ctx.Done():
		return errs.New("transport.start", errs.CodeNetwork, errs.WithCause(t.ctx.Err()))
	}
}

// Stop signals the receive loop to exit, closes the connection, and waits for
// the receive goroutine with a bounded join. Repeated calls are no-ops.
func (t *Transport) Stop() error {
	if !t.started.Load() || !t.stopped.CompareAndSwap(false, true) {
		return nil
	}
	t.state.Store(int32(StateDraining))
	t.cancel()

	t.writeMu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.writeMu.Unlock()

	select {
	case <-t.done:
		t.state.Store(int32(StateDisconnected))
		return nil
	case <-time.After(t.cfg.JoinTimeout):
		return errs.New("transport.stop", errs.CodeTimeout,
			errs.WithMessage("receive loop did not exit before join timeout"))
	}
}

// Send writes one outbound frame. It serializes with the heartbeat-reply path
// over the single connection and fails fast when disconnected; the transport
// never buffers outbound traffic.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	if t.State() != StateConnected {
		return errs.NotConnected("transport.send")
	}
	return t.writeFrame(ctx, payload)
}

func (t *Transport) writeFrame(ctx context.Context, payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return errs.NotConnected("transport.send")
	}
	writeCtx, cancel := context.WithTimeout(ctx, t.cfg.WriteTimeout)
	defer cancel()
	if err := t.conn.Write(writeCtx, payload); err != nil {
		return errs.New("transport.send", errs.CodeNetwork, errs.WithCause(err))
	}
	t.metrics.framesSent(ctx)
	return nil
}

// run maintains the connection with automatic reconnection and exponential
// backoff, seeded small and capped by policy.
func (t *Transport) run() error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.cfg.BackoffSeed
	bo.MaxInterval = t.cfg.BackoffCeiling
	bo.Multiplier = 2

	for {
		select {
		case <-t.ctx.Done():
			return context.Canceled
		default:
		}
		t.state.Store(int32(StateConnecting))

		conn, err := t.dial(t.ctx, t.cfg.URL)
		if err != nil {
			t.reportError(errs.New("transport.dial", errs.CodeNetwork, errs.WithCause(err)))
			if sleepErr := t.sleep(bo.NextBackOff()); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		if err := t.handshake(conn); err != nil {
			_ = conn.Close()
			t.reportError(err)
			if sleepErr := t.sleep(bo.NextBackOff()); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		t.writeMu.Lock()
		t.conn = conn
		t.writeMu.Unlock()
		t.state.Store(int32(StateConnected))
		bo.Reset()
		t.metrics.connected(t.ctx)
		observability.Log().Info("websocket connected", observability.F("url", t.cfg.URL))

		t.readyOnce.Do(func() { close(t.ready) })
		if t.onUp != nil {
			t.onUp()
		}

		err = t.readLoop(conn)

		t.writeMu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.writeMu.Unlock()

		if errors.Is(err, context.Canceled) || t.ctx.Err() != nil {
			return context.Canceled
		}
		t.reportError(errs.New("transport.receive", errs.CodeNetwork, errs.WithCause(err)))
		if sleepErr := t.sleep(bo.NextBackOff()); sleepErr != nil {
			return sleepErr
		}
	}
}

// handshake sends the connect frame and waits for the vendor acknowledgement.
// A non-OK acknowledgement fails the attempt; tokens refresh out-of-band, so
// the caller retries on the next connect.
func (t *Transport) handshake(conn WireConn) error {
	frame, err := EncodeConnect(t.creds)
	if err != nil {
		return err
	}
	hsCtx, cancel := context.WithTimeout(t.ctx, t.cfg.HandshakeTimeout)
	defer cancel()

	if err := conn.Write(hsCtx, frame); err != nil {
		return errs.New("transport.handshake", errs.CodeNetwork, errs.WithCause(err))
	}

	for {
		payload, err := conn.Read(hsCtx)
		if err != nil {
			return errs.New("transport.handshake", errs.CodeNetwork, errs.WithCause(err))
		}
		var ack wireConnectAck
		if jsonErr := json.Unmarshal(payload, &ack); jsonErr != nil {
			// Malformed frames never tear the connection down; drop and keep
			// waiting for the acknowledgement.
			continue
		}
		if ack.Type != "ck" {
			// The vendor occasionally interleaves data before the ack; forward
			// it so arrival order is preserved.
			t.forward(payload)
			continue
		}
		if ack.Status != "OK" {
			return errs.New("transport.handshake", errs.CodeAuth,
				errs.WithMessage("connect rejected"),
				errs.WithRawCode(ack.Status),
				errs.WithRawMessage(ack.Message))
		}
		// The successful ack is forwarded too: downstream hooks observe the
		// (re)connect through the dispatcher.
		t.forward(payload)
		return nil
	}
}

// readLoop consumes inbound frames until the connection fails or the context
// is cancelled. Heartbeats are answered synchronously from here, under the
// same write lock as caller-initiated sends.
func (t *Transport) readLoop(conn WireConn) error {
	for {
		payload, err := conn.Read(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return context.Canceled
			}
			_ = conn.Close()
			return fmt.Errorf("read: %w", err)
		}
		t.metrics.frameReceived(t.ctx)

		var tag wireTag
		if err := json.Unmarshal(payload, &tag); err == nil && tag.Type == "h" {
			t.metrics.heartbeat(t.ctx)
			if err := t.writeFrame(t.ctx, EncodeHeartbeatReply()); err != nil {
				t.reportError(fmt.Errorf("heartbeat reply: %w", err))
			}
			continue
		}

		t.forward(payload)
	}
}

func (t *Transport) forward(payload []byte) {
	if t.handler == nil {
		return
	}
	if err := t.handler(payload); err != nil {
		t.reportError(fmt.Errorf("handle frame: %w", err))
	}
}

func (t *Transport) sleep(d time.Duration) error {
	select {
	case <-t.ctx.Done():
		return context.Canceled
	case <-time.After(d):
		return nil
	}
}

func (t *Transport) reportError(err error) {
	if err == nil || t.errorChan == nil {
		return
	}
	select {
	case <-t.ctx.Done():
	case t.errorChan <- err:
	default:
	}
}

// dialWebsocket is the production dialer backed by coder/websocket.
func dialWebsocket(ctx context.Context, url string) (WireConn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) Read(ctx context.Context) ([]byte, error) {
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if msgType != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (c *websocketConn) Write(ctx context.Context, payload []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *websocketConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "shutdown")
}
