// Package ordermanager composes the transport, dispatcher, subscription
// tracker, and reconciliation ledger into a single start/stop lifecycle.
package ordermanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantrail/shoonya-stream/errs"
	"github.com/quantrail/shoonya-stream/internal/dispatcher"
	"github.com/quantrail/shoonya-stream/internal/ledger"
	"github.com/quantrail/shoonya-stream/internal/observability"
	"github.com/quantrail/shoonya-stream/internal/schema"
	"github.com/quantrail/shoonya-stream/internal/shoonya"
)

// Trading session close: 15:30 IST (UTC+5:30).
var sessionClose = struct {
	hour, minute int
	zone         *time.Location
}{15, 30, time.FixedZone("IST", 5*3600+30*60)}

// PnLFeed receives the aggregate PnL and its breakdown trail after every tick
// that updates the ledger.
type PnLFeed func(total float64, breakdown string)

// Config carries orchestration settings.
type Config struct {
	Transport   shoonya.TransportConfig
	Credentials schema.Credentials
	// StoreTimeout bounds each ledger store round trip so a slow store cannot
	// wedge the receive loop's heartbeat-reply path.
	StoreTimeout time.Duration
	// FailureThreshold is how many consecutive transport errors accumulate
	// before the condition is escalated to the error log.
	FailureThreshold int
}

func (c *Config) applyDefaults() {
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
}

// Manager wires the streaming side to the reconciliation ledger.
type Manager struct {
	cfg       Config
	transport *shoonya.Transport
	tracker   *shoonya.SubscriptionTracker
	ledger    *ledger.Ledger
	feed      PnLFeed
	clock     func() time.Time

	errorChan chan error
	failures  atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// New creates a manager over the given ledger store. The feed may be nil.
func New(cfg Config, store ledger.Store, feed PnLFeed) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:       cfg,
		transport: nil,
		tracker:   nil,
		ledger:    ledger.New(store, ledger.NewInstanceID(time.Now)),
		feed:      feed,
		clock:     time.Now,
		errorChan: make(chan error, 16),
		failures:  atomic.Int64{},
		ctx:       nil,
		cancel:    nil,
		wg:        sync.WaitGroup{},
		running:   atomic.Bool{},
	}
	m.transport = shoonya.NewTransport(cfg.Transport, cfg.Credentials, m.handleFrame, m.onReconnect, m.errorChan)
	m.tracker = shoonya.NewSubscriptionTracker(m.transport)
	return m
}

// WithClock overrides the manager clock, primarily for testing DayOver.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	if clock != nil {
		m.clock = clock
	}
	return m
}

// Ledger exposes the reconciliation ledger for queries.
func (m *Manager) Ledger() *ledger.Ledger { return m.ledger }

// Remark mints an instance-prefixed unique remark for order placement, so the
// ownership gate recognises this run's placement confirmations.
func (m *Manager) Remark(tag string) string {
	return fmt.Sprintf("%s_%s_%s", m.ledger.Instance(), tag, uuid.NewString())
}

// Start brings up the transport and begins consuming transport errors. It
// blocks until the first connect handshake completes or times out.
func (m *Manager) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errs.New("manager.start", errs.CodeInvalid, errs.WithMessage("manager already started"))
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.consumeErrors()

	if err := m.transport.Start(m.ctx); err != nil {
		m.cancel()
		return fmt.Errorf("start transport: %w", err)
	}
	return nil
}

// Stop tears the transport down and waits for the error consumer. Safe to
// call from any goroutine; repeated calls are no-ops.
func (m *Manager) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	err := m.transport.Stop()
	m.cancel()
	m.wg.Wait()
	return err
}

// Subscribe records the keys and issues a subscribe command.
func (m *Manager) Subscribe(ctx context.Context, keys []string) error {
	return m.tracker.Subscribe(ctx, keys)
}

// Unsubscribe removes the keys and issues an unsubscribe command.
func (m *Manager) Unsubscribe(ctx context.Context, keys []string) error {
	return m.tracker.Unsubscribe(ctx, keys)
}

// Subscriptions returns the tracked instrument keys.
func (m *Manager) Subscriptions() []string { return m.tracker.Snapshot() }

// DayOver reports whether the trading session close has passed.
func (m *Manager) DayOver() bool {
	now := m.clock().In(sessionClose.zone)
	boundary := time.Date(now.Year(), now.Month(), now.Day(),
		sessionClose.hour, sessionClose.minute, 0, 0, sessionClose.zone)
	return now.After(boundary)
}

// PnL returns the current aggregate PnL and breakdown trail.
func (m *Manager) PnL(ctx context.Context) (float64, []string, error) {
	return m.ledger.PnL(ctx)
}

func (m *Manager) onReconnect() {
	timeout := m.cfg.Transport.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(m.ctx, timeout)
	defer cancel()
	if err := m.tracker.Resubscribe(ctx); err != nil {
		m.reportError(fmt.Errorf("resubscribe: %w", err))
	}
}

// handleFrame runs inside the transport receive loop: decode, route, update
// the ledger. Malformed frames are logged and dropped; the connection stays
// up.
func (m *Manager) handleFrame(payload []byte) error {
	env, err := shoonya.Decode(payload)
	if err != nil {
		observability.Log().Error("dropping malformed frame", observability.F("err", err))
		return nil
	}
	dispatcher.Route(env, dispatcher.Hooks{
		OnConnectAck:  m.onConnectAck,
		OnTick:        m.onTick,
		OnOrderUpdate: m.onOrderUpdate,
		OnError:       m.reportError,
		OnUnknown:     m.onUnknown,
	})
	return nil
}

func (m *Manager) onConnectAck(ack schema.ConnectAck) {
	m.failures.Store(0)
	observability.Log().Info("session acknowledged", observability.F("uid", ack.UserID))
}

func (m *Manager) onTick(tick schema.Tick) {
	ctx, cancel := m.storeContext()
	defer cancel()

	updated, err := m.ledger.OnTick(ctx, tick)
	if err != nil {
		m.reportError(fmt.Errorf("apply tick: %w", err))
		return
	}
	if !updated || m.feed == nil {
		return
	}
	total, breakdown, err := m.ledger.PnL(ctx)
	if err != nil {
		m.reportError(fmt.Errorf("compute pnl: %w", err))
		return
	}
	m.feed(total, strings.Join(breakdown, "\n"))
}

func (m *Manager) onOrderUpdate(evt schema.OrderUpdate) {
	// Order events from other processes sharing the vendor feed carry foreign
	// remarks; they are not ours to reconcile.
	if !m.ledger.OwnsRemark(evt.Remarks) {
		observability.Log().Debug("ignoring foreign order update",
			observability.F("order_no", evt.OrderNo))
		return
	}

	ctx, cancel := m.storeContext()
	defer cancel()

	if err := m.ledger.OnOrderUpdate(ctx, evt); err != nil {
		m.reportError(fmt.Errorf("apply order update: %w", err))
		return
	}
	if evt.SymbolCode != "" {
		if err := m.ledger.OnPlacementConfirmed(ctx, evt); err != nil {
			m.reportError(fmt.Errorf("apply placement confirmation: %w", err))
		}
	}
}

func (m *Manager) onUnknown(env *schema.Envelope) {
	observability.Log().Debug("discarding unknown frame", observability.F("raw", string(env.Raw)))
}

func (m *Manager) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(m.ctx, m.cfg.StoreTimeout)
}

func (m *Manager) reportError(err error) {
	if err == nil {
		return
	}
	select {
	case m.errorChan <- err:
	default:
		observability.Log().Error("error channel full, dropping", observability.F("err", err))
	}
}

func (m *Manager) consumeErrors() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case err := <-m.errorChan:
			if err == nil {
				continue
			}
			count := m.failures.Add(1)
			if errors.Is(err, context.Canceled) {
				continue
			}
			if count >= int64(m.cfg.FailureThreshold) && count%int64(m.cfg.FailureThreshold) == 0 {
				observability.Log().Error("persistent transport failures",
					observability.F("consecutive", count),
					observability.F("err", err))
				continue
			}
			observability.Log().Info("transport error",
				observability.F("consecutive", count),
				observability.F("err", err))
		}
	}
}
