// Package push maintains the websocket subscriptions that let the engine
// react to chain events instead of polling: address activity, new blocks and
// fiat rate updates. One manager owns the connection to one chain's socket
// endpoint and transparently reconnects with tiered backoff, replaying every
// subscription on each new connection.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kwestra/tidesync/internal/chain"
	"github.com/kwestra/tidesync/internal/metrics"
	syncerr "github.com/kwestra/tidesync/pkg/errors"
)

// Defaults for connection upkeep.
const (
	DefaultReconnectCap = 50
	DefaultPingInterval = 30 * time.Second
	DefaultPongWait     = 10 * time.Second

	writeWait = 10 * time.Second
)

// callTimeout bounds the wait for a reply frame. Variable so tests can
// shrink it.
var callTimeout = 15 * time.Second

// ReconnectDelay returns the wait before reconnect attempt n (1-based).
// Early attempts retry quickly; persistent failure stretches the spacing.
func ReconnectDelay(attempt int) time.Duration {
	switch {
	case attempt <= 15:
		return 2 * time.Second
	case attempt <= 30:
		return 5 * time.Second
	case attempt <= 40:
		return 10 * time.Second
	default:
		return 15 * time.Second
	}
}

// Handler consumes the data payload of one push event.
type Handler func(data json.RawMessage)

// request is one client-to-server frame. Events for a subscription arrive
// carrying the id of the subscribe call that created it.
type request struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// response is one server-to-client frame, either a reply or a push event.
type response struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Options customizes a Manager.
type Options struct {
	Logger       *zap.Logger
	Dialer       *websocket.Dialer
	ReconnectCap int
	PingInterval time.Duration
	PongWait     time.Duration

	// OnUp fires when a connection is (re)established and subscriptions
	// have been replayed. OnDown fires when the connection is lost;
	// terminal means the reconnect budget is spent.
	OnUp   func()
	OnDown func(terminal bool)
}

// Manager owns the push connection to one chain endpoint.
type Manager struct {
	chainID chain.ID
	url     string
	logger  *zap.Logger
	dialer  *websocket.Dialer

	reconnectCap int
	pingInterval time.Duration
	pongWait     time.Duration
	onUp         func()
	onDown       func(terminal bool)

	nextID atomic.Int64

	mu      stdsync.Mutex
	conn    *websocket.Conn
	pending map[string]chan json.RawMessage
	subs    map[string]Handler // subscribe call id -> event handler

	// Desired subscription state, replayed after every reconnect.
	addresses    map[string]struct{}
	addrHandler  Handler
	blockHandler Handler
	ratesHandler Handler
	currencies   []string

	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a push manager for one chain's socket endpoint. It does
// not connect until Start.
func NewManager(chainID chain.ID, url string, opts *Options) *Manager {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	reconnectCap := opts.ReconnectCap
	if reconnectCap <= 0 {
		reconnectCap = DefaultReconnectCap
	}
	ping := opts.PingInterval
	if ping <= 0 {
		ping = DefaultPingInterval
	}
	pong := opts.PongWait
	if pong <= 0 {
		pong = DefaultPongWait
	}
	return &Manager{
		chainID:      chainID,
		url:          url,
		logger:       logger.With(zap.String("chain", string(chainID))),
		dialer:       dialer,
		reconnectCap: reconnectCap,
		pingInterval: ping,
		pongWait:     pong,
		onUp:         opts.OnUp,
		onDown:       opts.OnDown,
		pending:      map[string]chan json.RawMessage{},
		subs:         map[string]Handler{},
		addresses:    map[string]struct{}{},
	}
}

// SubscribeAddresses adds addresses to the watched set and registers the
// handler for their activity events. The set is additive and deduplicated;
// re-subscribing an address is a no-op. Takes effect immediately when
// connected, otherwise on the next (re)connect.
func (m *Manager) SubscribeAddresses(addrs []string, h Handler) error {
	m.mu.Lock()
	changed := false
	for _, a := range addrs {
		if _, ok := m.addresses[a]; !ok {
			m.addresses[a] = struct{}{}
			changed = true
		}
	}
	if h != nil {
		m.addrHandler = h
	}
	connected := m.conn != nil
	m.mu.Unlock()

	if !changed || !connected {
		return nil
	}
	return m.sendAddressSubscription()
}

// SubscribeNewBlock registers the handler for new-block events.
func (m *Manager) SubscribeNewBlock(h Handler) error {
	m.mu.Lock()
	m.blockHandler = h
	connected := m.conn != nil
	m.mu.Unlock()

	if !connected {
		return nil
	}
	_, err := m.subscribe("subscribeNewBlock", nil, h)
	return err
}

// SubscribeFiatRates registers the handler for fiat rate updates in the
// given currencies.
func (m *Manager) SubscribeFiatRates(currencies []string, h Handler) error {
	m.mu.Lock()
	m.currencies = append([]string(nil), currencies...)
	m.ratesHandler = h
	connected := m.conn != nil
	m.mu.Unlock()

	if !connected {
		return nil
	}
	_, err := m.subscribe("subscribeFiatRates", map[string]any{"currencies": currencies}, h)
	return err
}

// Start launches the connection loop. It returns immediately.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.started = true
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop closes the connection and terminates the loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.started = false
	conn := m.conn
	m.mu.Unlock()

	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done
}

// Connected reports whether a live connection exists.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	retries := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
		if err != nil {
			retries++
			if retries > m.reconnectCap {
				m.logger.Error("push connection abandoned",
					zap.Int("attempts", retries-1),
					zap.Error(err))
				if m.onDown != nil {
					m.onDown(true)
				}
				return
			}
			delay := ReconnectDelay(retries)
			m.logger.Warn("push connect failed",
				zap.Int("attempt", retries),
				zap.Duration("retryIn", delay),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		if retries > 0 {
			metrics.Global.RecordReconnect()
		}
		retries = 0
		m.logger.Info("push connection established")

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		// Replay runs concurrently with the read loop: subscribe calls
		// block on their acks, which only the read loop can deliver.
		go func() {
			m.replaySubscriptions()
			if m.onUp != nil {
				m.onUp()
			}
		}()

		m.serve(ctx, conn)

		m.mu.Lock()
		m.conn = nil
		m.failPending()
		m.subs = map[string]Handler{}
		m.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("push connection lost")
		if m.onDown != nil {
			m.onDown(false)
		}
	}
}

// serve reads frames until the connection dies, keeping it alive with
// application-level pings during silence. Frames are dispatched from the
// reader goroutine so pending replies (subscription acks, pongs) complete
// even while serve itself is blocked inside a ping.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) {
	readErr := make(chan error, 1)
	activity := make(chan struct{}, 1)
	go func() {
		for {
			var frame response
			if err := conn.ReadJSON(&frame); err != nil {
				readErr <- err
				return
			}
			m.dispatch(frame)
			select {
			case activity <- struct{}{}:
			default:
			}
		}
	}()

	idle := time.NewTimer(m.pingInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-readErr:
			return
		case <-activity:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.pingInterval)
		case <-idle.C:
			// Nothing heard for a full interval: check with a lightweight
			// call; a peer that stays silent past the pong window is dead.
			if !m.ping(conn) {
				m.logger.Warn("push connection unresponsive")
				_ = conn.Close()
				return
			}
			idle.Reset(m.pingInterval)
		}
	}
}

func (m *Manager) ping(conn *websocket.Conn) bool {
	id := strconv.FormatInt(m.nextID.Add(1), 10)
	ch := make(chan json.RawMessage, 1)

	m.mu.Lock()
	m.pending[id] = ch
	err := m.write(conn, request{ID: id, Method: "ping"})
	m.mu.Unlock()
	if err != nil {
		return false
	}

	select {
	case <-ch:
		return true
	case <-time.After(m.pongWait):
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return false
	}
}

// dispatch routes a frame: a pending reply completes its call, anything else
// is an event for the subscription that registered the id.
func (m *Manager) dispatch(frame response) {
	m.mu.Lock()
	if ch, ok := m.pending[frame.ID]; ok {
		delete(m.pending, frame.ID)
		m.mu.Unlock()
		ch <- frame.Data
		return
	}
	handler := m.subs[frame.ID]
	m.mu.Unlock()

	if handler == nil {
		m.logger.Debug("push frame with unknown id", zap.String("id", frame.ID))
		return
	}
	metrics.Global.RecordPushEvent()
	handler(frame.Data)
}

// subscribe issues a subscribe call and registers the handler under its id
// so later events on the same id reach it.
func (m *Manager) subscribe(method string, params map[string]any, h Handler) (json.RawMessage, error) {
	id := strconv.FormatInt(m.nextID.Add(1), 10)
	ch := make(chan json.RawMessage, 1)

	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.mu.Unlock()
		return nil, syncerr.ErrSocketClosed
	}
	m.pending[id] = ch
	m.subs[id] = h
	err := m.write(conn, request{ID: id, Method: method, Params: params})
	m.mu.Unlock()
	if err != nil {
		m.mu.Lock()
		delete(m.pending, id)
		delete(m.subs, id)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", syncerr.ErrTransport, err)
	}

	select {
	case data, ok := <-ch:
		if !ok {
			return nil, syncerr.ErrSocketClosed
		}
		return data, nil
	case <-time.After(callTimeout):
		// Forget the handler too: a late ack on this id must not be
		// delivered as a push event.
		m.mu.Lock()
		delete(m.pending, id)
		delete(m.subs, id)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s timed out", syncerr.ErrTransport, method)
	}
}

// write sends one frame. Callers hold m.mu, which doubles as the write lock.
func (m *Manager) write(conn *websocket.Conn, req request) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(req)
}

func (m *Manager) sendAddressSubscription() error {
	m.mu.Lock()
	addrs := make([]string, 0, len(m.addresses))
	for a := range m.addresses {
		addrs = append(addrs, a)
	}
	h := m.addrHandler
	m.mu.Unlock()

	if len(addrs) == 0 {
		return nil
	}
	_, err := m.subscribe("subscribeAddresses", map[string]any{"addresses": addrs}, h)
	return err
}

// replaySubscriptions re-issues the full desired subscription state on a
// fresh connection.
func (m *Manager) replaySubscriptions() {
	if err := m.sendAddressSubscription(); err != nil {
		m.logger.Warn("replaying address subscription", zap.Error(err))
	}

	m.mu.Lock()
	block := m.blockHandler
	rates := m.ratesHandler
	currencies := append([]string(nil), m.currencies...)
	m.mu.Unlock()

	if block != nil {
		if _, err := m.subscribe("subscribeNewBlock", nil, block); err != nil {
			m.logger.Warn("replaying block subscription", zap.Error(err))
		}
	}
	if rates != nil {
		if _, err := m.subscribe("subscribeFiatRates", map[string]any{"currencies": currencies}, rates); err != nil {
			m.logger.Warn("replaying fiat rate subscription", zap.Error(err))
		}
	}
}

// failPending unblocks every caller waiting on a reply. Callers hold m.mu.
func (m *Manager) failPending() {
	for id, ch := range m.pending {
		close(ch)
		delete(m.pending, id)
	}
}
