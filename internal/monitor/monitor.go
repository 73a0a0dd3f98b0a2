// Package monitor keeps a websocket subscription to the market channel open
// and reports trade activity as it happens.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liamashdown/polyanalytics/internal/config"
	"github.com/liamashdown/polyanalytics/internal/loop"
	"github.com/liamashdown/polyanalytics/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBackoffBase = 5 * time.Second
	DefaultBackoffMax  = 120 * time.Second

	// A connection with no frames for this long is considered dead.
	DefaultReadTimeout = 60 * time.Second
	pingInterval       = 20 * time.Second
	handshakeTimeout   = 15 * time.Second
	writeTimeout       = 10 * time.Second
)

// State is the connection state of the monitor.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Event types that indicate a trade just printed.
var tradeEvents = map[string]bool{
	"last_trade_price": true,
	"trade":            true,
}

// AssetSource lists the token ids to subscribe to.
type AssetSource interface {
	Assets(ctx context.Context) ([]string, error)
}

// AssetFunc adapts a function to AssetSource.
type AssetFunc func(ctx context.Context) ([]string, error)

func (f AssetFunc) Assets(ctx context.Context) ([]string, error) { return f(ctx) }

// Options configures a Monitor. Zero durations take the defaults.
type Options struct {
	URL         string
	BackoffBase time.Duration
	BackoffMax  time.Duration
	ReadTimeout time.Duration

	// Assets is optional; without it no subscribe frame is sent.
	Assets AssetSource
	// OnTradeEvent is optional and runs on the read goroutine.
	OnTradeEvent func(eventType string)
}

// OptionsFromConfig fills the connection settings from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URL:         cfg.WSURL,
		BackoffBase: cfg.WSBackoffBase,
		BackoffMax:  cfg.WSBackoffMax,
	}
}

// Status is a snapshot for health reporting.
type Status struct {
	Running       bool   `json:"running"`
	State         State  `json:"state"`
	Connected     bool   `json:"connected"`
	Reconnects    int64  `json:"reconnects"`
	LastMessageTS int64  `json:"last_message_ts"`
	URL           string `json:"url"`
}

// Monitor maintains the market channel connection with exponential backoff.
type Monitor struct {
	opts Options
	log  *logrus.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	state State

	running       atomic.Bool
	reconnects    atomic.Int64
	lastMessageTS atomic.Int64

	// wait sleeps out one reconnect backoff.
	wait func(ctx context.Context, d time.Duration)
}

// New creates a monitor. It does nothing until Run or Start.
func New(opts Options, log *logrus.Logger) *Monitor {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = DefaultBackoffMax
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	m := &Monitor{opts: opts, log: log, state: StateDisconnected}
	m.wait = m.sleep
	return m
}

// Start marks the monitor running and runs it in its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		m.log.Warn("Monitor not started: already running")
		return
	}
	go m.run(ctx)
}

// Run connects, reads until the connection drops, waits out the backoff and
// reconnects, until Stop is called or ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return loop.ErrAlreadyRunning
	}
	m.run(ctx)
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer m.running.Store(false)
	defer m.setState(StateDisconnected)

	m.log.WithField("url", m.opts.URL).Info("Monitor started")

	backoff := m.opts.BackoffBase
	for m.active(ctx) {
		if m.session(ctx) {
			backoff = m.opts.BackoffBase
		}
		if !m.active(ctx) {
			break
		}

		m.reconnects.Add(1)
		metrics.WSReconnects.Inc()
		m.log.WithField("backoff", backoff.String()).Info("Monitor reconnecting")

		m.wait(ctx, backoff)
		backoff = nextBackoff(backoff, m.opts.BackoffMax)
	}

	m.log.Info("Monitor stopped")
}

// Stop asks the monitor to exit and closes the live connection so a blocked read returns.
func (m *Monitor) Stop() {
	m.running.Store(false)
	m.closeConn()
}

// Status reads the monitor state without blocking the read loop for long.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	return Status{
		Running:       m.running.Load(),
		State:         state,
		Connected:     state == StateConnected,
		Reconnects:    m.reconnects.Load(),
		LastMessageTS: m.lastMessageTS.Load(),
		URL:           m.opts.URL,
	}
}

func (m *Monitor) active(ctx context.Context) bool {
	return m.running.Load() && ctx.Err() == nil
}

// session runs one connection from dial to disconnect and reports whether the dial
// succeeded. Errors and panics end the session; they never leave it.
func (m *Monitor) session(ctx context.Context) (connected bool) {
	defer func() {
		if p := recover(); p != nil {
			metrics.LoopPanics.WithLabelValues("monitor").Inc()
			m.log.WithField("stack", string(debug.Stack())).Error(fmt.Sprintf("Recovered panic in monitor: %v", p))
		}
		m.closeConn()
		m.setState(StateDisconnected)
	}()

	m.setState(StateConnecting)
	conn, err := m.dial(ctx)
	if err != nil {
		m.log.WithError(err).Warn("Monitor connect failed")
		return false
	}
	connected = true

	m.mu.Lock()
	if !m.running.Load() {
		m.mu.Unlock()
		_ = conn.Close()
		return connected
	}
	m.conn = conn
	m.state = StateConnected
	m.mu.Unlock()
	metrics.SetWSConnected(true)

	m.log.WithField("url", m.opts.URL).Info("Monitor connected")

	if err := m.subscribe(ctx, conn); err != nil {
		m.log.WithError(err).Warn("Monitor subscribe failed")
		return connected
	}

	done := make(chan struct{})
	defer close(done)
	go m.keepalive(ctx, conn, done)

	if err := m.readLoop(conn); err != nil && m.running.Load() {
		m.log.WithError(err).Warn("Monitor disconnected")
	}
	return connected
}

func (m *Monitor) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, resp, err := dialer.DialContext(ctx, m.opts.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", m.opts.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", m.opts.URL, err)
	}
	return conn, nil
}

type subscribeFrame struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

func (m *Monitor) subscribe(ctx context.Context, conn *websocket.Conn) error {
	if m.opts.Assets == nil {
		return nil
	}

	// A listing failure leaves the connection open but unsubscribed.
	assets, err := m.opts.Assets.Assets(ctx)
	if err != nil {
		m.log.WithError(err).Warn("Failed to list subscription assets")
		return nil
	}
	if len(assets) == 0 {
		m.log.Debug("No known assets yet, skipping subscribe")
		return nil
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subscribeFrame{Type: "market", AssetsIDs: assets}); err != nil {
		return fmt.Errorf("write subscribe frame: %w", err)
	}
	m.log.WithField("assets", len(assets)).Info("Monitor subscribed")
	return nil
}

// keepalive pings the server until done is closed and drops the connection when ctx ends.
// WriteControl is safe alongside the reader.
func (m *Monitor) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			m.closeConn()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				m.log.WithError(err).Debug("Monitor ping failed")
				return
			}
		}
	}
}

func (m *Monitor) readLoop(conn *websocket.Conn) error {
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout)) }
	extend()

	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for m.running.Load() {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		extend()
		m.lastMessageTS.Store(time.Now().Unix())
		m.handleMessage(data)
	}
	return nil
}

func (m *Monitor) handleMessage(data []byte) {
	text := strings.TrimSpace(string(data))
	if text == "PING" || text == "PONG" {
		metrics.WSMessages.WithLabelValues("heartbeat").Inc()
		return
	}

	types, ok := eventTypes(data)
	if !ok {
		metrics.WSMessages.WithLabelValues("ignored").Inc()
		return
	}

	for _, eventType := range types {
		m.log.WithField("event_type", eventType).Debug("Monitor event")
		if !tradeEvents[eventType] {
			metrics.WSMessages.WithLabelValues("event").Inc()
			continue
		}
		metrics.WSMessages.WithLabelValues("trade").Inc()
		if m.opts.OnTradeEvent != nil {
			m.opts.OnTradeEvent(eventType)
		}
	}
}

// eventTypes reads event_type (or type) off a JSON object or each object of a JSON
// array. It reports false for frames that are not JSON objects or arrays.
func eventTypes(data []byte) ([]string, bool) {
	type envelope struct {
		EventType string `json:"event_type"`
		Type      string `json:"type"`
	}
	name := func(e envelope) string {
		if e.EventType != "" {
			return e.EventType
		}
		if e.Type != "" {
			return e.Type
		}
		return "unknown"
	}

	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		var e envelope
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, false
		}
		return []string{name(e)}, true
	case strings.HasPrefix(trimmed, "["):
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, false
		}
		types := make([]string, 0, len(list))
		for _, item := range list {
			var e envelope
			if err := json.Unmarshal(item, &e); err != nil {
				continue
			}
			types = append(types, name(e))
		}
		return types, true
	}
	return nil, false
}

// sleep waits out d in short slices so Stop is honored promptly.
func (m *Monitor) sleep(ctx context.Context, d time.Duration) {
	deadline := time.Now().Add(d)
	for m.active(ctx) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		timer := time.NewTimer(min(remaining, loop.StopGranularity))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Monitor) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		metrics.SetWSConnected(false)
	}
}

// nextBackoff doubles d up to ceiling.
func nextBackoff(d, ceiling time.Duration) time.Duration {
	return min(d*2, ceiling)
}
