// Package events maintains the agent's realtime event stream.
//
// The Manager owns a websocket connection to the backend event endpoint,
// authenticated with the bearer token obtained during provisioning. Start
// is fire-and-forget: it spawns the connection loop in the background and
// returns immediately, so callers (the lifecycle registry) never block on
// the connection reaching a fully-established state. Connection failures
// are logged, retried with backoff, and remain queryable through State and
// Err; they never propagate as a crash.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsHandshakeTimeout = 15 * time.Second
	wsPingInterval     = 15 * time.Second
	wsPongWait         = 45 * time.Second
	wsWriteWait        = 10 * time.Second
	wsMaxPayloadBytes  = 1 << 20

	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second

	// subscriberBuffer is the per-subscription channel depth. Slow
	// subscribers drop events rather than stall the read pump.
	subscriberBuffer = 16
)

// Event is one frame on the event stream.
type Event struct {
	ID      string          `json:"id"`
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// State describes the manager's connection lifecycle.
type State int32

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Manager owns the websocket event stream for one agent.
type Manager struct {
	url    string
	token  string
	logger *slog.Logger
	dialer *websocket.Dialer

	state atomic.Int32

	mu      sync.Mutex
	lastErr error
	subs    map[string][]chan Event
	conn    *websocket.Conn

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager builds a manager for the given event stream URL (ws:// or
// wss://) and bearer token.
func NewManager(url, token string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		url:    url,
		token:  token,
		logger: logger.With("component", "events"),
		dialer: &websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout},
		subs:   make(map[string][]chan Event),
	}
}

// Start spawns the connection loop and returns immediately. Calling Start
// on a started manager is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.state.Store(int32(StateConnecting))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(runCtx)
	}()
	return nil
}

// Stop signals the connection loop to exit and waits for it, bounded by
// ctx. Calling Stop on a stopped (or never started) manager is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.started.CompareAndSwap(true, false) {
		return nil
	}
	m.cancel()

	m.mu.Lock()
	if m.conn != nil {
		// Unblocks the read pump. The close error is recorded by run.
		m.conn.Close()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stop event manager: %w", ctx.Err())
	}

	m.state.Store(int32(StateStopped))
	m.closeSubscribers()
	return nil
}

// Subscribe returns a channel receiving every event with the given name.
// The channel is closed when the manager stops. Slow consumers drop
// events rather than block the stream.
func (m *Manager) Subscribe(name string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	m.mu.Lock()
	m.subs[name] = append(m.subs[name], ch)
	m.mu.Unlock()
	return ch
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Err returns the most recent connection error, if any. A non-nil error
// does not mean the manager has given up; the loop keeps reconnecting
// until stopped.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// recordErr stores the most recent connection error for Err.
func (m *Manager) recordErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// run dials and pumps the connection, reconnecting with capped exponential
// backoff until ctx is cancelled.
func (m *Manager) run(ctx context.Context) {
	delay := reconnectBaseDelay

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := m.dial(ctx)
		if err != nil {
			m.recordErr(err)
			m.logger.Warn("event stream dial failed", "url", m.url, "error", err, "retry_in", delay)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}

		delay = reconnectBaseDelay
		m.state.Store(int32(StateConnected))
		m.recordErr(nil)
		m.logger.Info("event stream connected", "url", m.url)

		err = m.pump(ctx, conn)
		conn.Close()
		m.clearConn()

		if ctx.Err() != nil {
			return
		}

		m.state.Store(int32(StateConnecting))
		m.recordErr(err)
		m.logger.Warn("event stream disconnected", "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+m.token)

	conn, _, err := m.dialer.DialContext(ctx, m.url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", m.url, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	return conn, nil
}

func (m *Manager) clearConn() {
	m.mu.Lock()
	m.conn = nil
	m.mu.Unlock()
}

// pump reads events until the connection breaks or ctx is cancelled. A
// ping ticker keeps the connection alive; a missed pong fails the read
// deadline and forces a reconnect.
func (m *Manager) pump(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(wsMaxPayloadBytes)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(wsWriteWait)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read event stream: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			m.logger.Warn("dropping malformed event frame", "error", err)
			continue
		}
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		m.dispatch(ev)
	}
}

// dispatch fans an event out to subscribers without blocking the read pump.
func (m *Manager) dispatch(ev Event) {
	m.mu.Lock()
	targets := m.subs[ev.Name]
	m.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			m.logger.Debug("subscriber full, dropping event", "event", ev.Name, "id", ev.ID)
		}
	}
}

func (m *Manager) closeSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, chans := range m.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(m.subs, name)
	}
}
