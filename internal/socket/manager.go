// ABOUTME: Connection manager for the seneschal websocket: connect, auth, heartbeat, backoff
// ABOUTME: Sends are fire-and-forget and dropped silently while the socket is closed

package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/2389/seneschal/internal/protocol"
)

// Defaults applied by NewManager for zero-valued options.
const (
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectDelay       = 1 * time.Second
	DefaultMaxReconnectDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHandshakeTimeout     = 10 * time.Second

	writeTimeout = 10 * time.Second
)

// ErrNoEndpoint indicates no server URL was configured.
var ErrNoEndpoint = errors.New("no server endpoint configured")

// ErrClosed indicates the manager was closed while a connect was in flight.
var ErrClosed = errors.New("connection manager closed")

// ConfigError reports a configuration problem detected at connect time.
// It is never retried.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Options configures a Manager.
type Options struct {
	URL      string
	Identity protocol.Caller

	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	// MaxReconnectAttempts of zero uses the default; negative disables reconnect.
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration

	// Dialer overrides the websocket dialer (tests count dials through it).
	Dialer *websocket.Dialer
	Logger *slog.Logger

	// OnReconnect runs after a successful automatic reconnect.
	OnReconnect func()
	// OnPermanentDisconnect runs once when reconnect attempts are exhausted.
	OnPermanentDisconnect func()
}

// Manager owns one websocket connection at a time.
type Manager struct {
	opts   Options
	logger *slog.Logger
	dialer *websocket.Dialer
	group  singleflight.Group

	mu             sync.Mutex
	conn           *websocket.Conn
	authenticated  bool
	sessionID      string
	attempts       int
	delay          time.Duration
	closing        bool
	permanentFired bool
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	onFrame        func([]byte)

	// gorilla/websocket allows one concurrent writer.
	writeMu sync.Mutex
}

// NewManager creates a Manager. It does not connect.
func NewManager(opts Options) *Manager {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = opts.ReconnectDelay
	}
	switch {
	case opts.MaxReconnectAttempts == 0:
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	case opts.MaxReconnectAttempts < 0:
		opts.MaxReconnectAttempts = 0
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}

	return &Manager{
		opts:   opts,
		logger: logger.With("component", "socket"),
		dialer: dialer,
		delay:  opts.ReconnectDelay,
	}
}

// SetFrameHandler registers the function that receives every inbound text
// frame. Frames are delivered one at a time from the read loop.
func (m *Manager) SetFrameHandler(fn func(data []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = fn
}

// Connect opens the socket and sends the auth frame. It returns nil
// immediately if the socket is already open, and shares the result of a
// dial already in flight. An empty URL yields a *ConfigError.
func (m *Manager) Connect(ctx context.Context) error {
	if m.opts.URL == "" {
		return &ConfigError{Field: "server.url", Err: ErrNoEndpoint}
	}

	m.mu.Lock()
	m.closing = false
	open := m.conn != nil
	m.mu.Unlock()
	if open {
		return nil
	}

	return m.connectOnce(ctx)
}

func (m *Manager) connectOnce(ctx context.Context) error {
	_, err, _ := m.group.Do("connect", func() (any, error) {
		return nil, m.dial(ctx)
	})
	return err
}

func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.logger.Debug("dialing", "url", m.opts.URL)

	conn, resp, err := m.dialer.DialContext(ctx, m.opts.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dialing %s (status %s): %w", m.opts.URL, resp.Status, err)
		}
		return fmt.Errorf("dialing %s: %w", m.opts.URL, err)
	}

	m.mu.Lock()
	sessionID := m.sessionID
	m.mu.Unlock()

	// The auth frame goes out before the socket is published so nothing
	// else can be written ahead of it.
	auth, err := json.Marshal(protocol.NewAuth(m.opts.Identity, sessionID))
	if err != nil {
		conn.Close()
		return fmt.Errorf("marshaling auth frame: %w", err)
	}
	m.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, auth)
	m.writeMu.Unlock()
	if err != nil {
		conn.Close()
		return fmt.Errorf("sending auth frame: %w", err)
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	m.conn = conn
	m.authenticated = false
	m.attempts = 0
	m.delay = m.opts.ReconnectDelay
	m.permanentFired = false
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()

	go m.readLoop(conn)

	m.logger.Info("connected",
		"url", m.opts.URL,
		"user_id", m.opts.Identity.ID,
		"resume_session", sessionID != "",
	)
	return nil
}

// Send marshals frame and writes it as one text message. It never fails:
// frames are dropped when the socket is not open or the write errors.
func (m *Manager) Send(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		m.logger.Error("failed to marshal frame", "error", err)
		return
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		typ, _ := protocol.PeekType(data)
		m.logger.Debug("socket not open, dropping frame", "type", typ)
		return
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		typ, _ := protocol.PeekType(data)
		m.logger.Warn("write failed, frame dropped", "type", typ, "error", err)
	}
}

// Close shuts the socket with a normal-closure frame. It stops the heartbeat
// and any pending reconnect and never triggers reconnection itself.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closing = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	conn := m.conn
	m.conn = nil
	m.authenticated = false
	m.mu.Unlock()

	if conn == nil {
		return nil
	}

	m.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	m.writeMu.Unlock()
	if err != nil {
		m.logger.Debug("error sending close frame", "error", err)
	}

	m.logger.Info("connection closed")
	return conn.Close()
}

// IsOpen reports whether a socket is currently open.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// IsAuthenticated reports whether the server accepted the auth frame on the
// current socket.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// SessionID returns the last session id issued by the server.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Identity returns the caller identity sent in the auth frame.
func (m *Manager) Identity() protocol.Caller {
	return m.opts.Identity
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		m.observe(data)

		m.mu.Lock()
		handler := m.onFrame
		m.mu.Unlock()
		if handler != nil {
			handler(data)
		}
	}
}

// observe tracks the connection-level state carried by auth_response.
func (m *Manager) observe(data []byte) {
	typ, err := protocol.PeekType(data)
	if err != nil || typ != protocol.TypeAuthResponse {
		return
	}

	frame, err := protocol.Decode(data)
	if err != nil {
		return
	}
	resp := frame.(*protocol.AuthResponse)

	if !resp.Success {
		m.logger.Warn("authentication failed", "message", resp.Message)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return
	}
	m.authenticated = true
	if resp.SessionID != "" {
		m.sessionID = resp.SessionID
	}
	m.startHeartbeatLocked()

	m.logger.Info("authenticated", "session_id", m.sessionID)
}

func (m *Manager) handleDisconnect(conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		// Closed deliberately, or already replaced.
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = nil
	m.authenticated = false
	m.stopHeartbeatLocked()
	closing := m.closing
	m.mu.Unlock()

	conn.Close()

	if closing {
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Warn("server closed connection", "error", err)
	} else {
		m.logger.Warn("connection lost", "error", err)
	}
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}

	if m.attempts >= m.opts.MaxReconnectAttempts {
		fire := !m.permanentFired
		m.permanentFired = true
		m.mu.Unlock()

		if fire {
			m.logger.Error("giving up on reconnect", "attempts", m.opts.MaxReconnectAttempts)
			if m.opts.OnPermanentDisconnect != nil {
				m.opts.OnPermanentDisconnect()
			}
		}
		return
	}

	m.attempts++
	attempt := m.attempts
	delay := m.delay
	m.delay = nextDelay(m.delay, m.opts.MaxReconnectDelay)
	m.reconnectTimer = time.AfterFunc(delay, m.reconnect)
	m.mu.Unlock()

	m.logger.Info("scheduling reconnect",
		"attempt", attempt,
		"max_attempts", m.opts.MaxReconnectAttempts,
		"delay", delay,
	)
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	// An explicit Connect may have beaten the timer.
	if m.conn != nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.HandshakeTimeout)
	defer cancel()

	if err := m.connectOnce(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			return
		}
		m.logger.Warn("reconnect failed", "error", err)
		m.scheduleReconnect()
		return
	}

	if m.opts.OnReconnect != nil {
		m.opts.OnReconnect()
	}
}

func (m *Manager) startHeartbeatLocked() {
	m.stopHeartbeatLocked()

	stop := make(chan struct{})
	m.heartbeatStop = stop
	interval := m.opts.HeartbeatInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.Send(protocol.NewPing())
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// nextDelay doubles delay, capped at ceiling.
func nextDelay(delay, ceiling time.Duration) time.Duration {
	next := delay * 2
	if next > ceiling || next <= 0 {
		return ceiling
	}
	return next
}
