// ABOUTME: In-process websocket server that speaks the seneschal protocol
// ABOUTME: Records client frames and runs scripted chat turns for tests and demos

package fakeserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/seneschal/internal/protocol"
)

// Script plays one chat turn in response to a chat_message.
type Script func(c *Conn, conversationID string, msg protocol.ChatMessage)

// Frame is one frame received from a client.
type Frame struct {
	Type string
	Raw  json.RawMessage
}

// Option configures a Server.
type Option func(*Server)

// WithScript replaces the default dice/echo script.
func WithScript(script Script) Option {
	return func(s *Server) { s.script = script }
}

// WithAuthFailure makes every auth frame fail.
func WithAuthFailure() Option {
	return func(s *Server) { s.rejectAuth = true }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// Server is a scripted seneschal peer.
type Server struct {
	script     Script
	rejectAuth bool
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	mu          sync.Mutex
	cond        *sync.Cond
	received    []Frame
	conns       map[*Conn]struct{}
	connections int
	sessionSeq  int

	http *httptest.Server
}

// New creates a server. Call Start to listen, or mount it as an http.Handler.
func New(opts ...Option) *Server {
	s := &Server{
		script: DiceScript,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*Conn]struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "fakeserver")
	return s
}

// Start listens on a loopback port.
func (s *Server) Start() {
	s.http = httptest.NewServer(s)
}

// URL returns the ws:// address of a started server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http")
}

// Close drops every connection and stops listening.
func (s *Server) Close() {
	s.DropConnections()
	if s.http != nil {
		s.http.Close()
	}
}

// ServeHTTP upgrades the request and serves one client.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	c := &Conn{
		ws:      ws,
		server:  s,
		results: make(map[string]chan json.RawMessage),
		control: make(chan protocol.ConversationCommand, 8),
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.connections++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	c.readLoop()
}

// Connections returns how many sockets have been accepted in total.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// Received returns a copy of every frame received so far.
func (s *Server) Received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.received))
	copy(out, s.received)
	return out
}

// ReceivedOfType returns the received frames with the given type.
func (s *Server) ReceivedOfType(typ string) []Frame {
	var out []Frame
	for _, f := range s.Received() {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

// WaitFor blocks until at least n frames of the given type were received or
// the timeout passes. It reports whether the count was reached.
func (s *Server) WaitFor(typ string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		count := 0
		for _, f := range s.received {
			if f.Type == typ {
				count++
			}
		}
		if count >= n {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		s.cond.Wait()
	}
}

// Broadcast sends a frame to every connected client.
func (s *Server) Broadcast(v any) {
	for _, c := range s.snapshot() {
		_ = c.Send(v)
	}
}

// DropConnections closes every socket without a close handshake.
func (s *Server) DropConnections() {
	for _, c := range s.snapshot() {
		_ = c.ws.UnderlyingConn().Close()
	}
}

func (s *Server) snapshot() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) record(typ string, raw []byte) {
	s.mu.Lock()
	s.received = append(s.received, Frame{Type: typ, Raw: append(json.RawMessage(nil), raw...)})
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Server) nextSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionSeq++
	return fmt.Sprintf("sess-%d", s.sessionSeq)
}

// Conn is one client connection as seen by the server.
type Conn struct {
	ws     *websocket.Conn
	server *Server

	writeMu sync.Mutex

	mu      sync.Mutex
	results map[string]chan json.RawMessage
	control chan protocol.ConversationCommand
}

// Send writes one JSON frame to the client.
func (c *Conn) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// AwaitToolResult waits for the tool_result answering toolCallID.
func (c *Conn) AwaitToolResult(toolCallID string, timeout time.Duration) (json.RawMessage, bool) {
	ch := c.resultChan(toolCallID)
	select {
	case res := <-ch:
		return res, true
	case <-time.After(timeout):
		return nil, false
	}
}

// AwaitControl waits for the next continue_chat or cancel_chat.
func (c *Conn) AwaitControl(timeout time.Duration) (protocol.ConversationCommand, bool) {
	select {
	case cmd := <-c.control:
		return cmd, true
	case <-time.After(timeout):
		return protocol.ConversationCommand{}, false
	}
}

func (c *Conn) resultChan(toolCallID string) chan json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.results[toolCallID]
	if !ok {
		ch = make(chan json.RawMessage, 1)
		c.results[toolCallID] = ch
	}
	return ch
}

func (c *Conn) readLoop() {
	logger := c.server.logger
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		typ, err := protocol.PeekType(data)
		if err != nil {
			logger.Warn("bad frame from client", "error", err)
			continue
		}
		c.server.record(typ, data)

		switch typ {
		case protocol.TypeAuth:
			c.handleAuth(data)
		case protocol.TypePing:
			_ = c.Send(protocol.Bare{Type: protocol.TypePong})
		case protocol.TypeSubscribeDocuments:
			_ = c.Send(DocumentProgressFrame(protocol.DocumentProgress{
				DocumentID: "welcome",
				Status:     "completed",
				Phase:      "done",
				Progress:   1,
				Total:      1,
			}))
		case protocol.TypeChatMessage:
			var msg protocol.ChatMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Warn("bad chat_message", "error", err)
				continue
			}
			convID := uuid.New().String()
			if msg.ConversationID != nil && *msg.ConversationID != "" {
				convID = *msg.ConversationID
			}
			go c.server.script(c, convID, msg)
		case protocol.TypeToolResult:
			var res protocol.ToolResult
			if err := json.Unmarshal(data, &res); err != nil {
				continue
			}
			select {
			case c.resultChan(res.ToolCallID) <- res.Result:
			default:
			}
		case protocol.TypeContinueChat, protocol.TypeCancelChat:
			var cmd protocol.ConversationCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				continue
			}
			select {
			case c.control <- cmd:
			default:
			}
		}
	}
}

func (c *Conn) handleAuth(data []byte) {
	var auth protocol.Auth
	if err := json.Unmarshal(data, &auth); err != nil {
		return
	}
	if c.server.rejectAuth {
		_ = c.Send(map[string]any{
			"type":    protocol.TypeAuthResponse,
			"success": false,
			"message": "authentication rejected",
		})
		return
	}

	sessionID := ""
	if auth.SessionID != nil {
		sessionID = *auth.SessionID
	}
	if sessionID == "" {
		sessionID = c.server.nextSession()
	}
	_ = c.Send(map[string]any{
		"type":       protocol.TypeAuthResponse,
		"success":    true,
		"session_id": sessionID,
		"message":    "welcome " + auth.UserName,
	})
}
