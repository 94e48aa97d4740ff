// ABOUTME: Maps conversation ids to the one handler that observes their turn
// ABOUTME: Registering overwrites; the router removes entries on terminal frames

package chat

import (
	"sync"

	"github.com/2389/seneschal/internal/protocol"
)

// Handler observes the chat frames of one conversation. Implementations
// dispatch on the concrete frame type.
type Handler interface {
	HandleChat(frame protocol.ChatFrame)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(frame protocol.ChatFrame)

// HandleChat calls f(frame).
func (f HandlerFunc) HandleChat(frame protocol.ChatFrame) { f(frame) }

// registration boxes a handler so entries can be compared by identity.
type registration struct {
	handler Handler
}

// Registry holds at most one handler per conversation id.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]*registration
	onTurn   func(conversationID string)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*registration)}
}

// SetTurnHook installs fn to run, outside the registry lock, whenever a
// conversation's turn starts or ends: on Register, Unregister and the
// removal that follows a terminal frame.
func (r *Registry) SetTurnHook(fn func(conversationID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTurn = fn
}

// Register installs h for conversationID, replacing any existing handler.
func (r *Registry) Register(conversationID string, h Handler) {
	r.mu.Lock()
	r.handlers[conversationID] = &registration{handler: h}
	hook := r.onTurn
	r.mu.Unlock()

	if hook != nil {
		hook(conversationID)
	}
}

// Unregister removes the handler for conversationID, if any.
func (r *Registry) Unregister(conversationID string) {
	r.mu.Lock()
	delete(r.handlers, conversationID)
	hook := r.onTurn
	r.mu.Unlock()

	if hook != nil {
		hook(conversationID)
	}
}

// Lookup returns the handler for conversationID.
func (r *Registry) Lookup(conversationID string) (Handler, bool) {
	reg := r.lookup(conversationID)
	if reg == nil {
		return nil, false
	}
	return reg.handler, true
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

func (r *Registry) lookup(conversationID string) *registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handlers[conversationID]
}

// removeIf deletes the entry only while it is still reg. A handler that
// re-registered itself in the meantime keeps its new entry.
func (r *Registry) removeIf(conversationID string, reg *registration) bool {
	r.mu.Lock()
	if r.handlers[conversationID] != reg {
		r.mu.Unlock()
		return false
	}
	delete(r.handlers, conversationID)
	hook := r.onTurn
	r.mu.Unlock()

	if hook != nil {
		hook(conversationID)
	}
	return true
}
