// ABOUTME: Decodes inbound frames and routes them to topic listeners or conversation handlers
// ABOUTME: Tool calls are handed to the dispatcher after the handler has been notified

package chat

import (
	"errors"
	"log/slog"

	"github.com/2389/seneschal/internal/protocol"
)

// RouterConfig wires a Router. Registry and Broadcaster are required;
// without a Dispatcher tool calls are only shown to handlers.
type RouterConfig struct {
	Registry    *Registry
	Broadcaster *Broadcaster
	Dispatcher  *Dispatcher
	Logger      *slog.Logger
}

// Router routes decoded frames. HandleFrame is meant to be installed as the
// socket manager's frame handler; it is called from one goroutine at a time.
type Router struct {
	registry    *Registry
	broadcaster *Broadcaster
	dispatcher  *Dispatcher
	logger      *slog.Logger
}

// NewRouter creates a router.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:    cfg.Registry,
		broadcaster: cfg.Broadcaster,
		dispatcher:  cfg.Dispatcher,
		logger:      logger.With("component", "router"),
	}
}

// HandleFrame decodes one raw frame and routes it. Malformed frames and
// unknown types are logged and dropped.
func (r *Router) HandleFrame(data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownFrame) {
			r.logger.Info("ignoring unknown frame", "error", err)
		} else {
			r.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
		}
		return
	}
	r.Route(frame)
}

// Route delivers an already decoded frame.
func (r *Router) Route(frame protocol.Frame) {
	if cf, ok := frame.(protocol.ChatFrame); ok {
		r.routeChat(cf)
		return
	}

	topic, ok := TopicFor(frame.FrameType())
	if !ok {
		r.logger.Info("no topic for frame", "type", frame.FrameType())
		return
	}
	r.broadcaster.Publish(topic, frame)
}

func (r *Router) routeChat(frame protocol.ChatFrame) {
	conversationID := frame.Conversation()

	reg := r.registry.lookup(conversationID)
	if reg == nil {
		r.logger.Debug("no handler for conversation, dropping frame",
			"conversation_id", conversationID,
			"type", frame.FrameType())
		return
	}

	r.deliver(reg, frame)

	if call, ok := frame.(*protocol.ChatToolCall); ok && r.dispatcher != nil {
		r.dispatcher.Dispatch(call)
	}

	if frame.Terminal() {
		if r.registry.removeIf(conversationID, reg) {
			r.logger.Debug("turn finished, handler removed",
				"conversation_id", conversationID,
				"type", frame.FrameType())
		}
	}
}

func (r *Router) deliver(reg *registration, frame protocol.ChatFrame) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("chat handler panicked",
				"conversation_id", frame.Conversation(),
				"type", frame.FrameType(),
				"panic", p)
		}
	}()
	reg.handler.HandleChat(frame)
}
