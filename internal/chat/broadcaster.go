// ABOUTME: Topic fan-out for frames that are not tied to a conversation
// ABOUTME: A failing listener is recovered and logged without affecting the others

package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/seneschal/internal/protocol"
)

// Broadcast topics.
const (
	TopicAuth      = "auth"
	TopicHeartbeat = "heartbeat"
	TopicDocuments = "documents"
	TopicError     = "error"
)

var frameTopics = map[string]string{
	protocol.TypeAuthResponse:     TopicAuth,
	protocol.TypePong:             TopicHeartbeat,
	protocol.TypeDocumentProgress: TopicDocuments,
	protocol.TypeError:            TopicError,
}

// TopicFor returns the topic a broadcast frame type is published on.
func TopicFor(frameType string) (string, bool) {
	topic, ok := frameTopics[frameType]
	return topic, ok
}

// Listener receives broadcast frames. It runs on the read loop and must not block.
type Listener func(frame protocol.Frame)

// Broadcaster provides in-memory pub/sub of broadcast frames by topic.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[string]map[string]Listener // topic -> subID -> listener
	logger    *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		listeners: make(map[string]map[string]Listener),
		logger:    logger.With("component", "broadcaster"),
	}
}

// Subscribe registers fn for topic and returns a subscription ID. The
// subscription is removed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, topic string, fn Listener) string {
	subID := uuid.New().String()

	b.mu.Lock()
	if _, ok := b.listeners[topic]; !ok {
		b.listeners[topic] = make(map[string]Listener)
	}
	b.listeners[topic][subID] = fn
	b.mu.Unlock()

	b.logger.Debug("listener added", "topic", topic, "sub_id", subID)

	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			b.Unsubscribe(topic, subID)
		}()
	}

	return subID
}

// Publish delivers frame to every listener of topic and returns how many
// listeners returned normally.
func (b *Broadcaster) Publish(topic string, frame protocol.Frame) int {
	b.mu.RLock()
	subs := b.listeners[topic]
	targets := make([]Listener, 0, len(subs))
	for _, fn := range subs {
		targets = append(targets, fn)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, fn := range targets {
		if b.deliver(topic, fn, frame) {
			delivered++
		}
	}
	return delivered
}

func (b *Broadcaster) deliver(topic string, fn Listener, frame protocol.Frame) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("listener panicked",
				"topic", topic,
				"type", frame.FrameType(),
				"panic", r)
			ok = false
		}
	}()
	fn(frame)
	return true
}

// Unsubscribe removes a subscription.
func (b *Broadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.listeners[topic]
	if !ok {
		return
	}
	if _, exists := subs[subID]; !exists {
		return
	}

	delete(subs, subID)
	if len(subs) == 0 {
		delete(b.listeners, topic)
	}

	b.logger.Debug("listener removed", "topic", topic, "sub_id", subID)
}

// Len returns the number of listeners on topic.
func (b *Broadcaster) Len(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[topic])
}

// Close removes every listener.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.listeners)
	b.logger.Debug("broadcaster closed")
}
