// ABOUTME: Executes server-requested tool calls and answers with tool_result frames
// ABOUTME: Failures become error payloads; a tool call never breaks the turn or the socket

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/seneschal/internal/dedupe"
	"github.com/2389/seneschal/internal/protocol"
)

// ToolExecutor runs one tool on behalf of caller. A data-level failure may
// be returned as a result such as {"error": "..."}; a returned error means
// the executor itself failed.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, args json.RawMessage, caller protocol.Caller) (json.RawMessage, error)
}

// ToolExecutorFunc adapts a function to ToolExecutor.
type ToolExecutorFunc func(ctx context.Context, name string, args json.RawMessage, caller protocol.Caller) (json.RawMessage, error)

// ExecuteTool calls f.
func (f ToolExecutorFunc) ExecuteTool(ctx context.Context, name string, args json.RawMessage, caller protocol.Caller) (json.RawMessage, error) {
	return f(ctx, name, args, caller)
}

// CallerFunc returns the acting user. It is called for every tool call.
type CallerFunc func() protocol.Caller

// Sender writes an outbound frame. Implementations drop frames they cannot
// deliver instead of failing.
type Sender interface {
	Send(frame any)
}

// DispatcherConfig wires a Dispatcher. Cache is optional; with a cache a
// tool call id replayed within the same turn of a conversation is answered
// from the stored result.
type DispatcherConfig struct {
	Sender   Sender
	Executor ToolExecutor
	Caller   CallerFunc
	Cache    *dedupe.Cache
	Logger   *slog.Logger
}

// Dispatcher runs tool calls concurrently with frame routing.
type Dispatcher struct {
	sender   Sender
	executor ToolExecutor
	caller   CallerFunc
	cache    *dedupe.Cache
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	caller := cfg.Caller
	if caller == nil {
		caller = func() protocol.Caller { return protocol.Caller{} }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sender:   cfg.Sender,
		executor: cfg.Executor,
		caller:   caller,
		cache:    cfg.Cache,
		logger:   logger.With("component", "dispatcher"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Dispatch starts executing call and returns without waiting for it.
func (d *Dispatcher) Dispatch(call *protocol.ChatToolCall) {
	key := cacheKey(call.ConversationID, call.ID)
	if d.cache != nil {
		switch status, cached := d.cache.Claim(key); status {
		case dedupe.StatusDone:
			d.logger.Info("replayed tool call, resending cached result",
				"conversation_id", call.ConversationID,
				"tool_call_id", call.ID,
				"tool", call.Tool)
			d.reply(call, cached)
			return
		case dedupe.StatusPending:
			d.logger.Debug("tool call already running, ignoring duplicate",
				"conversation_id", call.ConversationID,
				"tool_call_id", call.ID)
			return
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		result := d.execute(call)
		if d.cache != nil {
			d.cache.Complete(key, result)
		}
		d.reply(call, result)
	}()
}

func (d *Dispatcher) execute(call *protocol.ChatToolCall) (result json.RawMessage) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("tool panicked",
				"conversation_id", call.ConversationID,
				"tool_call_id", call.ID,
				"tool", call.Tool,
				"panic", p)
			result = errorPayload(fmt.Sprintf("tool %s panicked: %v", call.Tool, p))
		}
	}()

	caller := d.caller()
	out, err := d.executor.ExecuteTool(d.ctx, call.Tool, call.Args, caller)
	if err != nil {
		d.logger.Warn("tool failed",
			"conversation_id", call.ConversationID,
			"tool_call_id", call.ID,
			"tool", call.Tool,
			"error", err)
		return errorPayload(err.Error())
	}
	if out != nil && !json.Valid(out) {
		d.logger.Warn("tool returned invalid JSON",
			"tool_call_id", call.ID,
			"tool", call.Tool)
		return errorPayload(fmt.Sprintf("tool %s returned invalid JSON", call.Tool))
	}

	d.logger.Debug("tool finished",
		"conversation_id", call.ConversationID,
		"tool_call_id", call.ID,
		"tool", call.Tool,
		"caller", caller.ID,
		"duration", time.Since(start))
	return out
}

func (d *Dispatcher) reply(call *protocol.ChatToolCall, result json.RawMessage) {
	d.sender.Send(protocol.NewToolResult(call.ConversationID, call.ID, result))
}

// Forget drops the cached results of conversationID. Tool call ids are only
// unique within one turn, so this runs whenever a turn starts or ends.
// Tools still running for the conversation reply but are not cached.
func (d *Dispatcher) Forget(conversationID string) {
	if d.cache == nil {
		return
	}
	if n := d.cache.ForgetPrefix(conversationID + keySep); n > 0 {
		d.logger.Debug("dropped cached tool results",
			"conversation_id", conversationID,
			"count", n)
	}
}

// keySep separates the conversation id from the tool call id in cache keys.
const keySep = "\x00"

func cacheKey(conversationID, toolCallID string) string {
	return conversationID + keySep + toolCallID
}

// Wait blocks until every dispatched tool call has replied.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close cancels the context passed to running tools and waits for them.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

func errorPayload(message string) json.RawMessage {
	data, _ := json.Marshal(struct {
		Error   bool   `json:"error"`
		Message string `json:"message"`
	}{Error: true, Message: message})
	return data
}
