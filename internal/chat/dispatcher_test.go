// ABOUTME: Tests for tool call execution and tool_result replies
// ABOUTME: Covers data-level errors, executor failures, panics, fresh caller context and replay caching

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/seneschal/internal/dedupe"
	"github.com/2389/seneschal/internal/protocol"
)

func toolCall(conversationID, id, tool, args string) *protocol.ChatToolCall {
	return &protocol.ChatToolCall{
		ConversationID: conversationID,
		ID:             id,
		Tool:           tool,
		Args:           json.RawMessage(args),
	}
}

func newTestDispatcher(t *testing.T, sender Sender, exec ToolExecutorFunc, opts ...func(*DispatcherConfig)) *Dispatcher {
	t.Helper()
	cfg := DispatcherConfig{Sender: sender, Executor: exec}
	for _, opt := range opts {
		opt(&cfg)
	}
	d := NewDispatcher(cfg)
	t.Cleanup(d.Close)
	return d
}

func TestDispatcher_SendsRawResult(t *testing.T) {
	sender := &recordingSender{}
	var gotName string
	var gotArgs json.RawMessage
	d := newTestDispatcher(t, sender, func(_ context.Context, name string, args json.RawMessage, _ protocol.Caller) (json.RawMessage, error) {
		gotName, gotArgs = name, args
		return json.RawMessage(`{"total":7,"dice":[3,4]}`), nil
	})

	d.Dispatch(toolCall("c1", "t1", "dice_roll", `{"formula":"2d6"}`))
	d.Wait()

	assert.Equal(t, "dice_roll", gotName)
	assert.JSONEq(t, `{"formula":"2d6"}`, string(gotArgs))
	assert.JSONEq(t,
		`{"type":"tool_result","conversation_id":"c1","tool_call_id":"t1","result":{"total":7,"dice":[3,4]}}`,
		string(sender.last(t)))
}

func TestDispatcher_DataLevelErrorIsForwardedAsResult(t *testing.T) {
	sender := &recordingSender{}
	d := newTestDispatcher(t, sender, func(context.Context, string, json.RawMessage, protocol.Caller) (json.RawMessage, error) {
		return json.RawMessage(`{"error":"document not found"}`), nil
	})

	d.Dispatch(toolCall("c1", "t1", "read_document", `{}`))
	d.Wait()

	results := sender.toolResults()
	require.Len(t, results, 1)
	assert.JSONEq(t, `{"error":"document not found"}`, string(results[0].Result))
}

func TestDispatcher_ExecutorErrorBecomesErrorPayload(t *testing.T) {
	sender := &recordingSender{}
	d := newTestDispatcher(t, sender, func(context.Context, string, json.RawMessage, protocol.Caller) (json.RawMessage, error) {
		return nil, errors.New("database locked")
	})

	d.Dispatch(toolCall("c1", "t1", "write_document", `{}`))
	d.Wait()

	results := sender.toolResults()
	require.Len(t, results, 1)
	assert.JSONEq(t, `{"error":true,"message":"database locked"}`, string(results[0].Result))
}

func TestDispatcher_PanicBecomesErrorPayload(t *testing.T) {
	sender := &recordingSender{}
	d := newTestDispatcher(t, sender, func(context.Context, string, json.RawMessage, protocol.Caller) (json.RawMessage, error) {
		panic("nil map")
	})

	require.NotPanics(t, func() {
		d.Dispatch(toolCall("c1", "t1", "explode", `{}`))
		d.Wait()
	})

	results := sender.toolResults()
	require.Len(t, results, 1)
	var payload struct {
		Error   bool   `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(results[0].Result, &payload))
	assert.True(t, payload.Error)
	assert.Contains(t, payload.Message, "nil map")
}

func TestDispatcher_InvalidJSONResult(t *testing.T) {
	sender := &recordingSender{}
	d := newTestDispatcher(t, sender, func(context.Context, string, json.RawMessage, protocol.Caller) (json.RawMessage, error) {
		return json.RawMessage(`{oops`), nil
	})

	d.Dispatch(toolCall("c1", "t1", "broken", `{}`))
	d.Wait()

	results := sender.toolResults()
	require.Len(t, results, 1)
	assert.Contains(t, string(results[0].Result), `"error":true`)
}

func TestDispatcher_NilResultIsNull(t *testing.T) {
	sender := &recordingSender{}
	d := newTestDispatcher(t, sender, func(context.Context, string, json.RawMessage, protocol.Caller) (json.RawMessage, error) {
		return nil, nil
	})

	d.Dispatch(toolCall("c1", "t1", "noop", `{}`))
	d.Wait()

	results := sender.toolResults()
	require.Len(t, results, 1)
	assert.Equal(t, "null", string(results[0].Result))
}

func TestDispatcher_BuildsCallerPerCall(t *testing.T) {
	sender := &recordingSender{}
	var role atomic.Int32
	role.Store(int32(protocol.RoleGamemaster))

	var seen []protocol.Role
	d := newTestDispatcher(t, sender,
		func(_ context.Context, _ string, _ json.RawMessage, caller protocol.Caller) (json.RawMessage, error) {
			seen = append(seen, caller.Role)
			return json.RawMessage(`{}`), nil
		},
		func(cfg *DispatcherConfig) {
			cfg.Caller = func() protocol.Caller {
				return protocol.Caller{ID: "u1", Role: protocol.Role(role.Load())}
			}
		})

	d.Dispatch(toolCall("c1", "t1", "x", `{}`))
	d.Wait()
	role.Store(int32(protocol.RolePlayer))
	d.Dispatch(toolCall("c1", "t2", "x", `{}`))
	d.Wait()

	assert.Equal(t, []protocol.Role{protocol.RoleGamemaster, protocol.RolePlayer}, seen)
}

func TestDispatcher_DoesNotBlockCaller(t *testing.T) {
	sender := &recordingSender{}
	release := make(chan struct{})
	d := newTestDispatcher(t, sender, func(context.Context, string, json.RawMessage, protocol.Caller) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{}`), nil
	})

	done := make(chan struct{})
	go func() {
		d.Dispatch(toolCall("c1", "t1", "slow", `{}`))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on the executor")
	}
	assert.Empty(t, sender.toolResults())

	close(release)
	d.Wait()
	assert.Len(t, sender.toolResults(), 1)
}

func TestDispatcher_ReplayedCallUsesCachedResult(t *testing.T) {
	sender := &recordingSender{}
	cache := dedupe.New(time.Minute, 16)
	defer cache.Close()

	var runs atomic.Int32
	d := newTestDispatcher(t, sender,
		func(context.Context, string, json.RawMessage, protocol.Caller) (json.RawMessage, error) {
			n := runs.Add(1)
			return json.RawMessage(`{"run":` + string(rune('0'+n)) + `}`), nil
		},
		func(cfg *DispatcherConfig) { cfg.Cache = cache })

	d.Dispatch(toolCall("c1", "t1", "dice_roll", `{}`))
	d.Wait()
	d.Dispatch(toolCall("c1", "t1", "dice_roll", `{}`))
	d.Wait()

	assert.Equal(t, int32(1), runs.Load())
	results := sender.toolResults()
	require.Len(t, results, 2)
	assert.JSONEq(t, `{"run":1}`, string(results[0].Result))
	assert.JSONEq(t, `{"run":1}`, string(results[1].Result))
}

func TestDispatcher_DuplicateWhileRunningIsIgnored(t *testing.T) {
	sender := &recordingSender{}
	cache := dedupe.New(time.Minute, 16)
	defer cache.Close()

	release := make(chan struct{})
	var runs atomic.Int32
	d := newTestDispatcher(t, sender,
		func(context.Context, string, json.RawMessage, protocol.Caller) (json.RawMessage, error) {
			runs.Add(1)
			<-release
			return json.RawMessage(`{}`), nil
		},
		func(cfg *DispatcherConfig) { cfg.Cache = cache })

	d.Dispatch(toolCall("c1", "t1", "slow", `{}`))
	d.Dispatch(toolCall("c1", "t1", "slow", `{}`))
	close(release)
	d.Wait()

	assert.Equal(t, int32(1), runs.Load())
	assert.Len(t, sender.toolResults(), 1)
}

func TestDispatcher_SameCallIDInAnotherConversationRunsAgain(t *testing.T) {
	sender := &recordingSender{}
	cache := dedupe.New(10*time.Minute, 256)
	defer cache.Close()

	var runs atomic.Int32
	d := newTestDispatcher(t, sender,
		func(context.Context, string, json.RawMessage, protocol.Caller) (json.RawMessage, error) {
			n := runs.Add(1)
			return json.RawMessage(`{"n":` + string(rune('0'+n)) + `}`), nil
		},
		func(cfg *DispatcherConfig) { cfg.Cache = cache })

	d.Dispatch(toolCall("c1", "t1", "dice_roll", `{}`))
	d.Wait()
	d.Dispatch(toolCall("c2", "t1", "dice_roll", `{}`))
	d.Wait()

	assert.Equal(t, int32(2), runs.Load())
	results := sender.toolResults()
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ConversationID)
	assert.JSONEq(t, `{"n":1}`, string(results[0].Result))
	assert.Equal(t, "c2", results[1].ConversationID)
	assert.JSONEq(t, `{"n":2}`, string(results[1].Result))
}

func TestDispatcher_ForgetClearsOnlyThatConversation(t *testing.T) {
	sender := &recordingSender{}
	cache := dedupe.New(10*time.Minute, 256)
	defer cache.Close()

	var runs atomic.Int32
	d := newTestDispatcher(t, sender,
		func(context.Context, string, json.RawMessage, protocol.Caller) (json.RawMessage, error) {
			runs.Add(1)
			return json.RawMessage(`{}`), nil
		},
		func(cfg *DispatcherConfig) { cfg.Cache = cache })

	d.Dispatch(toolCall("c1", "t1", "dice_roll", `{}`))
	d.Dispatch(toolCall("c2", "t1", "dice_roll", `{}`))
	d.Wait()

	d.Forget("c1")

	d.Dispatch(toolCall("c1", "t1", "dice_roll", `{}`))
	d.Dispatch(toolCall("c2", "t1", "dice_roll", `{}`))
	d.Wait()

	assert.Equal(t, int32(3), runs.Load(), "c1 runs again, c2 is answered from the cache")
	assert.Len(t, sender.toolResults(), 4)
}

func TestDispatcher_ResultFinishingAfterForgetIsNotCached(t *testing.T) {
	sender := &recordingSender{}
	cache := dedupe.New(10*time.Minute, 256)
	defer cache.Close()

	release := make(chan struct{})
	var runs atomic.Int32
	d := newTestDispatcher(t, sender,
		func(context.Context, string, json.RawMessage, protocol.Caller) (json.RawMessage, error) {
			if runs.Add(1) == 1 {
				<-release
			}
			return json.RawMessage(`{}`), nil
		},
		func(cfg *DispatcherConfig) { cfg.Cache = cache })

	d.Dispatch(toolCall("c1", "t1", "slow", `{}`))
	d.Forget("c1")
	close(release)
	d.Wait()

	assert.Len(t, sender.toolResults(), 1, "the running tool still replies")
	assert.Equal(t, 0, cache.Len())

	d.Dispatch(toolCall("c1", "t1", "slow", `{}`))
	d.Wait()
	assert.Equal(t, int32(2), runs.Load())
}
