// ABOUTME: End-to-end scenarios over a real websocket against the fake server
// ABOUTME: Covers the dice_roll round trip, pause gating, and cross-conversation progress during a tool call

package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/seneschal/internal/fakeserver"
	"github.com/2389/seneschal/internal/protocol"
	"github.com/2389/seneschal/internal/socket"
)

type stack struct {
	server     *fakeserver.Server
	manager    *socket.Manager
	client     *Client
	dispatcher *Dispatcher
}

func newStack(t *testing.T, exec ToolExecutorFunc, opts ...fakeserver.Option) *stack {
	t.Helper()

	srv := fakeserver.New(opts...)
	srv.Start()
	t.Cleanup(srv.Close)

	mgr := socket.NewManager(socket.Options{
		URL:      srv.URL(),
		Identity: protocol.Caller{ID: "gm-1", Name: "Game Master", Role: protocol.RoleGamemaster},
	})
	t.Cleanup(func() { _ = mgr.Close() })

	registry := NewRegistry()
	dispatcher := NewDispatcher(DispatcherConfig{
		Sender:   mgr,
		Executor: exec,
		Caller:   mgr.Identity,
	})
	t.Cleanup(dispatcher.Close)

	router := NewRouter(RouterConfig{
		Registry:    registry,
		Broadcaster: NewBroadcaster(nil),
		Dispatcher:  dispatcher,
	})
	mgr.SetFrameHandler(router.HandleFrame)

	require.NoError(t, mgr.Connect(t.Context()))
	require.True(t, srv.WaitFor(protocol.TypeAuth, 1, 2*time.Second))

	return &stack{
		server:     srv,
		manager:    mgr,
		client:     NewClient(mgr, registry, nil),
		dispatcher: dispatcher,
	}
}

func TestScenario_DiceRollRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var gotTool string
	var gotArgs json.RawMessage
	var gotCaller protocol.Caller

	s := newStack(t, func(_ context.Context, name string, args json.RawMessage, caller protocol.Caller) (json.RawMessage, error) {
		mu.Lock()
		gotTool, gotArgs, gotCaller = name, args, caller
		mu.Unlock()
		return json.RawMessage(`{"total":7,"dice":[3,4]}`), nil
	})

	rec := newRecorder()
	_, err := s.client.StartChat(ChatRequest{ConversationID: "c1", Message: "roll 2d6"}, rec)
	require.NoError(t, err)

	call := rec.waitFor(t, protocol.TypeChatToolCall).(*protocol.ChatToolCall)
	rec.waitFor(t, protocol.TypeChatTurnComplete)

	mu.Lock()
	assert.Equal(t, "dice_roll", gotTool)
	assert.JSONEq(t, `{"formula":"2d6"}`, string(gotArgs))
	assert.Equal(t, protocol.RoleGamemaster, gotCaller.Role)
	mu.Unlock()

	results := s.server.ReceivedOfType(protocol.TypeToolResult)
	require.Len(t, results, 1)
	var res protocol.ToolResult
	require.NoError(t, json.Unmarshal(results[0].Raw, &res))
	assert.Equal(t, "c1", res.ConversationID)
	assert.Equal(t, call.ID, res.ToolCallID)
	assert.JSONEq(t, `{"total":7,"dice":[3,4]}`, string(res.Result))

	assert.Contains(t, rec.text(), "You rolled **7**.")
	assert.Equal(t, StateCompleted, s.client.State("c1"))
}

func TestScenario_FailingToolStillAnswers(t *testing.T) {
	s := newStack(t, func(context.Context, string, json.RawMessage, protocol.Caller) (json.RawMessage, error) {
		panic("dice fell off the table")
	})

	rec := newRecorder()
	_, err := s.client.StartChat(ChatRequest{ConversationID: "c1", Message: "roll 1d20"}, rec)
	require.NoError(t, err)

	rec.waitFor(t, protocol.TypeChatTurnComplete)

	assert.Contains(t, rec.text(), "dice fell off the table")
	assert.True(t, s.manager.IsOpen(), "a failing tool never closes the socket")
}

// pausingScript pauses after one chunk, sends content the client must not
// accept, and finishes once the client continues.
func pausingScript(c *fakeserver.Conn, conversationID string, _ protocol.ChatMessage) {
	_ = c.Send(fakeserver.Started(conversationID))
	_ = c.Send(fakeserver.Content(conversationID, "Searching. "))
	_ = c.Send(fakeserver.Paused(conversationID, "tool_limit", 5, 12.5, "Made 5 tool calls. Continue?"))
	_ = c.Send(fakeserver.Content(conversationID, "leaked"))
	_ = c.Send(fakeserver.ToolStatus(conversationID, "checkpoint"))

	cmd, ok := c.AwaitControl(5 * time.Second)
	if !ok || cmd.Type != protocol.TypeContinueChat {
		return
	}
	_ = c.Send(fakeserver.Content(conversationID, "Found it."))
	_ = c.Send(fakeserver.Complete(conversationID, 20, 4))
}

func TestScenario_PauseGatesContentUntilContinue(t *testing.T) {
	s := newStack(t, nil, fakeserver.WithScript(pausingScript))

	rec := newRecorder()
	_, err := s.client.StartChat(ChatRequest{ConversationID: "c1", Message: "search"}, rec)
	require.NoError(t, err)

	rec.waitFor(t, protocol.TypeChatPaused)
	assert.Equal(t, StatePaused, s.client.State("c1"))
	rec.waitFor(t, protocol.TypeChatToolStatus)
	assert.Equal(t, "Searching. ", rec.text())

	require.NoError(t, s.client.ContinueChat("c1"))
	rec.waitFor(t, protocol.TypeChatTurnComplete)

	assert.Equal(t, "Searching. Found it.", rec.text())
	assert.Len(t, s.server.ReceivedOfType(protocol.TypeContinueChat), 1)
}

// splitScript makes c1 wait on a tool call while c2 only reports status.
func splitScript(c *fakeserver.Conn, conversationID string, msg protocol.ChatMessage) {
	switch msg.Message {
	case "slow":
		_ = c.Send(fakeserver.ToolCall(conversationID, "t-slow", "slow_tool", map[string]string{}))
		if _, ok := c.AwaitToolResult("t-slow", 5*time.Second); ok {
			_ = c.Send(fakeserver.Complete(conversationID, 1, 1))
		}
	default:
		_ = c.Send(fakeserver.ToolStatus(conversationID, "c2 is busy"))
	}
}

func TestScenario_OtherConversationProgressesDuringToolCall(t *testing.T) {
	release := make(chan struct{})
	s := newStack(t, func(context.Context, string, json.RawMessage, protocol.Caller) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{"done":true}`), nil
	}, fakeserver.WithScript(splitScript))

	c1, c2 := newRecorder(), newRecorder()
	_, err := s.client.StartChat(ChatRequest{ConversationID: "c1", Message: "slow"}, c1)
	require.NoError(t, err)
	c1.waitFor(t, protocol.TypeChatToolCall)

	_, err = s.client.StartChat(ChatRequest{ConversationID: "c2", Message: "status"}, c2)
	require.NoError(t, err)

	status := c2.waitFor(t, protocol.TypeChatToolStatus).(*protocol.ChatToolStatus)
	assert.Equal(t, "c2 is busy", status.Message)
	assert.Empty(t, s.server.ReceivedOfType(protocol.TypeToolResult), "c1's tool is still running")

	close(release)
	c1.waitFor(t, protocol.TypeChatTurnComplete)
}

func TestScenario_DropWhenClosed(t *testing.T) {
	s := newStack(t, nil, fakeserver.WithScript(fakeserver.EchoScript))
	require.NoError(t, s.manager.Close())

	before := len(s.server.Received())
	require.NotPanics(t, func() {
		_, _ = s.client.StartChat(ChatRequest{ConversationID: "c1", Message: "anyone?"}, nil)
		s.client.Ping()
		s.client.SubscribeDocuments()
		s.client.SendToolResult("c1", "t1", nil)
	})

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, s.server.Received(), before)
}
