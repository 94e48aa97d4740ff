// ABOUTME: Tests for the connection manager against an in-process fake server
// ABOUTME: Covers idempotent connect, auth, drop-when-closed, heartbeat, reconnect and backoff bounds

package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/seneschal/internal/fakeserver"
	"github.com/2389/seneschal/internal/protocol"
)

var testCaller = protocol.Caller{ID: "gm-1", Name: "Game Master", Role: protocol.RoleGamemaster}

func startServer(t *testing.T, opts ...fakeserver.Option) *fakeserver.Server {
	t.Helper()
	srv := fakeserver.New(opts...)
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.Identity.ID == "" {
		opts.Identity = testCaller
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := NewManager(opts)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// countingDialer returns a dialer that counts TCP dials.
func countingDialer(count *atomic.Int32) *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			count.Add(1)
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
}

func TestConnect_NoEndpoint(t *testing.T) {
	m := newTestManager(t, Options{})

	err := m.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoEndpoint))

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "server.url", cfgErr.Field)
	assert.False(t, m.IsOpen())
}

func TestConnect_Idempotent(t *testing.T) {
	srv := startServer(t)
	var dials atomic.Int32
	m := newTestManager(t, Options{URL: srv.URL(), Dialer: countingDialer(&dials)})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Connect(t.Context())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, m.Connect(t.Context()))

	require.True(t, srv.WaitFor(protocol.TypeAuth, 1, time.Second))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), dials.Load())
	assert.Equal(t, 1, srv.Connections())
	assert.Len(t, srv.ReceivedOfType(protocol.TypeAuth), 1)
}

func TestConnect_SendsAuthAndTracksSession(t *testing.T) {
	srv := startServer(t)
	m := newTestManager(t, Options{URL: srv.URL()})

	require.NoError(t, m.Connect(t.Context()))
	require.True(t, srv.WaitFor(protocol.TypeAuth, 1, time.Second))

	var auth protocol.Auth
	require.NoError(t, json.Unmarshal(srv.ReceivedOfType(protocol.TypeAuth)[0].Raw, &auth))
	assert.Equal(t, "gm-1", auth.UserID)
	assert.Equal(t, "Game Master", auth.UserName)
	assert.Equal(t, protocol.RoleGamemaster, auth.Role)
	assert.Nil(t, auth.SessionID, "first auth carries no session")

	require.Eventually(t, m.IsAuthenticated, time.Second, 5*time.Millisecond)
	assert.Equal(t, "sess-1", m.SessionID())
}

func TestConnect_AuthFailureLeavesUnauthenticated(t *testing.T) {
	srv := startServer(t, fakeserver.WithAuthFailure())
	m := newTestManager(t, Options{URL: srv.URL(), HeartbeatInterval: 10 * time.Millisecond})

	var frames atomic.Int32
	m.SetFrameHandler(func([]byte) { frames.Add(1) })

	require.NoError(t, m.Connect(t.Context()), "connect resolves before authentication")
	require.Eventually(t, func() bool { return frames.Load() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.True(t, m.IsOpen())
	assert.False(t, m.IsAuthenticated())
	assert.Empty(t, srv.ReceivedOfType(protocol.TypePing), "no heartbeat before authentication")
}

func TestSend_DroppedWhenClosed(t *testing.T) {
	srv := startServer(t)
	m := newTestManager(t, Options{URL: srv.URL()})

	assert.NotPanics(t, func() {
		m.Send(protocol.NewPing())
		m.Send(protocol.NewCancelChat("c1"))
	})

	require.NoError(t, m.Connect(t.Context()))
	require.True(t, srv.WaitFor(protocol.TypeAuth, 1, time.Second))
	require.NoError(t, m.Close())

	assert.NotPanics(t, func() { m.Send(protocol.NewContinueChat("c1")) })

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, srv.ReceivedOfType(protocol.TypePing))
	assert.Empty(t, srv.ReceivedOfType(protocol.TypeCancelChat))
	assert.Empty(t, srv.ReceivedOfType(protocol.TypeContinueChat))
}

func TestSend_UnmarshalableFrameIsDropped(t *testing.T) {
	srv := startServer(t)
	m := newTestManager(t, Options{URL: srv.URL()})
	require.NoError(t, m.Connect(t.Context()))

	assert.NotPanics(t, func() { m.Send(map[string]any{"type": "bad", "ch": make(chan int)}) })
	m.Send(protocol.NewPing())

	require.True(t, srv.WaitFor(protocol.TypePing, 1, time.Second))
	assert.Empty(t, srv.ReceivedOfType("bad"))
}

func TestFrameHandler_ReceivesFramesInOrder(t *testing.T) {
	srv := startServer(t)
	m := newTestManager(t, Options{URL: srv.URL()})

	var mu sync.Mutex
	var types []string
	m.SetFrameHandler(func(data []byte) {
		typ, _ := protocol.PeekType(data)
		mu.Lock()
		types = append(types, typ)
		mu.Unlock()
	})

	require.NoError(t, m.Connect(t.Context()))
	require.Eventually(t, m.IsAuthenticated, time.Second, 5*time.Millisecond)

	srv.Broadcast(fakeserver.Content("c1", "a"))
	srv.Broadcast(fakeserver.Content("c1", "b"))
	srv.Broadcast(fakeserver.Complete("c1", 1, 1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 4
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		protocol.TypeAuthResponse,
		protocol.TypeChatContent,
		protocol.TypeChatContent,
		protocol.TypeChatTurnComplete,
	}, types)
}

func TestHeartbeat_PingsOnceAuthenticated(t *testing.T) {
	srv := startServer(t)
	m := newTestManager(t, Options{URL: srv.URL(), HeartbeatInterval: 20 * time.Millisecond})

	require.NoError(t, m.Connect(t.Context()))
	assert.True(t, srv.WaitFor(protocol.TypePing, 2, 2*time.Second))

	require.NoError(t, m.Close())
	time.Sleep(30 * time.Millisecond)
	pings := len(srv.ReceivedOfType(protocol.TypePing))
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, pings, len(srv.ReceivedOfType(protocol.TypePing)), "heartbeat stops on close")
}

func TestReconnect_ResumesSession(t *testing.T) {
	srv := startServer(t)

	var reconnects atomic.Int32
	m := newTestManager(t, Options{
		URL:            srv.URL(),
		ReconnectDelay: 10 * time.Millisecond,
		OnReconnect:    func() { reconnects.Add(1) },
	})

	require.NoError(t, m.Connect(t.Context()))
	require.Eventually(t, m.IsAuthenticated, time.Second, 5*time.Millisecond)

	srv.DropConnections()

	require.True(t, srv.WaitFor(protocol.TypeAuth, 2, 2*time.Second))
	require.Eventually(t, func() bool { return reconnects.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, srv.Connections())

	var auth protocol.Auth
	require.NoError(t, json.Unmarshal(srv.ReceivedOfType(protocol.TypeAuth)[1].Raw, &auth))
	require.NotNil(t, auth.SessionID)
	assert.Equal(t, "sess-1", *auth.SessionID, "reconnect resumes the previous session")

	require.Eventually(t, m.IsAuthenticated, time.Second, 5*time.Millisecond)
}

func TestReconnect_ExplicitConnectSupersedesPendingTimer(t *testing.T) {
	srv := startServer(t)

	var reconnects atomic.Int32
	m := newTestManager(t, Options{
		URL:            srv.URL(),
		ReconnectDelay: 150 * time.Millisecond,
		OnReconnect:    func() { reconnects.Add(1) },
	})

	require.NoError(t, m.Connect(t.Context()))
	require.True(t, srv.WaitFor(protocol.TypeAuth, 1, time.Second))

	srv.DropConnections()
	require.Eventually(t, func() bool { return !m.IsOpen() }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Connect(t.Context()))
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, int32(0), reconnects.Load(), "the stale timer must not report a reconnect")
	assert.Equal(t, 2, srv.Connections())
	assert.Len(t, srv.ReceivedOfType(protocol.TypeAuth), 2)
	assert.True(t, m.IsOpen())
}

func TestReconnect_BackoffBounds(t *testing.T) {
	srv := startServer(t)

	var dials, permanent atomic.Int32
	m := newTestManager(t, Options{
		URL:                   srv.URL(),
		Dialer:                countingDialer(&dials),
		ReconnectDelay:        5 * time.Millisecond,
		MaxReconnectDelay:     20 * time.Millisecond,
		MaxReconnectAttempts:  3,
		OnPermanentDisconnect: func() { permanent.Add(1) },
	})

	require.NoError(t, m.Connect(t.Context()))
	require.True(t, srv.WaitFor(protocol.TypeAuth, 1, time.Second))

	// Stop listening so every reconnect dial fails.
	srv.Close()

	require.Eventually(t, func() bool { return permanent.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(1), permanent.Load(), "permanent disconnect fires exactly once")
	assert.Equal(t, int32(1+3), dials.Load(), "initial dial plus MaxReconnectAttempts retries")
	assert.False(t, m.IsOpen())
}

func TestReconnect_DisabledWithNegativeAttempts(t *testing.T) {
	srv := startServer(t)

	var permanent atomic.Int32
	m := newTestManager(t, Options{
		URL:                   srv.URL(),
		MaxReconnectAttempts:  -1,
		OnPermanentDisconnect: func() { permanent.Add(1) },
	})

	require.NoError(t, m.Connect(t.Context()))
	require.True(t, srv.WaitFor(protocol.TypeAuth, 1, time.Second))

	srv.DropConnections()

	require.Eventually(t, func() bool { return permanent.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, srv.Connections())
}

func TestClose_DoesNotReconnect(t *testing.T) {
	srv := startServer(t)
	m := newTestManager(t, Options{URL: srv.URL(), ReconnectDelay: 5 * time.Millisecond})

	require.NoError(t, m.Connect(t.Context()))
	require.Eventually(t, m.IsAuthenticated, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close())
	assert.False(t, m.IsOpen())
	assert.False(t, m.IsAuthenticated())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, srv.Connections())

	// A later explicit Connect works again.
	require.NoError(t, m.Connect(t.Context()))
	require.True(t, srv.WaitFor(protocol.TypeAuth, 2, time.Second))
	assert.Equal(t, 2, srv.Connections())
}

func TestNextDelay(t *testing.T) {
	delay := 100 * time.Millisecond
	var got []time.Duration
	for range 5 {
		delay = nextDelay(delay, time.Second)
		got = append(got, delay)
	}
	assert.Equal(t, []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}, got)
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Options{URL: "ws://example.invalid"})
	assert.Equal(t, DefaultHeartbeatInterval, m.opts.HeartbeatInterval)
	assert.Equal(t, DefaultReconnectDelay, m.opts.ReconnectDelay)
	assert.Equal(t, DefaultMaxReconnectDelay, m.opts.MaxReconnectDelay)
	assert.Equal(t, DefaultMaxReconnectAttempts, m.opts.MaxReconnectAttempts)
	assert.Equal(t, DefaultHandshakeTimeout, m.opts.HandshakeTimeout)
}
