// Package socket owns the single duplex websocket to the seneschal server.
//
// # Overview
//
// Manager handles connect, authentication, heartbeat, reconnect with
// backoff, and teardown. Decoded routing happens elsewhere: every inbound
// text frame is handed, in arrival order, to the function registered with
// SetFrameHandler.
//
//	mgr := socket.NewManager(socket.Options{
//	    URL:      cfg.Server.URL,
//	    Identity: caller,
//	    Logger:   logger,
//	})
//	mgr.SetFrameHandler(router.HandleFrame)
//	if err := mgr.Connect(ctx); err != nil { ... }
//
// # Connect
//
// Connect is idempotent. An open socket returns immediately, and callers
// that arrive while a dial is in flight share its result. Once the socket
// is open the auth frame is sent and Connect returns; the auth_response is
// observed later from the read loop.
//
// # Send
//
// Send is fire-and-forget. Frames sent while the socket is closed are
// dropped without error and are never queued.
//
// # Reconnection
//
// An unexpected close schedules a reconnect after ReconnectDelay, doubling
// per attempt up to MaxReconnectDelay. After MaxReconnectAttempts failures
// OnPermanentDisconnect fires once and retrying stops. A successful connect
// resets the counters. Close never triggers reconnection.
//
// Topic subscriptions are not restored automatically; use OnReconnect to
// resubscribe.
package socket
