// Package fakeserver provides a scripted seneschal server for tests and
// manual end-to-end runs.
//
// It speaks the real wire protocol over a gorilla websocket upgrader:
// auth is always accepted (or always rejected with WithAuthFailure), pings
// are answered, and each chat_message runs a Script on its own goroutine so
// the read loop keeps receiving tool_result frames while the script waits.
//
//	srv := fakeserver.New()
//	srv.Start()
//	defer srv.Close()
//	mgr := socket.NewManager(socket.Options{URL: srv.URL(), ...})
//
// Received() and WaitFor() expose everything the client sent, and
// DropConnections() simulates transport loss.
package fakeserver
