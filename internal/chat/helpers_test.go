// ABOUTME: Shared fixtures for chat tests: a recording sender and a recording handler
// ABOUTME: Frames are built with the fake server builders and fed to the router as raw JSON

package chat

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/seneschal/internal/protocol"
)

// recordingSender captures outbound frames as JSON.
type recordingSender struct {
	mu     sync.Mutex
	frames []json.RawMessage
	onSend func(frame any)
}

func (s *recordingSender) Send(frame any) {
	if s.onSend != nil {
		s.onSend(frame)
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.frames = append(s.frames, data)
	s.mu.Unlock()
}

func (s *recordingSender) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		typ, _ := protocol.PeekType(f)
		out = append(out, typ)
	}
	return out
}

func (s *recordingSender) toolResults() []protocol.ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.ToolResult
	for _, f := range s.frames {
		if typ, _ := protocol.PeekType(f); typ != protocol.TypeToolResult {
			continue
		}
		var res protocol.ToolResult
		if err := json.Unmarshal(f, &res); err == nil {
			out = append(out, res)
		}
	}
	return out
}

func (s *recordingSender) last(t *testing.T) json.RawMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.frames)
	return s.frames[len(s.frames)-1]
}

// recorder is a Handler that remembers every frame.
type recorder struct {
	mu     sync.Mutex
	frames []protocol.ChatFrame
	notify chan protocol.ChatFrame
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan protocol.ChatFrame, 256)}
}

func (r *recorder) HandleChat(frame protocol.ChatFrame) {
	r.mu.Lock()
	r.frames = append(r.frames, frame)
	r.mu.Unlock()
	select {
	case r.notify <- frame:
	default:
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f.FrameType())
	}
	return out
}

func (r *recorder) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out string
	for _, f := range r.frames {
		if c, ok := f.(*protocol.ChatContent); ok {
			out += c.Text
		}
	}
	return out
}

// waitFor consumes notifications until a frame of typ arrives.
func (r *recorder) waitFor(t *testing.T, typ string) protocol.ChatFrame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f := <-r.notify:
			if f.FrameType() == typ {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s (saw %v)", typ, r.types())
			return nil
		}
	}
}

// raw encodes a frame built by the fake server builders.
func raw(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
