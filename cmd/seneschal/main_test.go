// ABOUTME: Tests for the CLI helpers: logger setup, export files and the terminal renderer
// ABOUTME: Colour output is disabled so assertions see plain text

package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/seneschal/internal/config"
	"github.com/2389/seneschal/internal/protocol"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestSetupLogger(t *testing.T) {
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"})
	assert.False(t, logger.Enabled(t.Context(), -4))
	assert.True(t, logger.Enabled(t.Context(), 4))

	logger = setupLogger(config.LoggingConfig{Level: "debug", Format: "text"})
	_, ok := logger.Handler().(*colorHandler)
	assert.True(t, ok)
	assert.True(t, logger.Enabled(t.Context(), -4))
}

func TestWriteExport(t *testing.T) {
	dir := t.TempDir()
	md := func() string { return "# Conversation\n" }
	html := func(w io.Writer) error {
		_, err := io.WriteString(w, "<html></html>")
		return err
	}

	mdPath := filepath.Join(dir, "out.md")
	require.NoError(t, writeExport(mdPath, md, html))
	data, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Equal(t, "# Conversation\n", string(data))

	htmlPath := filepath.Join(dir, "out.html")
	require.NoError(t, writeExport(htmlPath, md, html))
	data, err = os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(data))

	failing := func(io.Writer) error { return errors.New("disk full") }
	err = writeExport(filepath.Join(dir, "bad.html"), md, failing)
	assert.ErrorContains(t, err, "disk full")

	err = writeExport(filepath.Join(dir, "missing", "x.md"), md, html)
	assert.Error(t, err)
}

func TestTerminalUI(t *testing.T) {
	var out bytes.Buffer
	ui := newTerminalUI(&out)

	ui.HandleChat(&protocol.ChatContent{ConversationID: "c1", Text: "Rolling... "})
	ui.HandleChat(&protocol.ChatToolCall{ConversationID: "c1", ID: "t1", Tool: "dice_roll", Args: []byte(`{"formula":"2d6"}`)})
	ui.HandleChat(&protocol.ChatError{ConversationID: "c1", Message: "slow down", Recoverable: true})

	select {
	case <-ui.turnDone:
		t.Fatal("turn should still be running")
	default:
	}

	ui.HandleChat(&protocol.ChatTurnComplete{ConversationID: "c1", PromptTokens: 3, CompletionTokens: 4})
	select {
	case <-ui.turnDone:
	default:
		t.Fatal("complete should end the turn")
	}

	text := out.String()
	assert.Contains(t, text, "Rolling... ")
	assert.Contains(t, text, `[tool] dice_roll {"formula":"2d6"}`)
	assert.Contains(t, text, "[warning] slow down")
	assert.Contains(t, text, "(3 prompt / 4 completion tokens)")
}

func TestTerminalUI_PauseAndBroadcasts(t *testing.T) {
	var out bytes.Buffer
	ui := newTerminalUI(&out)

	ui.HandleChat(&protocol.ChatPaused{ConversationID: "c1", Message: "Continue?", ToolCallsMade: 5})
	ui.HandleChat(&protocol.ChatError{ConversationID: "c1", Message: "late", Recoverable: false})
	ui.reset()
	select {
	case <-ui.turnDone:
		t.Fatal("reset should drain the signal")
	default:
	}

	ui.broadcast(&protocol.DocumentProgress{DocumentID: "doc", Status: "processing", Phase: "embedding", Progress: 2, Total: 5})
	ui.broadcast(&protocol.DocumentProgress{DocumentID: "doc", Status: "completed", ChunkCount: 9})
	ui.broadcast(&protocol.ServerError{Message: "overloaded"})
	ui.broadcast(&protocol.AuthResponse{Success: false, Message: "bad user"})

	text := out.String()
	assert.Contains(t, text, "[paused] Continue? (5 tool calls")
	assert.Contains(t, text, "[error] late")
	assert.Contains(t, text, "[document] doc embedding 2/5")
	assert.Contains(t, text, "[document] doc ready (9 chunks, 0 images)")
	assert.Contains(t, text, "[server] overloaded")
	assert.Contains(t, text, "[auth] rejected: bad user")
}
