// ABOUTME: Interactive chat loop with slash commands and a streaming terminal renderer
// ABOUTME: Tool activity prints in grey, pauses in yellow, errors in red

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/seneschal/internal/chat"
	"github.com/2389/seneschal/internal/protocol"
	"github.com/2389/seneschal/internal/socket"
)

var (
	gray   = color.New(color.FgHiBlack)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	green  = color.New(color.FgGreen)
	cyan   = color.New(color.FgCyan)
)

// terminalUI renders chat frames and broadcast frames to out.
type terminalUI struct {
	mu  sync.Mutex
	out io.Writer
	// turnDone is signalled when the prompt may be shown again.
	turnDone chan struct{}
}

func newTerminalUI(out io.Writer) *terminalUI {
	return &terminalUI{out: out, turnDone: make(chan struct{}, 1)}
}

func (u *terminalUI) HandleChat(frame protocol.ChatFrame) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch f := frame.(type) {
	case *protocol.ChatContent:
		fmt.Fprint(u.out, f.Text)
	case *protocol.ChatToolCall:
		gray.Fprintf(u.out, "\n[tool] %s %s\n", f.Tool, string(f.Args))
	case *protocol.ChatToolStatus:
		gray.Fprintf(u.out, "[status] %s\n", f.Message)
	case *protocol.ChatToolResult:
		gray.Fprintf(u.out, "[result] %s: %s\n", f.Tool, f.Summary)
	case *protocol.ChatPaused:
		yellow.Fprintf(u.out, "\n[paused] %s (%d tool calls, %.0fs)\n", f.Message, f.ToolCallsMade, f.ElapsedSeconds)
		yellow.Fprintln(u.out, "Type /continue to keep going or /cancel to stop.")
		u.endTurn()
	case *protocol.ChatTurnComplete:
		fmt.Fprintln(u.out)
		gray.Fprintf(u.out, "(%d prompt / %d completion tokens)\n", f.PromptTokens, f.CompletionTokens)
		u.endTurn()
	case *protocol.ChatError:
		if f.Recoverable {
			yellow.Fprintf(u.out, "\n[warning] %s\n", f.Message)
			return
		}
		red.Fprintf(u.out, "\n[error] %s\n", f.Message)
		u.endTurn()
	}
}

// endTurn must be called with mu held.
func (u *terminalUI) endTurn() {
	select {
	case u.turnDone <- struct{}{}:
	default:
	}
}

// reset drops a stale turn signal before a new turn starts.
func (u *terminalUI) reset() {
	select {
	case <-u.turnDone:
	default:
	}
}

func (u *terminalUI) broadcast(frame protocol.Frame) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch f := frame.(type) {
	case *protocol.DocumentProgress:
		switch {
		case f.Error != "":
			red.Fprintf(u.out, "[document] %s failed: %s\n", f.DocumentID, f.Error)
		case f.Status == "completed":
			green.Fprintf(u.out, "[document] %s ready (%d chunks, %d images)\n", f.DocumentID, f.ChunkCount, f.ImageCount)
		default:
			gray.Fprintf(u.out, "[document] %s %s %d/%d\n", f.DocumentID, f.Phase, f.Progress, f.Total)
		}
	case *protocol.ServerError:
		red.Fprintf(u.out, "[server] %s\n", f.Message)
	case *protocol.AuthResponse:
		if !f.Success {
			red.Fprintf(u.out, "[auth] rejected: %s\n", f.Message)
		}
	}
}

func (u *terminalUI) reconnected() {
	u.mu.Lock()
	defer u.mu.Unlock()
	green.Fprintln(u.out, "[connection] reconnected")
}

func (u *terminalUI) disconnected() {
	u.mu.Lock()
	defer u.mu.Unlock()
	red.Fprintln(u.out, "[connection] lost; giving up after repeated attempts. Restart to reconnect.")
	u.endTurn()
}

func runChat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	resume := fs.String("resume", "", "conversation id to resume")
	model := fs.String("model", "", "model override")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	if *model != "" {
		cfg.Chat.Model = *model
	}
	logger := setupLogger(cfg.Logging)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	if configPath == "" {
		configPath = "(defaults)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Server:   %s\n", cfg.Server.URL)
	green.Print("    ▶ ")
	fmt.Printf("User:     %s (%s)\n", cfg.Identity.UserName, cfg.Identity.ParsedRole)
	green.Print("    ▶ ")
	if cfg.Database.Path == "" {
		fmt.Println("History:  memory only")
	} else {
		fmt.Printf("History:  %s\n", cfg.Database.Path)
	}
	fmt.Println()

	ui := newTerminalUI(os.Stdout)
	a, err := newApp(cfg, logger, ui, hooks{
		onReconnect:           ui.reconnected,
		onPermanentDisconnect: ui.disconnected,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	for _, topic := range []string{chat.TopicDocuments, chat.TopicError, chat.TopicAuth} {
		a.broadcaster.Subscribe(ctx, topic, ui.broadcast)
	}

	if err := a.connect(ctx); err != nil {
		if errors.Is(err, socket.ErrNoEndpoint) {
			return fmt.Errorf("%w (set server.url in the config file)", err)
		}
		return fmt.Errorf("connecting: %w", err)
	}

	if *resume != "" {
		if err := a.session.Resume(ctx, *resume); err != nil {
			return err
		}
		fmt.Println(a.session.Transcript())
	}

	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	if err := chatLoop(ctx, a, ui); err != nil {
		return err
	}
	fmt.Println("\nGoodbye!")
	return nil
}

func chatLoop(ctx context.Context, a *app, ui *terminalUI) error {
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- io.EOF
	}()

	for {
		fmt.Print("> ")

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-lines:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			wait, quit := handleCommand(ctx, a, input)
			if quit {
				return nil
			}
			if wait {
				waitForTurn(ctx, ui)
			}
			fmt.Println()
			continue
		}

		ui.reset()
		if err := a.session.Send(ctx, input); err != nil {
			red.Printf("[error] %v\n\n", err)
			continue
		}
		waitForTurn(ctx, ui)
		fmt.Println()
	}
}

func waitForTurn(ctx context.Context, ui *terminalUI) {
	select {
	case <-ui.turnDone:
	case <-ctx.Done():
	}
}

// handleCommand runs a slash command. wait reports whether a turn was
// resumed and the prompt should wait for it.
func handleCommand(ctx context.Context, a *app, input string) (wait, quit bool) {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit", "/q":
		return false, true
	case "/help":
		printHelp()
	case "/new":
		a.session.NewConversation(ctx)
		fmt.Printf("New conversation %s\n", a.session.ID())
	case "/continue":
		if err := a.session.Continue(); err != nil {
			red.Printf("[error] %v\n", err)
			return false, false
		}
		return true, false
	case "/cancel":
		if err := a.session.Cancel(ctx); err != nil {
			red.Printf("[error] %v\n", err)
			return false, false
		}
		yellow.Println("Cancelled.")
	case "/subscribe":
		a.client.SubscribeDocuments()
		fmt.Println("Subscribed to document progress")
	case "/unsubscribe":
		a.client.UnsubscribeDocuments()
		fmt.Println("Unsubscribed from document progress")
	case "/history":
		fmt.Println(a.session.Transcript())
		if usage, err := a.session.Usage(ctx); err == nil && usage.Turns > 0 {
			gray.Printf("%d turns, %d tokens (estimate %d)\n", usage.Turns, usage.Total(), a.session.TokenEstimate())
		}
	case "/tools":
		for _, def := range a.tools.Definitions() {
			fmt.Printf("  %-12s %s ", def.Name, def.Description)
			gray.Printf("[%s+]\n", def.MinRole)
		}
	case "/export":
		if arg == "" {
			red.Println("usage: /export FILE")
			return false, false
		}
		if err := writeExport(arg, a.session.Transcript, a.session.ExportHTML); err != nil {
			red.Printf("[error] %v\n", err)
			return false, false
		}
		fmt.Printf("Exported to %s\n", arg)
	default:
		red.Printf("Unknown command %s (try /help)\n", cmd)
	}
	return false, false
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /new           Start a new conversation")
	fmt.Println("  /continue      Resume a paused turn")
	fmt.Println("  /cancel        Cancel the current turn")
	fmt.Println("  /subscribe     Show document ingestion progress")
	fmt.Println("  /unsubscribe   Stop showing document progress")
	fmt.Println("  /history       Show this conversation")
	fmt.Println("  /tools         List local tools")
	fmt.Println("  /export FILE   Save this conversation (.md or .html)")
	fmt.Println("  /help          Show this help")
	fmt.Println("  /quit          Exit")
}
