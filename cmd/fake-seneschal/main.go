// ABOUTME: Scripted seneschal server for manual E2E testing: auth, pong, dice tool calls, echo.
// ABOUTME: Usage: fake-seneschal [-addr localhost:8765] [-path /ws] [-reject-auth]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/2389/seneschal/internal/fakeserver"
)

func main() {
	addr := flag.String("addr", "localhost:8765", "listen address")
	path := flag.String("path", "/ws", "websocket path")
	rejectAuth := flag.Bool("reject-auth", false, "fail every auth frame")
	debug := flag.Bool("debug", false, "log every frame")
	flag.Parse()

	if err := run(*addr, *path, *rejectAuth, *debug); err != nil {
		log.Fatal(err)
	}
}

func run(addr, path string, rejectAuth, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []fakeserver.Option{fakeserver.WithLogger(logger)}
	if rejectAuth {
		opts = append(opts, fakeserver.WithAuthFailure())
	}
	srv := fakeserver.New(opts...)

	mux := http.NewServeMux()
	mux.Handle(path, srv)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	fmt.Fprintf(os.Stderr, "fake seneschal listening on ws://%s%s\n", addr, path)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	srv.DropConnections()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
