// ABOUTME: Offline subcommands over the transcript store: export and conversations
// ABOUTME: Export picks markdown or HTML from the file extension

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/2389/seneschal/internal/session"
)

func runExport(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: seneschal export ID FILE")
	}
	id, path := args[0], args[1]

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	conv, err := session.Load(ctx, st, id)
	if err != nil {
		return err
	}

	if err := writeExport(path, conv.RenderMarkdown, conv.RenderHTML); err != nil {
		return err
	}
	fmt.Printf("Exported %d messages to %s\n", conv.Len(), path)
	return nil
}

// writeExport writes markdown for .md/.markdown files and HTML otherwise.
func writeExport(path string, markdown func() string, html func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		_, err = io.WriteString(f, markdown())
	default:
		err = html(f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func runConversations(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("conversations", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum conversations to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Path == "" {
		fmt.Println("database.path is empty; conversations are not stored")
		return nil
	}
	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	convs, err := st.ListConversations(ctx, *limit)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}
	if len(convs) == 0 {
		fmt.Println("No conversations yet")
		return nil
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, c := range convs {
		usage, err := st.GetConversationUsage(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("reading usage: %w", err)
		}
		cyan.Print(c.ID)
		fmt.Printf("  %s\n", c.Title)
		gray.Printf("    updated %s · %d turns · %s tokens\n",
			humanize.Time(c.UpdatedAt), usage.Turns, humanize.Comma(int64(usage.Total())))
	}
	return nil
}
