// ABOUTME: Markdown and HTML renderings of a conversation transcript
// ABOUTME: HTML export runs each message through goldmark inside an embedded template

package conversation

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/yuin/goldmark"
)

//go:embed templates/transcript.html
var templateFS embed.FS

var transcriptTmpl = template.Must(template.ParseFS(templateFS, "templates/transcript.html"))

const timeLayout = "2006-01-02 15:04"

func (r Role) label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// RenderMarkdown returns the transcript as markdown.
func (c *Conversation) RenderMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation %s\n\n", c.ID)
	for _, m := range c.Messages {
		fmt.Fprintf(&b, "### %s · %s", m.Role.label(), m.Timestamp.Format(timeLayout))
		if m.Interrupted {
			b.WriteString(" (interrupted)")
		}
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteString("\n\n")
	}
	return b.String()
}

type htmlMessage struct {
	Role        Role
	Label       string
	Time        string
	Interrupted bool
	Body        template.HTML
}

// RenderHTML writes a standalone HTML page of the transcript.
func (c *Conversation) RenderHTML(w io.Writer) error {
	msgs := make([]htmlMessage, 0, len(c.Messages))
	for _, m := range c.Messages {
		var body bytes.Buffer
		if err := goldmark.Convert([]byte(m.Content), &body); err != nil {
			return fmt.Errorf("converting message %s: %w", m.ID, err)
		}
		msgs = append(msgs, htmlMessage{
			Role:        m.Role,
			Label:       m.Role.label(),
			Time:        m.Timestamp.Format(timeLayout),
			Interrupted: m.Interrupted,
			Body:        template.HTML(body.String()),
		})
	}

	data := struct {
		Title    string
		Tokens   int
		Messages []htmlMessage
	}{
		Title:    "Conversation " + c.ID,
		Tokens:   c.tokens,
		Messages: msgs,
	}

	if err := transcriptTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("rendering transcript: %w", err)
	}
	return nil
}
