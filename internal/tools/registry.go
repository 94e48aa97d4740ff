// ABOUTME: Thread-safe registry of in-process tools grouped in packs.
// ABOUTME: Implements chat.ToolExecutor with role checks and a per-call timeout.

package tools

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/seneschal/internal/chat"
	"github.com/2389/seneschal/internal/protocol"
)

// Errors reported by the registry. ErrToolNotFound and ErrPermissionDenied
// reach the assistant as data-level {"error": ...} results.
var (
	ErrToolCollision    = errors.New("tool name collision")
	ErrToolNotFound     = errors.New("unknown tool")
	ErrPermissionDenied = errors.New("permission denied")
)

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 30 * time.Second

// Handler runs a tool. It receives the acting caller and the raw arguments.
type Handler func(ctx context.Context, caller protocol.Caller, args json.RawMessage) (json.RawMessage, error)

// Definition describes a tool to the assistant.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	// MinRole is the lowest role allowed to run the tool.
	MinRole protocol.Role `json:"min_role"`
}

// Tool is a definition with its handler.
type Tool struct {
	Definition Definition
	Handler    Handler
}

// Pack is a named group of tools registered together.
type Pack struct {
	ID    string
	Tools []*Tool
}

type entry struct {
	tool   *Tool
	packID string
}

var _ chat.ToolExecutor = (*Registry)(nil)

// Registry maps tool names to tools.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*entry
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]*entry),
		timeout: DefaultTimeout,
		logger:  logger.With("component", "tools"),
	}
}

// SetTimeout changes the per-call timeout. Zero disables it.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

// RegisterPack adds every tool of pack. Nothing is registered if any name
// collides with an existing tool.
func (r *Registry) RegisterPack(pack *Pack) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(pack.Tools))
	for _, tool := range pack.Tools {
		name := tool.Definition.Name
		if existing, ok := r.tools[name]; ok {
			return fmt.Errorf("%w: tool %q already registered by pack %q", ErrToolCollision, name, existing.packID)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: tool %q appears twice in pack %q", ErrToolCollision, name, pack.ID)
		}
		seen[name] = struct{}{}
	}

	for _, tool := range pack.Tools {
		r.tools[tool.Definition.Name] = &entry{tool: tool, packID: pack.ID}
	}

	r.logger.Info("registered tool pack", "pack_id", pack.ID, "tools", len(pack.Tools))
	return nil
}

// Get returns the tool with the given name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.tools[name]; ok {
		return e.tool
	}
	return nil
}

// Definitions lists every tool definition sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.tool.Definition)
	}
	slices.SortFunc(defs, func(a, b Definition) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return defs
}

// Names lists the tools role may run, sorted.
func (r *Registry) Names(role protocol.Role) []string {
	var names []string
	for _, def := range r.Definitions() {
		if role.AtLeast(def.MinRole) {
			names = append(names, def.Name)
		}
	}
	return names
}

// ExecuteTool runs the named tool for caller. Unknown tools and
// insufficient roles yield an {"error": "..."} result, not an error.
func (r *Registry) ExecuteTool(ctx context.Context, name string, args json.RawMessage, caller protocol.Caller) (json.RawMessage, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	timeout := r.timeout
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("unknown tool requested", "tool", name, "caller", caller.ID)
		return dataError(fmt.Sprintf("%v: %s", ErrToolNotFound, name)), nil
	}

	def := e.tool.Definition
	if !caller.Role.AtLeast(def.MinRole) {
		r.logger.Warn("tool permission denied",
			"tool", name,
			"caller", caller.ID,
			"role", caller.Role.String(),
			"required", def.MinRole.String())
		return dataError(fmt.Sprintf("%v: %s requires role %s", ErrPermissionDenied, name, def.MinRole)), nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	result, err := e.tool.Handler(ctx, caller, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return result, nil
}

func dataError(message string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": message})
	return data
}
