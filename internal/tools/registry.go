// ABOUTME: Registry of tools grouped into packs, keyed by tool name.
// ABOUTME: Produces the tool specs shown to the model for an agent's tool list.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mimrai-org/mimrai-sub005/internal/agent"
	"github.com/mimrai-org/mimrai-sub005/internal/executor"
)

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// Call is the input of one tool invocation.
type Call struct {
	Scope string
	Agent agent.Kind
	Input json.RawMessage
}

// Handler executes a tool.
type Handler func(ctx context.Context, call Call) (executor.ToolResult, error)

// Tool is a callable tool.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	// Timeout overrides the router default when positive.
	Timeout time.Duration
	Handler Handler
}

// Pack is a named group of tools.
type Pack struct {
	ID    string
	Tools []*Tool
}

// PackInfo describes a registered pack.
type PackInfo struct {
	ID    string
	Tools []string
}

type entry struct {
	tool   *Tool
	packID string
}

// Registry holds every registered tool.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*entry
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*entry),
		logger: logger.With("component", "tools"),
	}
}

// RegisterPack registers every tool of pack, or none if any name collides.
func (r *Registry) RegisterPack(pack *Pack) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(pack.Tools))
	for _, tool := range pack.Tools {
		if tool.Handler == nil {
			return fmt.Errorf("tool %q has no handler", tool.Name)
		}
		if _, exists := r.tools[tool.Name]; exists {
			return fmt.Errorf("%w: tool '%s' already registered", ErrToolCollision, tool.Name)
		}
		if _, dup := seen[tool.Name]; dup {
			return fmt.Errorf("%w: tool '%s' listed twice in pack %s", ErrToolCollision, tool.Name, pack.ID)
		}
		seen[tool.Name] = struct{}{}
	}

	for _, tool := range pack.Tools {
		r.tools[tool.Name] = &entry{tool: tool, packID: pack.ID}
	}

	r.logger.Info("tool pack registered",
		"pack_id", pack.ID,
		"tool_count", len(pack.Tools),
	)
	return nil
}

// Get returns the tool with name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.tools[name]; ok {
		return e.tool
	}
	return nil
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs describes the named tools in the given order, skipping unknown names.
func (r *Registry) Specs(names []string) []executor.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]executor.ToolSpec, 0, len(names))
	for _, name := range names {
		e, ok := r.tools[name]
		if !ok {
			continue
		}
		specs = append(specs, executor.ToolSpec{
			Name:        e.tool.Name,
			Description: e.tool.Description,
			InputSchema: e.tool.InputSchema,
		})
	}
	return specs
}

// ListPacks returns the registered packs sorted by ID.
func (r *Registry) ListPacks() []PackInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byPack := make(map[string][]string)
	for name, e := range r.tools {
		byPack[e.packID] = append(byPack[e.packID], name)
	}

	result := make([]PackInfo, 0, len(byPack))
	for id, names := range byPack {
		sort.Strings(names)
		result = append(result, PackInfo{ID: id, Tools: names})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
