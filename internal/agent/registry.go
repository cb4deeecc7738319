// ABOUTME: Registry of specialized agent definitions keyed by kind.
// ABOUTME: Holds the instructions, routing keywords, and tool set each agent exposes.

package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAgentAlreadyRegistered indicates a definition for the same kind exists.
var ErrAgentAlreadyRegistered = errors.New("agent already registered")

// ErrAgentNotFound indicates the specified agent kind has no definition.
var ErrAgentNotFound = errors.New("agent not found")

// Definition describes one specialized agent.
type Definition struct {
	Kind        Kind
	Name        string
	Description string

	// Keywords are matched against the user message by triage.
	Keywords []string

	// Tools lists the tool names this agent may invoke.
	Tools []string

	// Instructions is the system prompt handed to the generation collaborator.
	Instructions string
}

// Registry holds the definitions of all routable agents.
type Registry struct {
	agents map[Kind]Definition
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewRegistry creates an empty Registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents: make(map[Kind]Definition),
		logger: logger.With("component", "agents"),
	}
}

// NewDefaultRegistry creates a Registry populated with DefaultDefinitions.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	for _, def := range DefaultDefinitions() {
		// Defaults are distinct kinds, Register cannot fail here.
		_ = r.Register(def)
	}
	return r
}

// Register adds a definition. Only routable kinds may be registered.
func (r *Registry) Register(def Definition) error {
	if !def.Kind.IsRoutable() {
		return fmt.Errorf("registering %q: kind is not routable", def.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[def.Kind]; exists {
		return ErrAgentAlreadyRegistered
	}

	r.agents[def.Kind] = def
	r.logger.Debug("agent registered",
		"agent", def.Kind,
		"tools", def.Tools,
		"total_agents", len(r.agents),
	)
	return nil
}

// Unregister removes the definition for kind.
func (r *Registry) Unregister(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[kind]; exists {
		delete(r.agents, kind)
		r.logger.Debug("agent unregistered",
			"agent", kind,
			"total_agents", len(r.agents),
		)
	}
}

// Get retrieves the definition for kind.
func (r *Registry) Get(kind Kind) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.agents[kind]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrAgentNotFound, kind)
	}
	return def, nil
}

// Capabilities returns the registered kinds in tie-break order.
func (r *Registry) Capabilities() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.agents))
	for _, k := range Routable() {
		if _, ok := r.agents[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// List returns all definitions in tie-break order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.agents))
	for _, k := range Routable() {
		if def, ok := r.agents[k]; ok {
			defs = append(defs, def)
		}
	}
	return defs
}

// DefaultDefinitions returns the built-in planning, tasks and projects agents.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Kind:        KindPlanning,
			Name:        "Planner",
			Description: "Breaks goals into plans and schedules work",
			Keywords: []string{
				"plan", "planning", "roadmap", "schedule", "strategy", "steps",
				"break down", "prioritize", "milestone", "week", "sprint",
			},
			Tools: []string{"create_plan"},
			Instructions: "You are the planning agent. Turn the user's goal into a short, " +
				"ordered plan. Use create_plan to publish the plan, then summarize it.",
		},
		{
			Kind:        KindTasks,
			Name:        "Task manager",
			Description: "Finds, filters and updates tasks",
			Keywords: []string{
				"task", "tasks", "todo", "assigned", "assignee", "due", "overdue",
				"priority", "label", "backlog", "done", "complete",
			},
			Tools: []string{"list_tasks", "get_task", "set_task_filters"},
			Instructions: "You are the tasks agent. Answer questions about the user's tasks. " +
				"Prefer calling list_tasks and let the client render the result.",
		},
		{
			Kind:        KindProjects,
			Name:        "Project manager",
			Description: "Finds and summarizes projects",
			Keywords: []string{
				"project", "projects", "team", "teams", "portfolio", "initiative",
				"workspace",
			},
			Tools: []string{"list_projects", "get_project"},
			Instructions: "You are the projects agent. Answer questions about projects and " +
				"their status. Use list_projects or get_project to fetch data.",
		},
	}
}
