// ABOUTME: Routes tool calls from agents to registered handlers.
// ABOUTME: Enforces per-agent tool lists and timeouts; implements executor.ToolInvoker.

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mimrai-org/mimrai-sub005/internal/agent"
	"github.com/mimrai-org/mimrai-sub005/internal/executor"
)

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrToolNotAllowed indicates the calling agent does not list the tool.
var ErrToolNotAllowed = errors.New("tool not allowed for agent")

// ErrToolTimeout indicates the tool did not finish in time.
var ErrToolTimeout = errors.New("tool timed out")

// DefaultTimeout is the default timeout for tool execution.
const DefaultTimeout = 30 * time.Second

// RouterConfig contains configuration options for the Router.
type RouterConfig struct {
	Registry *Registry
	// Agents restricts each agent to the tools its definition lists.
	// When nil every registered tool is callable.
	Agents  *agent.Registry
	Logger  *slog.Logger
	Timeout time.Duration
}

// Router dispatches tool calls.
type Router struct {
	registry *Registry
	agents   *agent.Registry
	logger   *slog.Logger
	timeout  time.Duration
}

// NewRouter creates a new Router with the given configuration.
func NewRouter(cfg RouterConfig) *Router {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		registry: cfg.Registry,
		agents:   cfg.Agents,
		logger:   logger.With("component", "tool-router"),
		timeout:  timeout,
	}
}

// Specs describes the named tools to the model.
func (r *Router) Specs(names []string) []executor.ToolSpec {
	return r.registry.Specs(names)
}

type outcome struct {
	result executor.ToolResult
	err    error
}

// Invoke runs the tool named in inv.Call.
// Returns ErrToolNotFound, ErrToolNotAllowed, ErrToolTimeout, or the handler's error.
func (r *Router) Invoke(ctx context.Context, inv executor.Invocation) (executor.ToolResult, error) {
	name := inv.Call.Name
	tool := r.registry.Get(name)
	if tool == nil {
		r.logger.Debug("tool not found in registry", "tool_name", name, "agent", inv.Agent)
		return executor.ToolResult{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	if r.agents != nil {
		def, err := r.agents.Get(inv.Agent)
		if err != nil || !slices.Contains(def.Tools, name) {
			return executor.ToolResult{}, fmt.Errorf("%w: %s cannot call %s", ErrToolNotAllowed, inv.Agent, name)
		}
	}

	timeout := r.timeout
	if tool.Timeout > 0 {
		timeout = tool.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.logger.Debug("→ dispatching tool",
		"tool_name", name,
		"tool_call_id", inv.Call.ID,
		"agent", inv.Agent,
	)

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", name, p)}
			}
		}()
		res, err := tool.Handler(ctx, Call{Scope: inv.Scope, Agent: inv.Agent, Input: inv.Call.Input})
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			r.logger.Warn("tool error",
				"tool_name", name,
				"tool_call_id", inv.Call.ID,
				"error", out.err,
			)
			return executor.ToolResult{}, out.err
		}
		r.logger.Debug("← tool responded",
			"tool_name", name,
			"tool_call_id", inv.Call.ID,
			"artifacts", len(out.result.Artifacts),
		)
		return out.result, nil
	case <-ctx.Done():
		r.logger.Warn("tool call timed out or cancelled",
			"tool_name", name,
			"tool_call_id", inv.Call.ID,
			"timeout", timeout,
			"error", ctx.Err(),
		)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return executor.ToolResult{}, fmt.Errorf("%w: %s after %s", ErrToolTimeout, name, timeout)
		}
		return executor.ToolResult{}, ctx.Err()
	}
}

var _ executor.ToolInvoker = (*Router)(nil)
