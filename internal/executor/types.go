// ABOUTME: Contracts between the executor and its generation and tool collaborators.
// ABOUTME: Defines steps, tool calls and results, prompt context, and run results.

package executor

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/mimrai-org/mimrai-sub005/internal/agent"
	"github.com/mimrai-org/mimrai-sub005/internal/artifact"
	"github.com/mimrai-org/mimrai-sub005/internal/stream"
)

// StepKind discriminates generation steps.
type StepKind string

const (
	StepDelta    StepKind = "delta"
	StepToolCall StepKind = "tool_call"
	StepFinal    StepKind = "final"
)

// Step is one unit of generator output.
type Step struct {
	Kind StepKind
	Text string
	Call *ToolCall
}

// Delta is a convenience constructor for a text step.
func Delta(text string) Step { return Step{Kind: StepDelta, Text: text} }

// Call is a convenience constructor for a tool call step.
func Call(id, name string, input json.RawMessage) Step {
	return Step{Kind: StepToolCall, Call: &ToolCall{ID: id, Name: name, Input: input}}
}

// Final is the step that ends the agent's turn.
func Final() Step { return Step{Kind: StepFinal} }

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolOutcome is the result of a tool call as reported back to the model.
type ToolOutcome struct {
	CallID  string
	Name    string
	Output  json.RawMessage
	IsError bool
}

// Exchange is what happened in one completed round.
type Exchange struct {
	Text     string
	Calls    []ToolCall
	Outcomes []ToolOutcome
}

// HistoryTurn is an earlier message of the conversation.
type HistoryTurn struct {
	Role    string
	Content string
}

// ToolSpec describes a tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ClientContext is optional locale information sent by the client.
type ClientContext struct {
	Country  string `json:"country,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// IsZero reports whether no field is set.
func (c ClientContext) IsZero() bool {
	return c == ClientContext{}
}

// PromptContext is everything a generator sees for one round.
type PromptContext struct {
	Agent   agent.Definition
	History []HistoryTurn
	Message string
	Client  ClientContext
	Tools   []ToolSpec
	// Rounds holds the earlier rounds of this turn, oldest first.
	Rounds []Exchange
}

// Generator produces the steps of one round.
type Generator interface {
	Generate(ctx context.Context, prompt PromptContext) iter.Seq2[Step, error]
}

// ArtifactOutput is a structured result a tool wants shown to the client.
type ArtifactOutput struct {
	Type    artifact.Type
	ID      string
	Payload json.RawMessage
}

// ToolResult is what a tool returns.
type ToolResult struct {
	// Output is returned to the model.
	Output json.RawMessage
	// Artifacts are validated and streamed to the client.
	Artifacts []ArtifactOutput
}

// Invocation is a tool call made on behalf of a tenant and agent.
type Invocation struct {
	Scope string
	Agent agent.Kind
	Call  ToolCall
}

// ToolInvoker runs tools.
type ToolInvoker interface {
	Invoke(ctx context.Context, inv Invocation) (ToolResult, error)
	// Specs describes the named tools to the model. Unknown names are skipped.
	Specs(names []string) []ToolSpec
}

// Emitter appends events to the turn's stream.
type Emitter interface {
	Append(payload stream.Payload) (uint64, error)
}

// Request is one agent run.
type Request struct {
	Scope   string
	Agent   agent.Definition
	Message string
	History []HistoryTurn
	Client  ClientContext
}

// ArtifactState is the latest version of an artifact emitted during a run.
type ArtifactState struct {
	Type    artifact.Type   `json:"type"`
	ID      string          `json:"id"`
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

// Result summarizes a run.
type Result struct {
	Rounds    int
	Truncated bool
	// Text is the concatenated assistant text.
	Text string
	// Artifacts holds the final state of each artifact in first-emitted order.
	Artifacts []ArtifactState
}
