// ABOUTME: Deterministic offline generator that exercises each agent's primary tool.
// ABOUTME: Round one calls the tool, round two summarizes the outcome and finishes.

package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/mimrai-org/mimrai-sub005/internal/agent"
	"github.com/mimrai-org/mimrai-sub005/internal/executor"
)

// Echo is a generator that needs no model. Its output depends only on the
// prompt, so it is stable across runs.
type Echo struct{}

// NewEcho creates an Echo generator.
func NewEcho() *Echo {
	return &Echo{}
}

// Generate implements executor.Generator.
func (e *Echo) Generate(ctx context.Context, prompt executor.PromptContext) iter.Seq2[executor.Step, error] {
	return func(yield func(executor.Step, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(executor.Step{}, err)
			return
		}

		if len(prompt.Rounds) > 0 {
			last := prompt.Rounds[len(prompt.Rounds)-1]
			if !yield(executor.Delta(summarize(last)), nil) {
				return
			}
			yield(executor.Final(), nil)
			return
		}

		name, input, ok := primaryCall(prompt)
		if !ok {
			if !yield(executor.Delta(fmt.Sprintf("You said: %s", prompt.Message)), nil) {
				return
			}
			yield(executor.Final(), nil)
			return
		}

		if !yield(executor.Delta(fmt.Sprintf("Working on it with %s. ", name)), nil) {
			return
		}
		yield(executor.Call("", name, input), nil)
	}
}

// primaryCall picks the tool the agent leads with and builds its input.
func primaryCall(prompt executor.PromptContext) (string, json.RawMessage, bool) {
	var (
		name  string
		input any
	)
	switch prompt.Agent.Kind {
	case agent.KindPlanning:
		name = "create_plan"
		input = map[string]any{
			"title": prompt.Message,
			"steps": []map[string]string{
				{"title": "Clarify the goal"},
				{"title": "Break it into tasks"},
				{"title": "Schedule the work"},
			},
		}
	case agent.KindTasks:
		name = "list_tasks"
		filters := map[string]any{}
		if mentionsSelf(prompt.Message) {
			filters["assigneeId"] = []string{"me"}
		}
		input = filters
	case agent.KindProjects:
		name = "list_projects"
		input = map[string]any{}
	default:
		return "", nil, false
	}

	available := slices.ContainsFunc(prompt.Tools, func(t executor.ToolSpec) bool { return t.Name == name })
	if !available {
		return "", nil, false
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return "", nil, false
	}
	return name, raw, true
}

func mentionsSelf(message string) bool {
	for _, word := range strings.Fields(strings.ToLower(message)) {
		switch strings.Trim(word, ".,!?") {
		case "my", "me", "mine", "i":
			return true
		}
	}
	return false
}

func summarize(ex executor.Exchange) string {
	if len(ex.Outcomes) == 0 {
		return "Done."
	}
	parts := make([]string, 0, len(ex.Outcomes))
	for _, out := range ex.Outcomes {
		if out.IsError {
			parts = append(parts, fmt.Sprintf("%s failed.", out.Name))
			continue
		}
		var counted struct {
			Count *int `json:"count"`
		}
		if json.Unmarshal(out.Output, &counted) == nil && counted.Count != nil {
			parts = append(parts, fmt.Sprintf("%s found %d results.", out.Name, *counted.Count))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s completed.", out.Name))
	}
	return strings.Join(parts, " ")
}

var _ executor.Generator = (*Echo)(nil)
