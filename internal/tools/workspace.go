// ABOUTME: Workspace pack: task, project and plan tools for the sub-agents.
// ABOUTME: Each tool returns model output plus artifacts rendered by the client.

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mimrai-org/mimrai-sub005/internal/artifact"
	"github.com/mimrai-org/mimrai-sub005/internal/executor"
)

// Artifact ids of the per-conversation views.
const (
	TaskFiltersID  = "current-filters"
	TasksListID    = "tasks"
	ProjectsListID = "projects"
)

// assigneeSelf in an assignee filter stands for the calling user.
const assigneeSelf = "me"

type listTasksInput struct {
	Search     string   `json:"search,omitempty" jsonschema:"description=Free-text search over title and description"`
	AssigneeID []string `json:"assigneeId,omitempty" jsonschema:"description=Assignee ids (me for the current user)"`
	StatusID   []string `json:"statusId,omitempty" jsonschema:"description=Status ids to include"`
}

func (in listTasksInput) filters(scope string) artifact.TaskFilters {
	f := artifact.TaskFilters{Search: in.Search, StatusID: in.StatusID}
	for _, id := range in.AssigneeID {
		if id == assigneeSelf {
			id = scope
		}
		f.AssigneeID = append(f.AssigneeID, id)
	}
	return f
}

type idInput struct {
	ID string `json:"id" jsonschema:"required,description=Identifier to look up"`
}

type createPlanInput struct {
	Title string              `json:"title" jsonschema:"required"`
	Steps []artifact.PlanStep `json:"steps" jsonschema:"required,minItems=1"`
}

// WorkspacePack creates the pack of task, project and plan tools backed by catalog.
func WorkspacePack(catalog Catalog) *Pack {
	w := &workspaceHandlers{catalog: catalog}
	return &Pack{
		ID: "builtin:workspace",
		Tools: []*Tool{
			{
				Name:        "list_tasks",
				Description: "List the user's tasks, optionally filtered, and show them to the user",
				InputSchema: InputSchema[listTasksInput](),
				Handler:     w.ListTasks,
			},
			{
				Name:        "get_task",
				Description: "Fetch a single task by id and show it to the user",
				InputSchema: InputSchema[idInput](),
				Handler:     w.GetTask,
			},
			{
				Name:        "set_task_filters",
				Description: "Change the filters of the task view the user is looking at",
				InputSchema: InputSchema[listTasksInput](),
				Handler:     w.SetTaskFilters,
			},
			{
				Name:        "list_projects",
				Description: "List the user's projects and show them to the user",
				InputSchema: InputSchema[struct{}](),
				Handler:     w.ListProjects,
			},
			{
				Name:        "get_project",
				Description: "Fetch a single project by id and show it to the user",
				InputSchema: InputSchema[idInput](),
				Handler:     w.GetProject,
			},
			{
				Name:        "create_plan",
				Description: "Publish an ordered plan for the user's goal",
				InputSchema: InputSchema[createPlanInput](),
				Handler:     w.CreatePlan,
			},
		},
	}
}

type workspaceHandlers struct {
	catalog Catalog
}

func decodeInput(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

func encode(t artifact.Type, id string, v any) (executor.ArtifactOutput, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return executor.ArtifactOutput{}, fmt.Errorf("encoding %s: %w", t, err)
	}
	return executor.ArtifactOutput{Type: t, ID: id, Payload: payload}, nil
}

func result(output any, artifacts ...executor.ArtifactOutput) (executor.ToolResult, error) {
	out, err := json.Marshal(output)
	if err != nil {
		return executor.ToolResult{}, fmt.Errorf("encoding tool output: %w", err)
	}
	return executor.ToolResult{Output: out, Artifacts: artifacts}, nil
}

// Task handlers

func (w *workspaceHandlers) ListTasks(ctx context.Context, call Call) (executor.ToolResult, error) {
	var in listTasksInput
	if err := decodeInput(call.Input, &in); err != nil {
		return executor.ToolResult{}, err
	}

	filters := in.filters(call.Scope)
	tasks, err := w.catalog.ListTasks(ctx, call.Scope, filters)
	if err != nil {
		return executor.ToolResult{}, err
	}
	if tasks == nil {
		tasks = []artifact.Task{}
	}

	filtersArtifact, err := encode(artifact.TypeTaskFilters, TaskFiltersID, filters)
	if err != nil {
		return executor.ToolResult{}, err
	}
	listArtifact, err := encode(artifact.TypeTasksList, TasksListID, artifact.TasksList{Tasks: tasks})
	if err != nil {
		return executor.ToolResult{}, err
	}

	return result(map[string]any{"count": len(tasks), "tasks": tasks}, filtersArtifact, listArtifact)
}

func (w *workspaceHandlers) GetTask(ctx context.Context, call Call) (executor.ToolResult, error) {
	var in idInput
	if err := decodeInput(call.Input, &in); err != nil {
		return executor.ToolResult{}, err
	}

	task, err := w.catalog.GetTask(ctx, call.Scope, in.ID)
	if err != nil {
		return executor.ToolResult{}, fmt.Errorf("task %q: %w", in.ID, err)
	}

	a, err := encode(artifact.TypeTask, task.ID, task)
	if err != nil {
		return executor.ToolResult{}, err
	}
	return result(task, a)
}

func (w *workspaceHandlers) SetTaskFilters(_ context.Context, call Call) (executor.ToolResult, error) {
	var in listTasksInput
	if err := decodeInput(call.Input, &in); err != nil {
		return executor.ToolResult{}, err
	}

	a, err := encode(artifact.TypeTaskFilters, TaskFiltersID, in.filters(call.Scope))
	if err != nil {
		return executor.ToolResult{}, err
	}
	return result(map[string]string{"status": "applied"}, a)
}

// Project handlers

func (w *workspaceHandlers) ListProjects(ctx context.Context, call Call) (executor.ToolResult, error) {
	projects, err := w.catalog.ListProjects(ctx, call.Scope)
	if err != nil {
		return executor.ToolResult{}, err
	}
	if projects == nil {
		projects = []artifact.Project{}
	}

	a, err := encode(artifact.TypeProjectsList, ProjectsListID, artifact.ProjectsList{Projects: projects})
	if err != nil {
		return executor.ToolResult{}, err
	}
	return result(map[string]any{"count": len(projects), "projects": projects}, a)
}

func (w *workspaceHandlers) GetProject(ctx context.Context, call Call) (executor.ToolResult, error) {
	var in idInput
	if err := decodeInput(call.Input, &in); err != nil {
		return executor.ToolResult{}, err
	}

	project, err := w.catalog.GetProject(ctx, call.Scope, in.ID)
	if err != nil {
		return executor.ToolResult{}, fmt.Errorf("project %q: %w", in.ID, err)
	}

	a, err := encode(artifact.TypeProject, project.ID, project)
	if err != nil {
		return executor.ToolResult{}, err
	}
	return result(project, a)
}

// Plan handlers

// CreatePlan publishes the model's plan as given. The payload is validated
// downstream, so a malformed plan surfaces as an artifact validation error.
func (w *workspaceHandlers) CreatePlan(_ context.Context, call Call) (executor.ToolResult, error) {
	id := uuid.New().String()
	payload := call.Input
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return result(
		map[string]string{"status": "published", "planId": id},
		executor.ArtifactOutput{Type: artifact.TypePlan, ID: id, Payload: payload},
	)
}
