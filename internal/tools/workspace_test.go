// ABOUTME: Tests for the workspace tool pack.
// ABOUTME: Verifies each tool's artifacts validate against the artifact codec.

package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimrai-org/mimrai-sub005/internal/agent"
	"github.com/mimrai-org/mimrai-sub005/internal/artifact"
	"github.com/mimrai-org/mimrai-sub005/internal/executor"
)

func seededCatalog() *MemoryCatalog {
	c := NewMemoryCatalog()
	c.AddTask("user-1", CatalogTask{
		Task:       artifact.Task{ID: "t1", Title: "Write quarterly report", Priority: artifact.PriorityHigh},
		AssigneeID: "user-1",
		StatusID:   "todo",
	})
	c.AddTask("user-1", CatalogTask{
		Task:       artifact.Task{ID: "t2", Title: "Review budget"},
		AssigneeID: "user-2",
		StatusID:   "done",
	})
	c.AddTask("user-2", CatalogTask{Task: artifact.Task{ID: "t3", Title: "Other tenant"}})
	c.AddProject(SharedScope, artifact.Project{ID: "p1", Name: "Website"})
	return c
}

func invokeWorkspace(t *testing.T, kind agent.Kind, name, input string) executor.ToolResult {
	t.Helper()
	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterPack(WorkspacePack(seededCatalog())))
	r := NewRouter(RouterConfig{Registry: reg, Agents: agent.NewDefaultRegistry(nil)})

	res, err := r.Invoke(t.Context(), executor.Invocation{
		Scope: "user-1",
		Agent: kind,
		Call:  executor.ToolCall{ID: "c1", Name: name, Input: json.RawMessage(input)},
	})
	require.NoError(t, err)
	return res
}

func assertArtifactsValid(t *testing.T, res executor.ToolResult) {
	t.Helper()
	codec := artifact.NewCodec()
	for _, a := range res.Artifacts {
		_, err := codec.Validate(a.Type, a.Payload)
		assert.NoError(t, err, "artifact %s", a.Type)
	}
}

func TestListTasks_AssignedToMe(t *testing.T) {
	res := invokeWorkspace(t, agent.KindTasks, "list_tasks", `{"assigneeId":["me"]}`)
	assertArtifactsValid(t, res)

	require.Len(t, res.Artifacts, 2)
	assert.Equal(t, artifact.TypeTaskFilters, res.Artifacts[0].Type)
	assert.JSONEq(t, `{"assigneeId":["user-1"]}`, string(res.Artifacts[0].Payload))

	assert.Equal(t, artifact.TypeTasksList, res.Artifacts[1].Type)
	assert.Equal(t, TasksListID, res.Artifacts[1].ID)
	var list artifact.TasksList
	require.NoError(t, json.Unmarshal(res.Artifacts[1].Payload, &list))
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, "t1", list.Tasks[0].ID)
}

func TestListTasks_NoMatchesStillValid(t *testing.T) {
	res := invokeWorkspace(t, agent.KindTasks, "list_tasks", `{"search":"nothing like this"}`)
	assertArtifactsValid(t, res)
	assert.JSONEq(t, `{"tasks":[]}`, string(res.Artifacts[1].Payload))
}

func TestListTasks_ScopeIsolation(t *testing.T) {
	res := invokeWorkspace(t, agent.KindTasks, "list_tasks", ``)
	var out struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, 2, out.Count)
}

func TestGetTask(t *testing.T) {
	res := invokeWorkspace(t, agent.KindTasks, "get_task", `{"id":"t1"}`)
	assertArtifactsValid(t, res)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, "t1", res.Artifacts[0].ID)
}

func TestGetTask_NotFound(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterPack(WorkspacePack(seededCatalog())))
	r := NewRouter(RouterConfig{Registry: reg})

	_, err := r.Invoke(t.Context(), executor.Invocation{
		Scope: "user-1",
		Agent: agent.KindTasks,
		Call:  executor.ToolCall{Name: "get_task", Input: json.RawMessage(`{"id":"t3"}`)},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetTaskFilters(t *testing.T) {
	res := invokeWorkspace(t, agent.KindTasks, "set_task_filters", `{"statusId":["todo"]}`)
	assertArtifactsValid(t, res)
	assert.Equal(t, TaskFiltersID, res.Artifacts[0].ID)
}

func TestProjects(t *testing.T) {
	res := invokeWorkspace(t, agent.KindProjects, "list_projects", `{}`)
	assertArtifactsValid(t, res)
	assert.JSONEq(t, `{"projects":[{"id":"p1","name":"Website"}]}`, string(res.Artifacts[0].Payload))

	res = invokeWorkspace(t, agent.KindProjects, "get_project", `{"id":"p1"}`)
	assertArtifactsValid(t, res)
	assert.Equal(t, "p1", res.Artifacts[0].ID)
}

func TestCreatePlan(t *testing.T) {
	res := invokeWorkspace(t, agent.KindPlanning, "create_plan",
		`{"title":"Launch","steps":[{"title":"Draft"},{"title":"Ship"}]}`)
	assertArtifactsValid(t, res)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, artifact.TypePlan, res.Artifacts[0].Type)
	assert.NotEmpty(t, res.Artifacts[0].ID)

	// A malformed plan is passed through for the codec to reject.
	res = invokeWorkspace(t, agent.KindPlanning, "create_plan", `{"title":"No steps"}`)
	_, err := artifact.NewCodec().Validate(res.Artifacts[0].Type, res.Artifacts[0].Payload)
	assert.ErrorIs(t, err, artifact.ErrValidation)
}

func TestInvalidInput(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterPack(WorkspacePack(seededCatalog())))
	r := NewRouter(RouterConfig{Registry: reg})

	_, err := r.Invoke(t.Context(), executor.Invocation{
		Agent: agent.KindTasks,
		Call:  executor.ToolCall{Name: "get_task", Input: json.RawMessage(`"not an object"`)},
	})
	assert.Error(t, err)
}
