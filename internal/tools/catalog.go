// ABOUTME: Catalog of tasks and projects the workspace tools read from.
// ABOUTME: MemoryCatalog is an in-process implementation with per-scope data.

package tools

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/mimrai-org/mimrai-sub005/internal/artifact"
)

// ErrNotFound is returned when a task or project does not exist.
var ErrNotFound = errors.New("not found")

// Catalog is the domain data source behind the workspace tools.
type Catalog interface {
	ListTasks(ctx context.Context, scope string, filters artifact.TaskFilters) ([]artifact.Task, error)
	GetTask(ctx context.Context, scope, id string) (artifact.Task, error)
	ListProjects(ctx context.Context, scope string) ([]artifact.Project, error)
	GetProject(ctx context.Context, scope, id string) (artifact.Project, error)
}

// CatalogTask is a task with the fields filters match on.
type CatalogTask struct {
	artifact.Task
	AssigneeID string
	StatusID   string
}

// SharedScope holds entries visible to every scope.
const SharedScope = "*"

// MemoryCatalog is an in-memory Catalog.
type MemoryCatalog struct {
	mu       sync.RWMutex
	tasks    map[string][]CatalogTask
	projects map[string][]artifact.Project
}

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		tasks:    make(map[string][]CatalogTask),
		projects: make(map[string][]artifact.Project),
	}
}

// AddTask adds a task to scope.
func (c *MemoryCatalog) AddTask(scope string, task CatalogTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[scope] = append(c.tasks[scope], task)
}

// AddProject adds a project to scope.
func (c *MemoryCatalog) AddProject(scope string, project artifact.Project) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projects[scope] = append(c.projects[scope], project)
}

func (c *MemoryCatalog) scopedTasks(scope string) []CatalogTask {
	return append(slices.Clone(c.tasks[SharedScope]), c.tasks[scope]...)
}

// ListTasks returns the tasks of scope matching filters.
func (c *MemoryCatalog) ListTasks(_ context.Context, scope string, filters artifact.TaskFilters) ([]artifact.Task, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	search := strings.ToLower(filters.Search)
	result := []artifact.Task{}
	for _, t := range c.scopedTasks(scope) {
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Title), search) &&
			!strings.Contains(strings.ToLower(t.Description), search) {
			continue
		}
		if len(filters.AssigneeID) > 0 && !slices.Contains(filters.AssigneeID, t.AssigneeID) {
			continue
		}
		if len(filters.StatusID) > 0 && !slices.Contains(filters.StatusID, t.StatusID) {
			continue
		}
		result = append(result, t.Task)
	}
	return result, nil
}

// GetTask returns one task of scope.
func (c *MemoryCatalog) GetTask(_ context.Context, scope, id string) (artifact.Task, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.scopedTasks(scope) {
		if t.ID == id {
			return t.Task, nil
		}
	}
	return artifact.Task{}, ErrNotFound
}

// ListProjects returns the projects of scope.
func (c *MemoryCatalog) ListProjects(_ context.Context, scope string) ([]artifact.Project, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append(slices.Clone(c.projects[SharedScope]), c.projects[scope]...), nil
}

// GetProject returns one project of scope.
func (c *MemoryCatalog) GetProject(ctx context.Context, scope, id string) (artifact.Project, error) {
	projects, _ := c.ListProjects(ctx, scope)
	for _, p := range projects {
		if p.ID == id {
			return p, nil
		}
	}
	return artifact.Project{}, ErrNotFound
}
