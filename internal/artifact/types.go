// ABOUTME: Built-in artifact payload shapes for tasks, projects, filters and plans.
// ABOUTME: Each payload validates its own required fields and enumerations.

package artifact

import (
	"fmt"
	"strings"
)

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// TaskFilters is the filter set currently applied to a task view.
type TaskFilters struct {
	Search     string   `json:"search,omitempty"`
	AssigneeID []string `json:"assigneeId,omitempty"`
	StatusID   []string `json:"statusId,omitempty"`
}

func (f *TaskFilters) Validate() error {
	for i, id := range f.AssigneeID {
		if strings.TrimSpace(id) == "" {
			return fieldError(TypeTaskFilters, fmt.Sprintf("assigneeId[%d]", i), "must not be empty")
		}
	}
	for i, id := range f.StatusID {
		if strings.TrimSpace(id) == "" {
			return fieldError(TypeTaskFilters, fmt.Sprintf("statusId[%d]", i), "must not be empty")
		}
	}
	return nil
}

// Task is a single task snapshot.
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority,omitempty" jsonschema:"enum=low,enum=medium,enum=high,enum=urgent"`
}

func (t *Task) Validate() error {
	return t.validateAs(TypeTask, "")
}

func (t *Task) validateAs(typ Type, prefix string) error {
	if strings.TrimSpace(t.ID) == "" {
		return fieldError(typ, prefix+"id", "is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fieldError(typ, prefix+"title", "is required")
	}
	switch t.Priority {
	case "", PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
	default:
		return fieldError(typ, prefix+"priority", fmt.Sprintf("unknown value %q", t.Priority))
	}
	return nil
}

// TasksList is an ordered list of tasks.
type TasksList struct {
	Tasks []Task `json:"tasks"`
}

func (l *TasksList) Validate() error {
	if l.Tasks == nil {
		return fieldError(TypeTasksList, "tasks", "is required")
	}
	for i := range l.Tasks {
		if err := l.Tasks[i].validateAs(TypeTasksList, fmt.Sprintf("tasks[%d].", i)); err != nil {
			return err
		}
	}
	return nil
}

// Project is a single project snapshot.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (p *Project) Validate() error {
	return p.validateAs(TypeProject, "")
}

func (p *Project) validateAs(typ Type, prefix string) error {
	if strings.TrimSpace(p.ID) == "" {
		return fieldError(typ, prefix+"id", "is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fieldError(typ, prefix+"name", "is required")
	}
	return nil
}

// ProjectsList is an ordered list of projects.
type ProjectsList struct {
	Projects []Project `json:"projects"`
}

func (l *ProjectsList) Validate() error {
	if l.Projects == nil {
		return fieldError(TypeProjectsList, "projects", "is required")
	}
	for i := range l.Projects {
		if err := l.Projects[i].validateAs(TypeProjectsList, fmt.Sprintf("projects[%d].", i)); err != nil {
			return err
		}
	}
	return nil
}

// PlanStep is one step of a Plan.
type PlanStep struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Done        bool   `json:"done,omitempty"`
}

// Plan is an ordered set of steps produced by the planning agent.
type Plan struct {
	Title string     `json:"title"`
	Steps []PlanStep `json:"steps"`
}

func (p *Plan) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fieldError(TypePlan, "title", "is required")
	}
	if len(p.Steps) == 0 {
		return fieldError(TypePlan, "steps", "must contain at least one step")
	}
	for i, s := range p.Steps {
		if strings.TrimSpace(s.Title) == "" {
			return fieldError(TypePlan, fmt.Sprintf("steps[%d].title", i), "is required")
		}
	}
	return nil
}
