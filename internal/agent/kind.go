// ABOUTME: Agent kinds, turn phases, and the status pair reported on the stream.
// ABOUTME: Shared vocabulary for the router, executor, and stream event types.

package agent

import "fmt"

// Kind identifies one specialized agent.
type Kind string

const (
	KindTriage   Kind = "triage"
	KindPlanning Kind = "planning"
	KindTasks    Kind = "tasks"
	KindProjects Kind = "projects"
)

// Routable returns the capability set triage may select from, in tie-break order.
func Routable() []Kind {
	return []Kind{KindPlanning, KindTasks, KindProjects}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTriage, KindPlanning, KindTasks, KindProjects:
		return true
	}
	return false
}

// IsRoutable reports whether k may be the target of a routing decision.
func (k Kind) IsRoutable() bool {
	return k.Valid() && k != KindTriage
}

// ParseKind converts a config or wire value into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown agent kind %q", s)
	}
	return k, nil
}

// Phase is the stage of a turn.
type Phase string

const (
	PhaseRouting    Phase = "routing"
	PhaseExecuting  Phase = "executing"
	PhaseCompleting Phase = "completing"
)

func (p Phase) rank() int {
	switch p {
	case PhaseRouting:
		return 1
	case PhaseExecuting:
		return 2
	case PhaseCompleting:
		return 3
	default:
		return 0
	}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p.rank() > 0
}

// Advances reports whether moving from p to next is a forward transition.
// The zero phase advances to any valid phase.
func (p Phase) Advances(next Phase) bool {
	return next.rank() > p.rank()
}

// Status is the current (phase, agent) pair of a turn.
type Status struct {
	Phase Phase `json:"phase"`
	Agent Kind  `json:"agent"`
}

func (s Status) String() string {
	return string(s.Phase) + "/" + string(s.Agent)
}
