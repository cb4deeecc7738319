// ABOUTME: Turn state machine: idle, routing, executing, completing.
// ABOUTME: Forward transitions append a StatusUpdate through the emitter.

package triage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mimrai-org/mimrai-sub005/internal/agent"
	"github.com/mimrai-org/mimrai-sub005/internal/stream"
)

// ErrInvalidTransition is returned for an out-of-order phase change.
var ErrInvalidTransition = errors.New("invalid turn transition")

// Emitter appends events to the turn's stream.
type Emitter interface {
	Append(payload stream.Payload) (uint64, error)
}

// Machine tracks the phase of one turn. The zero phase is idle.
type Machine struct {
	mu      sync.Mutex
	phase   agent.Phase
	current agent.Kind
	emit    Emitter
}

// NewMachine creates an idle machine writing status updates to emit.
func NewMachine(emit Emitter) *Machine {
	return &Machine{emit: emit}
}

// Status returns the current phase and agent. Idle has an empty phase.
func (m *Machine) Status() agent.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return agent.Status{Phase: m.phase, Agent: m.current}
}

// Idle reports whether no turn is in progress.
func (m *Machine) Idle() bool {
	return m.Status().Phase == ""
}

// Begin moves idle to routing with the triage agent.
func (m *Machine) Begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != "" {
		return m.invalid(agent.PhaseRouting)
	}
	return m.transition(agent.PhaseRouting, agent.KindTriage)
}

// Dispatch moves routing to executing with the selected agent.
func (m *Machine) Dispatch(kind agent.Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != agent.PhaseRouting {
		return m.invalid(agent.PhaseExecuting)
	}
	if !kind.IsRoutable() {
		return fmt.Errorf("%w: cannot execute %q", ErrInvalidTransition, kind)
	}
	return m.transition(agent.PhaseExecuting, kind)
}

// Complete moves executing to completing with the same agent.
func (m *Machine) Complete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != agent.PhaseExecuting {
		return m.invalid(agent.PhaseCompleting)
	}
	return m.transition(agent.PhaseCompleting, m.current)
}

// Finish returns to idle after End has been written. A turn that failed
// before completing also finishes here.
func (m *Machine) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == "" {
		return fmt.Errorf("%w: turn already idle", ErrInvalidTransition)
	}
	m.phase, m.current = "", ""
	return nil
}

func (m *Machine) transition(next agent.Phase, kind agent.Kind) error {
	if _, err := m.emit.Append(stream.StatusUpdate{Phase: next, Agent: kind}); err != nil {
		return fmt.Errorf("emitting %s status: %w", next, err)
	}
	m.phase, m.current = next, kind
	return nil
}

func (m *Machine) invalid(next agent.Phase) error {
	from := string(m.phase)
	if from == "" {
		from = "idle"
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, next)
}
