// Package agent defines the sub-agents a conversation turn can be delegated to.
//
// # Overview
//
// The package is the shared vocabulary of the orchestration core. It names the
// agent kinds, the phases a turn passes through, and the definitions that
// describe what each specialized agent is capable of. It has no dependency on
// the stream or session layers so every other package can import it.
//
// # Kinds
//
//   - triage: the classification step itself, reported while routing
//   - planning: breaks goals into plans and steps
//   - tasks: task lookup and management (the catch-all capability)
//   - projects: project lookup and management
//
// # Phases
//
// A turn advances monotonically through routing, executing and completing.
// Phase.Advances reports whether a transition is forward-only.
//
// # Registry
//
// The Registry holds one Definition per routable kind:
//
//	reg := agent.NewRegistry(logger)
//	reg.Register(agent.Definition{Kind: agent.KindTasks, ...})
//
// Key operations:
//
//   - Register(def): Add a definition (ErrAgentAlreadyRegistered on duplicates)
//   - Unregister(kind): Remove a definition
//   - Get(kind): Look up a definition
//   - Capabilities(): Routable kinds in tie-break order
//
// DefaultDefinitions returns the built-in planning, tasks and projects agents.
package agent
