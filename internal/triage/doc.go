// Package triage selects the agent that handles a conversation turn and
// tracks the turn's phase.
//
// # Routing
//
// Router.Route is a synchronous keyword classifier. Each registered agent
// scores one point per keyword found in the message and half a point per
// keyword found in each of the recent user turns. Confidence is the winning
// agent's share of the total score. When nothing matches, or confidence is
// below the configured threshold, the configured fallback agent (tasks by
// default) is chosen. Ties go to the earlier agent in capability order:
// planning, tasks, projects. Routing is a single hop; a decision is never
// revisited within the turn.
//
// # Turn state machine
//
//	idle ──Begin──▶ routing ──Dispatch──▶ executing ──Complete──▶ completing
//	  ▲                                                              │
//	  └──────────────────────────── Finish ◀─────────────────────────┘
//
// Begin, Dispatch and Complete each append a StatusUpdate. Finish returns
// to idle once End is written and appends nothing. Out-of-order calls
// return ErrInvalidTransition.
package triage
