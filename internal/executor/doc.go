// Package executor drives one agent through the generation rounds of a turn.
//
// # Rounds
//
// Each round asks the Generator for a sequence of Steps:
//
//   - delta: assistant text, appended as a TextDelta
//   - tool_call: a request to run a tool; the ToolInvoker result is fed back
//     to the model in the next round and its artifacts are validated
//     through the artifact codec and appended as ArtifactUpdates
//   - final: the agent is done with the turn
//
// A round that yields neither a final step nor tool calls is followed by
// another round. After MaxRounds rounds without a final step the run stops
// and reports Result.Truncated.
//
// # Failures
//
// A generation error ends the run with ErrGenerationFailure. Tool errors and
// invalid artifacts are not fatal: the former go back to the model as error
// results, the latter become Error{ArtifactValidation} events while the
// stream continues.
//
// # Tracing
//
// Run, every round, and every tool call open OpenTelemetry spans on the
// package tracer.
package executor
