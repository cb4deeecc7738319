// Package generation adapts language-model backends to executor.Generator.
//
// # Overview
//
// A generator produces the steps of one executor round: text deltas, tool
// calls, and a final marker when the agent is done. The executor feeds the
// tool outcomes of earlier rounds back through PromptContext.Rounds.
//
// # Generators
//
//   - Anthropic: streams Messages API responses through anthropic-sdk-go.
//     Text deltas are yielded as they arrive; tool_use blocks are yielded
//     after the message completes. A response without tool calls is final.
//   - Echo: a deterministic offline generator. It calls the agent's primary
//     tool once and then summarizes the outcome. Used for development and
//     tests where no model is available.
//
// # Transcript
//
// The prompt is rendered as alternating user and assistant messages.
// Consecutive history turns with the same role are merged and leading
// assistant turns are dropped, since the API requires the first message to
// come from the user.
//
// # Configuration
//
// New selects a generator from config.GenerationConfig-style settings:
//
//	gen, err := generation.New(generation.Settings{Provider: "anthropic", APIKey: key}, logger)
package generation
