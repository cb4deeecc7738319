// Package conversation runs chat turns on top of the session, routing, and
// execution layers.
//
// # Overview
//
// The conversation package sits between the HTTP gateway and the core. A turn
// request opens (or joins) the conversation's stream and returns at once; the
// turn itself runs in a producer goroutine that outlives the request.
//
// # Service
//
//	svc := conversation.New(conversation.Config{
//		Sessions: sessions,
//		Router:   router,
//		Agents:   agents,
//		Executor: exec,
//		History:  store,
//	})
//
// Key operations:
//
//   - Start(ctx, req): Record the message and start a turn, or join the running one
//   - Abort(key): Stop the running turn with a Cancelled error
//   - History(ctx, key, limit): Stored turns, oldest first
//   - Wait(): Block until background turns finish
//
// # Turn Pipeline
//
//  1. Claim the message id (re-posts join the stream they started, as long
//     as no newer turn has replaced it)
//  2. Load history, then record the user message
//  3. Replace the previous stream and take the producer
//  4. routing: classify the message against the agents
//  5. executing: run the selected agent
//  6. completing: write End (or Truncated + End)
//  7. Save the assistant reply with its final artifacts
//
// Record first, then act: the user message is saved before generation, so a
// failed turn still leaves it in history. Steps 2 and 3 run under the
// session manager's admission, so a request rejected while recording (for
// example a duplicate message id) leaves the previous stream resumable.
//
// # Failure Handling
//
// Every path ends the stream with exactly one End. Generation errors and
// panics become a GenerationFailure error; an abort has already written its
// Cancelled error and End, so the pipeline only stops.
package conversation
