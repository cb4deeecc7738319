// Package stream implements the resumable delivery channel of a conversation turn.
//
// # Overview
//
// A Buffer is an append-only, offset-addressed log of Events. Exactly one
// producer appends, through a Lease obtained from Acquire; any number of
// Cursors read it concurrently, each at its own offset. Readers only take a
// read lock, so a slow or absent reader never holds up the producer.
//
// # Events
//
// Event payloads form a closed set:
//
//   - TextDelta: a chunk of assistant text
//   - ArtifactUpdate: a validated snapshot of a typed artifact
//   - StatusUpdate: the current (phase, agent) pair
//   - ErrorEvent: an in-band failure (ArtifactValidation, Truncated,
//     GenerationFailure, Cancelled)
//   - End: the terminal event, exactly once and always last
//
// Sequence numbers start at 0 and equal the index of the event, so the offset
// of a cursor is the seq of the next event it will deliver. A client that has
// seen seq N resumes with ReadFrom(N+1).
//
// # Lifecycle
//
//	buf := stream.NewBuffer(key, stream.WithJournal(store))
//	lease, _ := buf.Acquire()
//	buf.Append(lease, stream.TextDelta{Text: "hi"})
//	buf.Append(lease, stream.End{})   // seals
//
// Seal is idempotent and appends End when the producer never did.
// AppendTerminal is the forced-stop path used on abort.
//
// # Durability
//
// The buffer lives as long as its session, independent of any client
// connection. An optional Journal mirrors events to storage so a sealed stream
// can be rebuilt with Restore after a restart.
package stream
