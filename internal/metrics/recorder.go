// ABOUTME: Recorder interface for gateway metrics and its no-op implementation.
// ABOUTME: Sessions, streams, routing, and tools report through this interface.

package metrics

import "time"

// Session lifecycle events.
const (
	SessionOpened  = "opened"
	SessionSealed  = "sealed"
	SessionExpired = "expired"
	SessionAborted = "aborted"
)

// Recorder defines the metrics the gateway reports.
type Recorder interface {
	// SessionEvent counts a session lifecycle transition.
	SessionEvent(event string)

	// ConsumerAttached and ConsumerDetached track live stream readers.
	ConsumerAttached()
	ConsumerDetached()

	// EventAppended counts an event written to a stream buffer.
	EventAppended(kind string)

	// RoutingDecision counts the agent selected for a turn.
	RoutingDecision(agent string, fallback bool)

	// ObserveRounds records how many generation rounds a turn used.
	ObserveRounds(rounds int)

	// ObserveTool records a tool invocation.
	ObserveTool(tool string, success bool, duration time.Duration)
}

// NoopRecorder implements Recorder and discards everything.
type NoopRecorder struct{}

// Nop returns a recorder that discards all metrics.
func Nop() Recorder {
	return NoopRecorder{}
}

func (NoopRecorder) SessionEvent(string) {}
func (NoopRecorder) ConsumerAttached() {}
func (NoopRecorder) ConsumerDetached() {}
func (NoopRecorder) EventAppended(string) {}
func (NoopRecorder) RoutingDecision(string, bool) {}
func (NoopRecorder) ObserveRounds(int) {}
func (NoopRecorder) ObserveTool(string, bool, time.Duration) {}
