// Package metrics records gateway activity as Prometheus metrics.
//
// # Recorder
//
// Components depend on the Recorder interface. PrometheusRecorder backs it
// with a dedicated registry exposed through Handler; Nop discards
// everything and is the default when metrics are disabled.
//
// # Metrics
//
//   - mimrai_sessions_total{event}: opened, sealed, expired, aborted
//   - mimrai_consumers_active: attached stream consumers
//   - mimrai_stream_events_total{kind}: appended events by kind
//   - mimrai_routing_decisions_total{agent,fallback}
//   - mimrai_executor_rounds: rounds per turn
//   - mimrai_tool_invocations_total{tool,status}
//   - mimrai_tool_duration_seconds{tool}
package metrics
