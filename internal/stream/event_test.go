// ABOUTME: Tests for stream event encoding.
// ABOUTME: Verifies the kind-tagged envelope decodes back into the same payload types.

package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimrai-org/mimrai-sub005/internal/agent"
	"github.com/mimrai-org/mimrai-sub005/internal/artifact"
)

func TestEvent_JSONEnvelope(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	events := []Event{
		{Seq: 0, Time: ts, Payload: StatusUpdate{Phase: agent.PhaseRouting, Agent: agent.KindTriage}},
		{Seq: 1, Time: ts, Payload: TextDelta{Text: "hello"}},
		{Seq: 2, Time: ts, Payload: ArtifactUpdate{
			ArtifactType: artifact.TypeTask,
			ArtifactID:   "t1",
			Version:      1,
			Payload:      json.RawMessage(`{"id":"t1","title":"x"}`),
		}},
		{Seq: 3, Time: ts, Payload: ErrorEvent{Kind: ErrorTruncated, Message: "round limit"}},
		{Seq: 4, Time: ts, Payload: End{}},
	}

	for _, ev := range events {
		t.Run(string(ev.Kind()), func(t *testing.T) {
			data, err := json.Marshal(ev)
			require.NoError(t, err)

			var env map[string]any
			require.NoError(t, json.Unmarshal(data, &env))
			assert.Equal(t, string(ev.Kind()), env["kind"])

			var decoded Event
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, ev.Seq, decoded.Seq)
			assert.Equal(t, ev.Payload, decoded.Payload)
			assert.True(t, ev.Time.Equal(decoded.Time))
		})
	}
}

func TestEvent_UnknownKind(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"seq":0,"kind":"telemetry","data":{}}`), &ev)
	assert.Error(t, err)
}

func TestEvent_MarshalWithoutPayload(t *testing.T) {
	_, err := json.Marshal(Event{Seq: 1})
	assert.Error(t, err)
}
