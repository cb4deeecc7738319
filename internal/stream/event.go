// ABOUTME: Stream event types: a closed union of text, artifact, status, error and end.
// ABOUTME: Events carry a per-buffer sequence number and encode to a kind-tagged JSON envelope.

package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mimrai-org/mimrai-sub005/internal/agent"
	"github.com/mimrai-org/mimrai-sub005/internal/artifact"
)

// Kind is the wire tag of an event payload.
type Kind string

const (
	KindText     Kind = "text"
	KindArtifact Kind = "artifact"
	KindStatus   Kind = "status"
	KindError    Kind = "error"
	KindEnd      Kind = "end"
)

// ErrorKind classifies an in-band error event.
type ErrorKind string

const (
	ErrorArtifactValidation ErrorKind = "ArtifactValidation"
	ErrorTruncated          ErrorKind = "Truncated"
	ErrorGenerationFailure  ErrorKind = "GenerationFailure"
	ErrorCancelled          ErrorKind = "Cancelled"
)

// Payload is the body of an event. The set of implementations is closed.
type Payload interface {
	EventKind() Kind
	isPayload()
}

// TextDelta is an incremental chunk of assistant text.
type TextDelta struct {
	Text string `json:"text"`
}

// ArtifactUpdate is a validated snapshot of one artifact.
// Later updates with the same (ArtifactType, ArtifactID) replace earlier ones.
type ArtifactUpdate struct {
	ArtifactType artifact.Type   `json:"artifactType"`
	ArtifactID   string          `json:"artifactId"`
	Version      int             `json:"version"`
	Payload      json.RawMessage `json:"payload"`
}

// StatusUpdate reports the current phase and agent of the turn.
type StatusUpdate struct {
	Phase agent.Phase `json:"phase"`
	Agent agent.Kind  `json:"agent"`
}

// ErrorEvent reports a failure in-band.
type ErrorEvent struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// End terminates a stream. Exactly one End is present in a sealed buffer, always last.
type End struct{}

func (TextDelta) EventKind() Kind      { return KindText }
func (ArtifactUpdate) EventKind() Kind { return KindArtifact }
func (StatusUpdate) EventKind() Kind   { return KindStatus }
func (ErrorEvent) EventKind() Kind     { return KindError }
func (End) EventKind() Kind            { return KindEnd }

func (TextDelta) isPayload()      {}
func (ArtifactUpdate) isPayload() {}
func (StatusUpdate) isPayload()   {}
func (ErrorEvent) isPayload()     {}
func (End) isPayload()            {}

// Event is one entry of a stream buffer.
type Event struct {
	Seq     uint64
	Time    time.Time
	Payload Payload
}

// Kind returns the kind of the payload.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventKind()
}

// IsEnd reports whether e terminates the stream.
func (e Event) IsEnd() bool {
	return e.Kind() == KindEnd
}

type envelope struct {
	Seq  uint64          `json:"seq"`
	Kind Kind            `json:"kind"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes the event as {"seq","kind","time","data"}.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %d has no payload", e.Seq)
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(envelope{Seq: e.Seq, Kind: e.Kind(), Time: e.Time, Data: data})
}

// UnmarshalJSON decodes the envelope produced by MarshalJSON.
func (e *Event) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}

	p, err := DecodePayload(env.Kind, env.Data)
	if err != nil {
		return err
	}

	e.Seq = env.Seq
	e.Time = env.Time
	e.Payload = p
	return nil
}

// DecodePayload decodes the data of an event of the given kind.
func DecodePayload(kind Kind, data json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindText:
		var v TextDelta
		err = json.Unmarshal(data, &v)
		p = v
	case KindArtifact:
		var v ArtifactUpdate
		err = json.Unmarshal(data, &v)
		p = v
	case KindStatus:
		var v StatusUpdate
		err = json.Unmarshal(data, &v)
		p = v
	case KindError:
		var v ErrorEvent
		err = json.Unmarshal(data, &v)
		p = v
	case KindEnd:
		p = End{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", kind, err)
	}
	return p, nil
}
