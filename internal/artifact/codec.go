// ABOUTME: Artifact codec: named versioned schemas, validation, and canonical encoding.
// ABOUTME: Rejects unknown types, unknown fields, and payloads failing their schema.

package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
)

// ErrValidation is wrapped by every schema failure.
var ErrValidation = errors.New("artifact validation failed")

// ErrUnknownType indicates no schema is registered for an artifact type.
var ErrUnknownType = errors.New("unknown artifact type")

// Type is the stable tag identifying an artifact shape on the wire.
type Type string

const (
	TypeTaskFilters  Type = "task-filters"
	TypeTask         Type = "task"
	TypeTasksList    Type = "tasks-list"
	TypeProject      Type = "project"
	TypeProjectsList Type = "projects-list"
	TypePlan         Type = "plan"
)

// Payload is implemented by every artifact shape.
type Payload interface {
	Validate() error
}

// Schema binds a type tag to its payload shape.
type Schema struct {
	Type        Type
	Version     int
	Description string

	// New returns a pointer to an empty payload of this shape.
	New func() Payload
}

// SchemaError describes why a payload was rejected.
type SchemaError struct {
	Type   Type
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("artifact %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("artifact %s: %s %s", e.Type, e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error {
	return ErrValidation
}

func fieldError(typ Type, field, reason string) *SchemaError {
	return &SchemaError{Type: typ, Field: field, Reason: reason}
}

// DefaultSchemas returns the version 1 schemas of the built-in types.
func DefaultSchemas() []Schema {
	return []Schema{
		{Type: TypeTaskFilters, Version: 1, Description: "Active task filter set",
			New: func() Payload { return &TaskFilters{} }},
		{Type: TypeTask, Version: 1, Description: "A single task",
			New: func() Payload { return &Task{} }},
		{Type: TypeTasksList, Version: 1, Description: "A list of tasks",
			New: func() Payload { return &TasksList{} }},
		{Type: TypeProject, Version: 1, Description: "A single project",
			New: func() Payload { return &Project{} }},
		{Type: TypeProjectsList, Version: 1, Description: "A list of projects",
			New: func() Payload { return &ProjectsList{} }},
		{Type: TypePlan, Version: 1, Description: "An ordered plan",
			New: func() Payload { return &Plan{} }},
	}
}

// Codec validates and canonicalizes artifact payloads.
type Codec struct {
	mu      sync.RWMutex
	schemas map[Type]Schema
}

// NewCodec creates a Codec with DefaultSchemas registered.
func NewCodec() *Codec {
	c := &Codec{schemas: make(map[Type]Schema)}
	for _, s := range DefaultSchemas() {
		c.schemas[s.Type] = s
	}
	return c
}

// Register adds or replaces the schema for s.Type.
func (c *Codec) Register(s Schema) error {
	if s.Type == "" || s.New == nil {
		return errors.New("schema requires a type and a constructor")
	}
	if s.Version < 1 {
		return fmt.Errorf("schema %s: version must be positive", s.Type)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas[s.Type] = s
	return nil
}

// Schema returns the schema registered for t.
func (c *Codec) Schema(t Type) (Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[t]
	return s, ok
}

// Types returns all registered type tags, sorted.
func (c *Codec) Types() []Type {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := make([]Type, 0, len(c.schemas))
	for t := range c.schemas {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Decode parses raw into the payload shape of t and validates it.
func (c *Codec) Decode(t Type, raw json.RawMessage) (Payload, error) {
	s, ok := c.Schema(t)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &SchemaError{Type: t, Reason: "payload is empty"}
	}

	p := s.New()
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, &SchemaError{Type: t, Reason: err.Error()}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, &SchemaError{Type: t, Reason: "trailing data after payload"}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks raw against the schema of t and returns its canonical encoding.
func (c *Codec) Validate(t Type, raw json.RawMessage) (json.RawMessage, error) {
	p, err := c.Decode(t, raw)
	if err != nil {
		return nil, err
	}
	return marshal(t, p)
}

// Encode validates a typed payload against t and returns its canonical encoding.
func (c *Codec) Encode(t Type, p Payload) (json.RawMessage, error) {
	s, ok := c.Schema(t)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if p == nil {
		return nil, &SchemaError{Type: t, Reason: "payload is empty"}
	}
	if want, got := reflect.TypeOf(s.New()), reflect.TypeOf(p); want != got {
		return nil, &SchemaError{Type: t, Reason: fmt.Sprintf("payload is %s, want %s", got, want)}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return marshal(t, p)
}

func marshal(t Type, p Payload) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, &SchemaError{Type: t, Reason: err.Error()}
	}
	return data, nil
}

// JSONSchema reflects the payload shape of t into a JSON Schema document.
func (c *Codec) JSONSchema(t Type) (*jsonschema.Schema, error) {
	s, ok := c.Schema(t)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	reflector := jsonschema.Reflector{DoNotReference: true}
	doc := reflector.ReflectFromType(reflect.TypeOf(s.New()).Elem())
	doc.Title = fmt.Sprintf("%s@v%d", s.Type, s.Version)
	doc.Description = s.Description
	return doc, nil
}
