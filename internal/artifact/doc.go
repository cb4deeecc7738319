// Package artifact defines the typed structured payloads that travel on a
// conversation stream next to free text.
//
// # Overview
//
// Every artifact type has a stable tag (for example "tasks-list") and a named,
// versioned Schema. The Codec validates raw payloads against the schema before
// they are allowed onto the wire and returns a canonical encoding, so a payload
// that passed validation is byte-identical after a decode/encode round trip.
//
// # Built-in types
//
//   - task-filters: {search?, assigneeId[]?, statusId[]?}
//   - task: {id, title, description?, priority?}
//   - tasks-list: {tasks: task[]}
//   - project: {id, name, description?}
//   - projects-list: {projects: project[]}
//   - plan: {title, steps: [{title, description?, done?}]}
//
// # Validation failures
//
// Validate returns a *SchemaError wrapping ErrValidation. Callers on the
// streaming path drop the offending update and report it in-band; a schema
// failure never aborts a stream.
//
// # JSON Schema
//
// Codec.JSONSchema exports the schema of a type as a JSON Schema document so
// clients can generate matching renderers.
package artifact
