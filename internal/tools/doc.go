// Package tools registers the tools agents may call and routes calls to them.
//
// # Architecture
//
//   - Registry: tools grouped into packs, looked up by name
//   - Router: implements executor.ToolInvoker, enforcing the calling agent's
//     tool list and a per-call timeout
//   - WorkspacePack: task, project and plan tools over a Catalog
//
// Tool input schemas are generated from Go input structs with
// invopop/jsonschema so the model sees the same shape the handler decodes.
//
// # Errors
//
//   - ErrToolNotFound: no tool has that name
//   - ErrToolNotAllowed: the agent does not list the tool
//   - ErrToolCollision: a pack reuses a registered tool name
//   - ErrToolTimeout: the handler exceeded its timeout
package tools
