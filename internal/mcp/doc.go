// Package mcp exposes the workspace tools to external agents over the Model
// Context Protocol.
//
// # Overview
//
// The chat pipeline restricts each sub-agent to its own tool list. MCP
// clients (editors, desktop assistants, other agents) get the whole
// registry instead, always on behalf of the scope that authenticated the
// request.
//
// # Protocol
//
// JSON-RPC 2.0 over the Streamable HTTP transport, on a single endpoint
// (default /mcp):
//
//   - POST: initialize, ping, tools/list, tools/call, and notifications
//   - DELETE: terminate the session named by Mcp-Session-Id
//
// Server-initiated SSE streams are not offered; every tool call answers
// inline.
//
// # Sessions
//
// initialize returns an Mcp-Session-Id header that every later request must
// carry. A session belongs to the scope that created it: requests from any
// other scope get 403, and idle sessions expire after Config.SessionTTL.
//
// # Tool Results
//
// A tools/call result carries the tool output as its first text block and
// one further text block per artifact:
//
//	{"type": "task", "id": "t1", "payload": {...}}
//
// Object outputs are mirrored in structuredContent. Failures raised by the
// tool itself come back as isError results; unknown tools and malformed
// params are JSON-RPC errors.
package mcp
