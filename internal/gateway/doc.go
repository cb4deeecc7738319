// Package gateway orchestrates the mimrai-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the server. It owns the
// store, the session manager, the conversation pipeline, and the HTTP server
// that exposes the chat API.
//
// # Gateway Struct
//
//	type Gateway struct {
//	    config       *config.Config
//	    store        store.Store
//	    sessions     *session.Manager
//	    conversation *conversation.Service
//	    codec        *artifact.Codec
//	    claims       *dedupe.Cache[*session.Session]
//	    httpServer   *http.Server
//	    // ... and more
//	}
//
// New builds every collaborator from config. Options replace the store,
// the generator, or the tool catalog, which tests use to run the full
// pipeline in memory.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /api/chat - Start or join a turn (SSE streaming response)
//   - GET /api/chat/{conversationId}/stream?after=<seq> - Resume a stream
//   - DELETE /api/chat/{conversationId}/stream - Abort the running turn
//   - GET /api/chat/{conversationId}/history - Stored turns
//   - GET /api/artifacts/{type}/schema - JSON Schema of an artifact type
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store ping)
//   - GET /metrics - Prometheus metrics, when enabled
//   - POST|DELETE /mcp - Workspace tools over MCP, when enabled (see package mcp)
//
// Chat and MCP endpoints run behind auth.HTTPAuthMiddleware, which supplies the
// scope half of every session key.
//
// The chat request body:
//
//	{
//	  "conversationId": "conv-1",
//	  "messageId": "optional client id",
//	  "message": "show my tasks" | {"parts": [{"type": "text", "text": "..."}]},
//	  "context": {"country": "...", "city": "...", "region": "...", "timezone": "..."}
//	}
//
// # SSE Streaming
//
// Every stream event becomes one frame whose id is the event seq:
//
//	id: 2
//	event: text
//	data: {"seq":2,"kind":"text","time":"...","data":{"text":"Hello"}}
//
// Event types: status, text, artifact, error, end. Comment frames
// (": heartbeat") keep idle connections open. A client that drops resumes
// with Last-Event-ID or ?after= and receives every later event exactly once.
// Disconnecting only detaches the reader; the turn keeps running.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Cancelling ctx shuts down gracefully: running turns are sealed with a
// Cancelled error, open streams drain, and the store is closed.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown
//   - api.go: HTTP handlers
//   - sse.go: SSE framing and heartbeats
//   - request.go: chat request parsing and resume offsets
package gateway
