// ABOUTME: MCP-compatible HTTP server exposing the workspace tools to external agents.
// ABOUTME: Implements the Streamable HTTP transport with scope-bound sessions.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/mimrai-org/mimrai-sub005/internal/auth"
	"github.com/mimrai-org/mimrai-sub005/internal/executor"
	"github.com/mimrai-org/mimrai-sub005/internal/tools"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-06-18": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// DefaultSessionTTL is how long an idle MCP session stays valid.
const DefaultSessionTTL = time.Hour

// JSON-RPC 2.0 envelopes. Ids stay raw so responses echo them unchanged.

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = mcpgo.PARSE_ERROR
	JSONRPCInvalidRequest = mcpgo.INVALID_REQUEST
	JSONRPCMethodNotFound = mcpgo.METHOD_NOT_FOUND
	JSONRPCInvalidParams  = mcpgo.INVALID_PARAMS
	JSONRPCInternalError  = mcpgo.INTERNAL_ERROR
)

// callToolParams are the params for tools/call. Arguments stay raw so they
// reach the tool handler exactly as sent.
type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// artifactContent is the text form of an artifact attached to a tool result.
type artifactContent struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// session tracks an active MCP client session.
type session struct {
	id              string
	protocolVersion string
	scope           string
	lastUsed        time.Time
}

// sessionStore manages active MCP sessions (in-memory).
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	now      func() time.Time
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *sessionStore) create(protocolVersion, scope string) *session {
	sess := &session{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		scope:           scope,
		lastUsed:        s.now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

// get returns a live session and refreshes its idle timer.
// Expired sessions are dropped on lookup.
func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if now.Sub(sess.lastUsed) > s.ttl {
		delete(s.sessions, id)
		return nil, false
	}
	sess.lastUsed = now
	return sess, true
}

func (s *sessionStore) delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Config holds configuration for the MCP server.
type Config struct {
	Tools      *tools.Registry
	Invoker    executor.ToolInvoker
	Logger     *slog.Logger
	SessionTTL time.Duration
	// ServerName and Version are reported by initialize.
	ServerName string
	Version    string
}

// Server implements MCP-compatible HTTP endpoints for external agents.
// Callers must run behind auth.HTTPAuthMiddleware; the identity scope
// binds each session and every tool call.
type Server struct {
	tools    *tools.Registry
	invoker  executor.ToolInvoker
	logger   *slog.Logger
	sessions *sessionStore
	name     string
	version  string
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Tools == nil {
		return nil, errors.New("tool registry is required")
	}
	if cfg.Invoker == nil {
		return nil, errors.New("tool invoker is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	name := cfg.ServerName
	if name == "" {
		name = "mimrai-gateway"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	return &Server{
		tools:    cfg.Tools,
		invoker:  cfg.Invoker,
		logger:   logger.With("component", "mcp"),
		sessions: newSessionStore(ttl),
		name:     name,
		version:  version,
	}, nil
}

// ServeHTTP is the single MCP endpoint supporting POST and DELETE.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		// Server-initiated SSE streams are not offered
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session. Only the scope that created it may do so.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if sess.scope != auth.MustFromContext(r.Context()).Scope {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.sessions.delete(sessionID)
	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())
	sessionID := r.Header.Get("Mcp-Session-Id")
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body")
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large")
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != mcpgo.JSONRPC_VERSION {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version")
		return
	}

	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	// The protocol version header is not required on initialize
	if !isInitialize && protoVersion != "" && !supportedProtocolVersions[protoVersion] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	if !isInitialize {
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		sess, ok := s.sessions.get(sessionID)
		if !ok {
			// Session expired or unknown; the client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		if sess.scope != identity.Scope {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", isNotification,
		"session_id", sessionID,
	)

	if isNotification {
		if !strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req, identity.Scope)
	case "ping":
		s.sendJSONRPCResult(w, req.ID, map[string]any{})
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolsCall(w, r, req, identity.Scope)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found")
	}
}

// handleInitialize handles the MCP initialize handshake and creates a session.
func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest, scope string) {
	sess := s.sessions.create(latestProtocolVersion, scope)

	s.logger.Info("MCP session created",
		"session_id", sess.id,
		"protocol_version", sess.protocolVersion,
		"scope", scope,
	)

	w.Header().Set("Mcp-Session-Id", sess.id)
	s.sendJSONRPCResult(w, req.ID, map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    s.name,
			"version": s.version,
		},
	})
}

// handleToolsList handles tools/list requests.
func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	specs := s.tools.Specs(s.tools.Names())

	result := mcpgo.ListToolsResult{Tools: make([]mcpgo.Tool, len(specs))}
	for i, spec := range specs {
		result.Tools[i] = mcpgo.NewToolWithRawSchema(spec.Name, spec.Description, spec.InputSchema)
	}

	s.logger.Debug("tools/list", "count", len(specs))
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsCall handles tools/call requests.
func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, scope string) {
	var params callToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params")
			return
		}
	}
	if params.Name == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required")
		return
	}

	input := params.Arguments
	if len(input) == 0 || string(input) == "null" {
		input = json.RawMessage("{}")
	}

	requestID := uuid.New().String()
	s.logger.Debug("tools/call", "tool_name", params.Name, "request_id", requestID)

	res, err := s.invoker.Invoke(r.Context(), executor.Invocation{
		Scope: scope,
		Call:  executor.ToolCall{ID: requestID, Name: params.Name, Input: input},
	})
	if err != nil {
		s.handleToolError(w, req.ID, params.Name, requestID, err)
		return
	}

	result := mcpgo.NewToolResultText(string(res.Output))
	if obj := structured(res.Output); obj != nil {
		result.StructuredContent = obj
	}
	for _, a := range res.Artifacts {
		data, err := json.Marshal(artifactContent{Type: string(a.Type), ID: a.ID, Payload: a.Payload})
		if err != nil {
			s.handleToolError(w, req.ID, params.Name, requestID, err)
			return
		}
		result.Content = append(result.Content, mcpgo.NewTextContent(string(data)))
	}

	s.logger.Debug("tools/call complete",
		"tool_name", params.Name,
		"request_id", requestID,
		"artifacts", len(res.Artifacts),
	)
	s.sendJSONRPCResult(w, req.ID, result)
}

// structured returns output when it is a JSON object, the only shape
// structuredContent may carry.
func structured(output json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(output))
	if strings.HasPrefix(trimmed, "{") && json.Valid(output) {
		return output
	}
	return nil
}

// handleToolError maps routing failures to protocol errors. Failures raised by
// the tool itself are reported as an error result the client can show.
func (s *Server) handleToolError(w http.ResponseWriter, id json.RawMessage, toolName, requestID string, err error) {
	s.logger.Warn("tool execution failed",
		"tool_name", toolName,
		"request_id", requestID,
		"error", err,
	)

	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		s.sendJSONRPCError(w, id, JSONRPCInvalidParams, "tool not found")
	case errors.Is(err, context.Canceled):
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "request cancelled")
	case errors.Is(err, tools.ErrToolTimeout):
		s.sendJSONRPCResult(w, id, mcpgo.NewToolResultError("tool execution timed out"))
	default:
		s.sendJSONRPCResult(w, id, mcpgo.NewToolResultError(err.Error()))
	}
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: mcpgo.JSONRPC_VERSION,
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: mcpgo.JSONRPC_VERSION,
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
