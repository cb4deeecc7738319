// ABOUTME: HTTP API handlers for starting, resuming, and aborting chat turns.
// ABOUTME: Streams turn events as SSE and serves history and artifact schemas.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mimrai-org/mimrai-sub005/internal/artifact"
	"github.com/mimrai-org/mimrai-sub005/internal/auth"
	"github.com/mimrai-org/mimrai-sub005/internal/conversation"
	"github.com/mimrai-org/mimrai-sub005/internal/session"
	"github.com/mimrai-org/mimrai-sub005/internal/store"
)

// HistoryTurnResponse is one turn in GET /api/chat/{id}/history.
type HistoryTurnResponse struct {
	ID        string          `json:"id"`
	MessageID string          `json:"messageId,omitempty"`
	Role      string          `json:"role"`
	Agent     string          `json:"agent,omitempty"`
	Content   string          `json:"content"`
	Artifacts json.RawMessage `json:"artifacts,omitempty"`
	CreatedAt string          `json:"createdAt"`
}

// HistoryResponse is the JSON response for GET /api/chat/{id}/history.
type HistoryResponse struct {
	ConversationID string                `json:"conversationId"`
	Turns          []HistoryTurnResponse `json:"turns"`
}

// requestKey builds the session key of the conversation in the path.
func requestKey(r *http.Request) (session.Key, bool) {
	convID := r.PathValue("conversationId")
	if !validConversationID(convID) {
		return session.Key{}, false
	}
	return session.Key{Scope: auth.MustFromContext(r.Context()).Scope, ConversationID: convID}, true
}

// handleChat handles POST /api/chat. It starts a turn, or joins the running
// one, and streams the conversation's events from the start or from
// Last-Event-ID.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	in, err := parseChatRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	offset, err := resumeOffset("", r.Header.Get("Last-Event-ID"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Check streaming support before starting the turn (fail fast)
	if _, ok := w.(http.Flusher); !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	key := session.Key{Scope: auth.MustFromContext(r.Context()).Scope, ConversationID: in.ConversationID}
	turn, err := g.conversation.Start(r.Context(), conversation.TurnRequest{
		Key:       key,
		MessageID: in.MessageID,
		Message:   in.Text,
		Client:    in.Client,
	})
	if err != nil {
		g.sendStartError(w, err, key)
		return
	}

	consumer, err := g.sessions.Attach(r.Context(), key, offset)
	if err != nil {
		g.sendSessionError(w, err, key)
		return
	}

	w.Header().Set("X-Message-Id", turn.MessageID)
	if turn.Resumed {
		w.Header().Set("X-Turn-Resumed", "true")
	}
	g.streamEvents(r.Context(), w, consumer)
}

// handleResume handles GET /api/chat/{conversationId}/stream?after=<seq>.
func (g *Gateway) handleResume(w http.ResponseWriter, r *http.Request) {
	key, ok := requestKey(r)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, ErrInvalidConversationID.Error())
		return
	}

	offset, err := resumeOffset(r.URL.Query().Get("after"), r.Header.Get("Last-Event-ID"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	consumer, err := g.sessions.Attach(r.Context(), key, offset)
	if err != nil {
		g.sendSessionError(w, err, key)
		return
	}
	g.streamEvents(r.Context(), w, consumer)
}

// handleAbort handles DELETE /api/chat/{conversationId}/stream.
func (g *Gateway) handleAbort(w http.ResponseWriter, r *http.Request) {
	key, ok := requestKey(r)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, ErrInvalidConversationID.Error())
		return
	}

	if err := g.conversation.Abort(key); err != nil {
		g.sendSessionError(w, err, key)
		return
	}

	g.logger.Info("turn aborted by client", "conversation_id", key.ConversationID)
	w.WriteHeader(http.StatusNoContent)
}

// handleHistory handles GET /api/chat/{conversationId}/history?limit=N.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := requestKey(r)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, ErrInvalidConversationID.Error())
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	turns, err := g.conversation.History(r.Context(), key, limit)
	if err != nil {
		g.logger.Error("failed to load history", "conversation_id", key.ConversationID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := HistoryResponse{
		ConversationID: key.ConversationID,
		Turns:          make([]HistoryTurnResponse, 0, len(turns)),
	}
	for _, t := range turns {
		resp.Turns = append(resp.Turns, historyTurnResponse(t))
	}
	g.writeJSON(w, http.StatusOK, resp)
}

func historyTurnResponse(t *store.Turn) HistoryTurnResponse {
	return HistoryTurnResponse{
		ID:        t.ID,
		MessageID: t.MessageID,
		Role:      t.Role,
		Agent:     t.Agent,
		Content:   t.Content,
		Artifacts: t.Artifacts,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleArtifactSchema handles GET /api/artifacts/{type}/schema.
func (g *Gateway) handleArtifactSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := g.codec.JSONSchema(artifact.Type(r.PathValue("type")))
	if errors.Is(err, artifact.ErrUnknownType) {
		g.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		g.logger.Error("failed to build artifact schema", "type", r.PathValue("type"), "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(schema)
}

// sendStartError maps conversation.Start failures to status codes.
func (g *Gateway) sendStartError(w http.ResponseWriter, err error, key session.Key) {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage), errors.Is(err, session.ErrInvalidKey):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrDuplicateMessage):
		g.sendJSONError(w, http.StatusConflict, "message already processed")
	case errors.Is(err, session.ErrManagerClosed):
		g.sendJSONError(w, http.StatusServiceUnavailable, "gateway shutting down")
	default:
		g.logger.Error("failed to start turn", "conversation_id", key.ConversationID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// sendSessionError maps session manager failures to status codes.
func (g *Gateway) sendSessionError(w http.ResponseWriter, err error, key session.Key) {
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		g.sendJSONError(w, http.StatusNotFound, "no stream for conversation")
	case errors.Is(err, session.ErrNotRunning):
		g.sendJSONError(w, http.StatusConflict, "turn is not running")
	case errors.Is(err, session.ErrManagerClosed):
		g.sendJSONError(w, http.StatusServiceUnavailable, "gateway shutting down")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing to write.
	default:
		g.logger.Error("session operation failed", "conversation_id", key.ConversationID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes v as a JSON response.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
