// ABOUTME: Store interface and data types for gateway persistence
// ABOUTME: Defines conversation turns and the stream journal operations

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mimrai-org/mimrai-sub005/internal/stream"
)

// ErrDuplicateMessage is returned when a user message id was already recorded
// for the conversation
var ErrDuplicateMessage = errors.New("message already recorded")

// Role constants for conversation turns
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of a conversation, as shown in history and fed back to
// routing and generation as context.
type Turn struct {
	ID             string
	Scope          string
	ConversationID string
	MessageID      string // client-supplied id of a user message, empty for assistant turns
	Role           string // "user" or "assistant"
	Agent          string // agent that produced an assistant turn
	Content        string
	Artifacts      json.RawMessage // final artifact states of an assistant turn
	CreatedAt      time.Time
}

// HistoryStore persists conversation turns.
type HistoryStore interface {
	// AppendHistory records a turn. Returns ErrDuplicateMessage when a user
	// turn with the same MessageID already exists in the conversation.
	AppendHistory(ctx context.Context, turn *Turn) error

	// LoadHistory returns the most recent limit turns, oldest first.
	// A limit of 0 or less returns every turn.
	LoadHistory(ctx context.Context, scope, conversationID string, limit int) ([]*Turn, error)
}

// StreamJournal mirrors stream buffers so sealed streams survive a restart.
type StreamJournal interface {
	AppendStreamEvent(ctx context.Context, key string, event stream.Event) error
	LoadStream(ctx context.Context, key string) ([]stream.Event, error)
	DeleteStream(ctx context.Context, key string) error
}

// Store is the full persistence surface of the gateway.
type Store interface {
	HistoryStore
	StreamJournal

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error
	Close() error
}
