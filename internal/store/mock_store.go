// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sync"

	"github.com/mimrai-org/mimrai-sub005/internal/stream"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	turns   map[string][]*Turn        // keyed by "scope:conversationID"
	streams map[string][]stream.Event // keyed by stream key
	pingErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		turns:   make(map[string][]*Turn),
		streams: make(map[string][]stream.Event),
	}
}

func conversationKey(scope, conversationID string) string {
	return scope + ":" + conversationID
}

// AppendHistory stores a copy of the turn.
func (m *MockStore) AppendHistory(ctx context.Context, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := conversationKey(turn.Scope, turn.ConversationID)
	if turn.MessageID != "" {
		for _, existing := range m.turns[key] {
			if existing.MessageID == turn.MessageID {
				return ErrDuplicateMessage
			}
		}
	}

	// Make a copy to avoid external modification
	t := *turn
	m.turns[key] = append(m.turns[key], &t)
	return nil
}

// LoadHistory returns the most recent limit turns, oldest first.
func (m *MockStore) LoadHistory(ctx context.Context, scope, conversationID string, limit int) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.turns[conversationKey(scope, conversationID)]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}

	result := make([]*Turn, len(all))
	for i, t := range all {
		c := *t
		result[i] = &c
	}
	return result, nil
}

// AppendStreamEvent journals an event in memory.
func (m *MockStore) AppendStreamEvent(ctx context.Context, key string, event stream.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[key] = append(m.streams[key], event)
	return nil
}

// LoadStream returns a copy of the journaled events of key.
func (m *MockStore) LoadStream(ctx context.Context, key string) ([]stream.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]stream.Event(nil), m.streams[key]...), nil
}

// DeleteStream drops the journaled events of key.
func (m *MockStore) DeleteStream(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, key)
	return nil
}

// SetPingError makes Ping fail with err, for readiness tests.
func (m *MockStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// Ping returns the configured ping error.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
