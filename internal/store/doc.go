// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// Two narrow interfaces make up the Store:
//
//   - HistoryStore: conversation turns, used for history replay and as
//     routing and generation context
//   - StreamJournal: a per-event mirror of stream buffers, used to
//     rehydrate sealed streams after a restart
//
// SQLiteStore implements both in a single struct.
//
// # Data Models
//
//   - Turn: a user or assistant message; assistant turns carry the agent
//     that answered and the final artifact states
//   - stream_events rows: (stream_key, seq, kind, data, created_at), where
//     data is the JSON payload of a stream.Event
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Database file locations:
//
//   - Production: /var/lib/mimrai/gateway.db
//   - Development: ~/.local/share/mimrai/gateway.db
//
// # Error Handling
//
//   - ErrDuplicateMessage: A user message id was already recorded
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	store := store.NewMockStore()
//	// store implements Store
//
// Use NewSQLiteStore with a path under t.TempDir() for integration tests.
package store
