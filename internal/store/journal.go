// ABOUTME: Stream journal persistence for SQLiteStore
// ABOUTME: Stores buffer events by stream key and seq so sealed streams can be rehydrated

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mimrai-org/mimrai-sub005/internal/stream"
)

// AppendStreamEvent journals one stream event.
func (s *SQLiteStore) AppendStreamEvent(ctx context.Context, key string, event stream.Event) error {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event.Kind(), err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stream_events (stream_key, seq, kind, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, key, event.Seq, string(event.Kind()), string(data), formatTime(event.Time))
	if err != nil {
		return fmt.Errorf("inserting stream event: %w", err)
	}
	return nil
}

// LoadStream returns the journaled events of key in seq order.
// An unknown key yields no events and no error.
func (s *SQLiteStore) LoadStream(ctx context.Context, key string) ([]stream.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, data, created_at
		FROM stream_events
		WHERE stream_key = ?
		ORDER BY seq ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("querying stream events: %w", err)
	}
	defer rows.Close()

	var events []stream.Event
	for rows.Next() {
		var (
			seq          uint64
			kind, data   string
			createdAtStr string
		)
		if err := rows.Scan(&seq, &kind, &data, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning stream event row: %w", err)
		}

		payload, err := stream.DecodePayload(stream.Kind(kind), json.RawMessage(data))
		if err != nil {
			return nil, fmt.Errorf("stream %s seq %d: %w", key, seq, err)
		}
		createdAt, err := parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing stream event created_at: %w", err)
		}

		events = append(events, stream.Event{Seq: seq, Time: createdAt, Payload: payload})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stream event rows: %w", err)
	}
	return events, nil
}

// DeleteStream removes every journaled event of key.
func (s *SQLiteStore) DeleteStream(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM stream_events WHERE stream_key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting stream events: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		s.logger.Debug("deleted journaled stream", "stream_key", key, "events", n)
	}
	return nil
}
