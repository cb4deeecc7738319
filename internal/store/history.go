// ABOUTME: Conversation history persistence for SQLiteStore
// ABOUTME: Appends user and assistant turns and loads the recent window in chronological order

package store

import (
	"context"
	"fmt"
	"slices"
)

// AppendHistory records a turn in its conversation.
func (s *SQLiteStore) AppendHistory(ctx context.Context, turn *Turn) error {
	query := `
		INSERT INTO turns (id, scope, conversation_id, message_id, role, agent, content, artifacts_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var artifacts any
	if len(turn.Artifacts) > 0 {
		artifacts = string(turn.Artifacts)
	}

	_, err := s.db.ExecContext(ctx, query,
		turn.ID,
		turn.Scope,
		turn.ConversationID,
		nullString(turn.MessageID),
		turn.Role,
		nullString(turn.Agent),
		turn.Content,
		artifacts,
		formatTime(turn.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) && turn.MessageID != "" {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("inserting turn: %w", err)
	}

	s.logger.Debug("saved turn",
		"id", turn.ID,
		"conversation_id", turn.ConversationID,
		"role", turn.Role)
	return nil
}

// LoadHistory retrieves the most recent limit turns of a conversation.
// Turns are returned in chronological order (oldest first).
// If limit is 0 or negative, all turns are returned.
func (s *SQLiteStore) LoadHistory(ctx context.Context, scope, conversationID string, limit int) ([]*Turn, error) {
	query := `
		SELECT id, scope, conversation_id, message_id, role, agent, content, artifacts_json, created_at
		FROM turns
		WHERE scope = ? AND conversation_id = ?
		ORDER BY created_at DESC, rowid DESC
	`
	args := []any{scope, conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var turn Turn
		var createdAtStr string
		var messageID, agent, artifacts *string

		if err := rows.Scan(&turn.ID, &turn.Scope, &turn.ConversationID, &messageID,
			&turn.Role, &agent, &turn.Content, &artifacts, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}

		turn.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing turn created_at: %w", err)
		}

		// Handle nullable fields
		if messageID != nil {
			turn.MessageID = *messageID
		}
		if agent != nil {
			turn.Agent = *agent
		}
		if artifacts != nil {
			turn.Artifacts = []byte(*artifacts)
		}

		turns = append(turns, &turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}

	slices.Reverse(turns)
	return turns, nil
}
