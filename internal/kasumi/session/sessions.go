package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by LoadStack when the conversation has no stored
// session yet. Callers should treat it as "fresh conversation".
var ErrNotFound = errors.New("session: not found")

// LoadStack returns the serialized dialog stack snapshot for a conversation.
func (s *Store) LoadStack(ctx context.Context, conversationKey string) ([]byte, error) {
	var stack string
	err := s.db.QueryRowContext(ctx, `
		SELECT stack FROM sessions WHERE conversation_key = ?
	`, conversationKey).Scan(&stack)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: load stack for %q: %w", conversationKey, err)
	}
	return []byte(stack), nil
}

// SaveStack upserts the dialog stack snapshot for a conversation. Sessions
// are written once per turn, at turn end.
func (s *Store) SaveStack(ctx context.Context, conversationKey string, snapshot []byte) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (conversation_key, stack, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_key) DO UPDATE SET
			stack = excluded.stack,
			updated_at = excluded.updated_at
	`, conversationKey, string(snapshot), now, now)
	if err != nil {
		return fmt.Errorf("session: save stack for %q: %w", conversationKey, err)
	}
	return nil
}

// Delete removes a conversation's session entirely.
func (s *Store) Delete(ctx context.Context, conversationKey string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE conversation_key = ?
	`, conversationKey)
	if err != nil {
		return fmt.Errorf("session: delete %q: %w", conversationKey, err)
	}
	return nil
}
