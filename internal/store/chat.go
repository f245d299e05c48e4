package store

import (
	"context"

	"github.com/google/uuid"

	database "github.com/Armour007/grc-assistant/internal"
)

const (
	sessionColumns = `id, user_id, title, created_at, updated_at`
	messageColumns = `id, session_id, content, role, timestamp`
)

// CreateSession inserts a session with a caller-chosen id. Reusing an id
// yields ErrConflict.
func (s *Store) CreateSession(ctx context.Context, id, userID uuid.UUID, title string) (database.ChatSession, error) {
	var out database.ChatSession
	err := s.db.GetContext(ctx, &out,
		`INSERT INTO chat_sessions (id, user_id, title) VALUES ($1, $2, $3) RETURNING `+sessionColumns,
		id, userID, title)
	return out, handleError(err)
}

// GetSession returns the session only when it belongs to userID.
func (s *Store) GetSession(ctx context.Context, id, userID uuid.UUID) (database.ChatSession, error) {
	var out database.ChatSession
	err := s.db.GetContext(ctx, &out,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1 AND user_id = $2`, id, userID)
	return out, handleError(err)
}

// TouchSession bumps updated_at so the session sorts first.
func (s *Store) TouchSession(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return handleError(err)
	}
	return requireAffected(res)
}

func (s *Store) ListSessions(ctx context.Context, userID uuid.UUID) ([]database.ChatSession, error) {
	out := []database.ChatSession{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	return out, handleError(err)
}

// DeleteSession removes the session and, by cascade, its messages.
func (s *Store) DeleteSession(ctx context.Context, id, userID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return handleError(err)
	}
	return requireAffected(res)
}

func (s *Store) AddMessage(ctx context.Context, sessionID uuid.UUID, role, content string) (database.ChatMessage, error) {
	var out database.ChatMessage
	err := s.db.GetContext(ctx, &out,
		`INSERT INTO chat_messages (session_id, role, content) VALUES ($1, $2, $3) RETURNING `+messageColumns,
		sessionID, role, content)
	return out, handleError(err)
}

func (s *Store) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]database.ChatMessage, error) {
	out := []database.ChatMessage{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+messageColumns+` FROM chat_messages WHERE session_id = $1 ORDER BY timestamp ASC`, sessionID)
	return out, handleError(err)
}
