package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"knowledge_server/server/assistant/domain"
	"knowledge_server/server/common/apperr"
)

const sessionColumns = `session_id, owner_id, title, context_notes, is_active, created_at, updated_at`

const messageColumns = `message_id, session_id, owner_id, message_type, content, created_at`

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func (r *ChatRepository) CreateSession(ctx context.Context, ownerID, title string, contextNotes []string) (domain.ChatSession, error) {
	if contextNotes == nil {
		contextNotes = []string{}
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO chat_sessions (owner_id, title, context_notes)
		VALUES ($1, $2, $3)
		RETURNING `+sessionColumns,
		ownerID, title, contextNotes)
	return scanSession(row)
}

func (r *ChatRepository) GetSession(ctx context.Context, ownerID, sessionID string) (domain.ChatSession, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM chat_sessions
		WHERE owner_id = $1 AND session_id = $2`,
		ownerID, sessionID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ChatSession{}, apperr.NotFound("chat session")
	}
	return s, err
}

func (r *ChatRepository) ListSessions(ctx context.Context, ownerID string) ([]domain.ChatSession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM chat_sessions
		WHERE owner_id = $1 AND is_active
		ORDER BY updated_at DESC`,
		ownerID)
	if err != nil {
		return nil, apperr.Storage("list chat sessions", err)
	}
	defer rows.Close()

	sessions := make([]domain.ChatSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, apperr.Storage("scan chat session", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// TouchSession bumps updated_at so the session list stays ordered by
// recent activity.
func (r *ChatRepository) TouchSession(ctx context.Context, ownerID, sessionID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE chat_sessions SET updated_at = NOW()
		WHERE owner_id = $1 AND session_id = $2`,
		ownerID, sessionID)
	if err != nil {
		return apperr.Storage("touch chat session", err)
	}
	return nil
}

func (r *ChatRepository) CloseSession(ctx context.Context, ownerID, sessionID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE chat_sessions SET is_active = FALSE, updated_at = NOW()
		WHERE owner_id = $1 AND session_id = $2`,
		ownerID, sessionID)
	if err != nil {
		return apperr.Storage("close chat session", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("chat session")
	}
	return nil
}

func (r *ChatRepository) AppendMessage(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (session_id, owner_id, message_type, content)
		VALUES ($1, $2, $3, $4)
		RETURNING `+messageColumns,
		msg.SessionID, msg.OwnerID, msg.Type, msg.Content)
	out, err := scanMessage(row)
	if err != nil {
		return domain.ChatMessage{}, apperr.Storage("append chat message", err)
	}
	return out, nil
}

func (r *ChatRepository) ListMessages(ctx context.Context, ownerID, sessionID string) ([]domain.ChatMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM chat_messages
		WHERE owner_id = $1 AND session_id = $2
		ORDER BY created_at`,
		ownerID, sessionID)
	if err != nil {
		return nil, apperr.Storage("list chat messages", err)
	}
	defer rows.Close()

	messages := make([]domain.ChatMessage, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Storage("scan chat message", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func scanSession(row pgx.Row) (domain.ChatSession, error) {
	var s domain.ChatSession
	err := row.Scan(&s.ID, &s.OwnerID, &s.Title, &s.ContextNotes, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.ChatSession{}, err
	}
	if s.ContextNotes == nil {
		s.ContextNotes = []string{}
	}
	return s, nil
}

func scanMessage(row pgx.Row) (domain.ChatMessage, error) {
	var m domain.ChatMessage
	err := row.Scan(&m.ID, &m.SessionID, &m.OwnerID, &m.Type, &m.Content, &m.CreatedAt)
	return m, err
}
