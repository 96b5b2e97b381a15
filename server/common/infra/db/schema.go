package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS notes (
		note_id        UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		owner_id       TEXT NOT NULL,
		title          TEXT NOT NULL,
		content        TEXT NOT NULL DEFAULT '',
		kind           TEXT NOT NULL DEFAULT 'text',
		category       TEXT NOT NULL DEFAULT '',
		is_starred     BOOLEAN NOT NULL DEFAULT FALSE,
		is_archived    BOOLEAN NOT NULL DEFAULT FALSE,
		transcription  TEXT,
		ai_summary     TEXT,
		ai_tags        TEXT[] NOT NULL DEFAULT '{}',
		search_text    TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notes_owner_updated ON notes(owner_id, updated_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_notes_search ON notes USING gin(to_tsvector('simple', search_text))`,
	`CREATE TABLE IF NOT EXISTS note_attachments (
		attachment_id    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		note_id          UUID NOT NULL REFERENCES notes(note_id) ON DELETE CASCADE,
		owner_id         TEXT NOT NULL,
		file_name        TEXT NOT NULL,
		object_key       TEXT NOT NULL,
		retrieval_url    TEXT NOT NULL,
		size_bytes       BIGINT NOT NULL,
		media_type       TEXT NOT NULL,
		processing_state TEXT NOT NULL DEFAULT 'pending',
		retry_count      INT NOT NULL DEFAULT 0,
		error_message    TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attachments_note ON note_attachments(note_id)`,
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		owner_id      TEXT NOT NULL,
		title         TEXT NOT NULL,
		context_notes TEXT[] NOT NULL DEFAULT '{}',
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_sessions_owner ON chat_sessions(owner_id, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		message_id   UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		session_id   UUID NOT NULL REFERENCES chat_sessions(session_id) ON DELETE CASCADE,
		owner_id     TEXT NOT NULL,
		message_type TEXT NOT NULL,
		content      TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at)`,
}

// EnsureSchema applies the idempotent DDL on startup so each service owns
// its tables without an external migration step.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
