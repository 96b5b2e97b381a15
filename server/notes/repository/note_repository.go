package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"knowledge_server/server/common/apperr"
	"knowledge_server/server/notes/domain"
)

const noteColumns = `note_id, owner_id, title, content, kind, category, is_starred, is_archived,
	transcription, ai_summary, ai_tags, created_at, updated_at`

type NoteRepository struct {
	pool *pgxpool.Pool
}

func NewNoteRepository(pool *pgxpool.Pool) *NoteRepository {
	return &NoteRepository{pool: pool}
}

func (r *NoteRepository) Create(ctx context.Context, note domain.Note) (domain.Note, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO notes(owner_id, title, content, kind, category, is_starred, is_archived, ai_tags, search_text)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+noteColumns+`
	`, note.OwnerID, note.Title, note.Content, note.Kind, note.Category,
		note.IsStarred, note.IsArchived, tagsOrEmpty(note.AITags), note.SearchText())
	return scanNote(row)
}

func (r *NoteRepository) Get(ctx context.Context, ownerID, noteID string) (domain.Note, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE note_id=$1 AND owner_id=$2
	`, noteID, ownerID)
	note, err := scanNote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Note{}, apperr.NotFound("note")
		}
		return domain.Note{}, err
	}
	return note, nil
}

func (r *NoteRepository) GetByIDs(ctx context.Context, ownerID string, noteIDs []string) ([]domain.Note, error) {
	if len(noteIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE owner_id=$1 AND note_id = ANY($2)
	`, ownerID, noteIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotes(rows)
}

// Update loads the row under a row lock, applies the patch, and writes all
// mutable columns back. updated_at is forced strictly forward so it can
// serve as the last-writer-wins tiebreaker downstream.
func (r *NoteRepository) Update(ctx context.Context, ownerID, noteID string, patch domain.NotePatch) (domain.Note, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Note{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE note_id=$1 AND owner_id=$2
		FOR UPDATE
	`, noteID, ownerID)
	note, err := scanNote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Note{}, apperr.NotFound("note")
		}
		return domain.Note{}, err
	}

	patch.ApplyTo(&note)

	row = tx.QueryRow(ctx, `
		UPDATE notes
		SET title=$3, content=$4, category=$5, is_starred=$6, is_archived=$7,
		    transcription=$8, ai_summary=$9, ai_tags=$10, search_text=$11,
		    updated_at=GREATEST(NOW(), updated_at + INTERVAL '1 microsecond')
		WHERE note_id=$1 AND owner_id=$2
		RETURNING `+noteColumns+`
	`, noteID, ownerID, note.Title, note.Content, note.Category, note.IsStarred, note.IsArchived,
		note.Transcription, note.AISummary, tagsOrEmpty(note.AITags), note.SearchText())
	updated, err := scanNote(row)
	if err != nil {
		return domain.Note{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Note{}, err
	}
	return updated, nil
}

// Delete removes the row and returns its last snapshot for the delete
// event.
func (r *NoteRepository) Delete(ctx context.Context, ownerID, noteID string) (domain.Note, error) {
	row := r.pool.QueryRow(ctx, `
		DELETE FROM notes
		WHERE note_id=$1 AND owner_id=$2
		RETURNING `+noteColumns+`
	`, noteID, ownerID)
	note, err := scanNote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Note{}, apperr.NotFound("note")
		}
		return domain.Note{}, err
	}
	return note, nil
}

func (r *NoteRepository) List(ctx context.Context, ownerID string, filter domain.ListFilter) ([]domain.Note, error) {
	query := `
		SELECT ` + noteColumns + `
		FROM notes
		WHERE owner_id=$1`
	args := []any{ownerID}

	if !filter.IncludeArchived {
		query += ` AND is_archived = FALSE`
	}
	if filter.StarredOnly {
		query += ` AND is_starred = TRUE`
	}
	if category := strings.TrimSpace(filter.Category); category != "" {
		args = append(args, category)
		query += ` AND category = $` + itoa(len(args))
	}
	if q := strings.ToLower(strings.TrimSpace(filter.Query)); q != "" {
		args = append(args, q, "%"+q+"%")
		query += ` AND (to_tsvector('simple', search_text) @@ plainto_tsquery('simple', $` + itoa(len(args)-1) + `)` +
			` OR search_text LIKE $` + itoa(len(args)) + `)`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotes(rows)
}

func scanNote(row pgx.Row) (domain.Note, error) {
	var note domain.Note
	err := row.Scan(
		&note.ID,
		&note.OwnerID,
		&note.Title,
		&note.Content,
		&note.Kind,
		&note.Category,
		&note.IsStarred,
		&note.IsArchived,
		&note.Transcription,
		&note.AISummary,
		&note.AITags,
		&note.CreatedAt,
		&note.UpdatedAt,
	)
	return note, err
}

func collectNotes(rows pgx.Rows) ([]domain.Note, error) {
	notes := make([]domain.Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
