package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"knowledge_server/server/common/apperr"
	"knowledge_server/server/notes/domain"
)

const attachmentColumns = `attachment_id, note_id, owner_id, file_name, object_key, retrieval_url,
	size_bytes, media_type, processing_state, retry_count, error_message, created_at, updated_at`

type AttachmentRepository struct {
	pool *pgxpool.Pool
}

func NewAttachmentRepository(pool *pgxpool.Pool) *AttachmentRepository {
	return &AttachmentRepository{pool: pool}
}

func (r *AttachmentRepository) Create(ctx context.Context, att domain.Attachment) (domain.Attachment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO note_attachments(note_id, owner_id, file_name, object_key, retrieval_url, size_bytes, media_type, processing_state)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+attachmentColumns+`
	`, att.NoteID, att.OwnerID, att.FileName, att.ObjectKey, att.RetrievalURL,
		att.SizeBytes, att.MediaType, domain.StatePending)
	return scanAttachment(row)
}

func (r *AttachmentRepository) Get(ctx context.Context, ownerID, attachmentID string) (domain.Attachment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+attachmentColumns+`
		FROM note_attachments
		WHERE attachment_id=$1 AND owner_id=$2
	`, attachmentID, ownerID)
	att, err := scanAttachment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Attachment{}, apperr.NotFound("attachment")
		}
		return domain.Attachment{}, err
	}
	return att, nil
}

func (r *AttachmentRepository) ListByNote(ctx context.Context, ownerID, noteID string) ([]domain.Attachment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attachmentColumns+`
		FROM note_attachments
		WHERE note_id=$1 AND owner_id=$2
		ORDER BY created_at
	`, noteID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Attachment, 0)
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, att)
	}
	return items, rows.Err()
}

// Transition moves an attachment between processing states with the source
// state as a guard, so a lost race or a duplicate delivery leaves the row
// untouched. Returns false when the guard did not match.
func (r *AttachmentRepository) Transition(ctx context.Context, ownerID, attachmentID string, from, to domain.ProcessingState, errorMessage string) (bool, error) {
	if !from.CanTransition(to) {
		return false, apperr.Validation("attachment cannot move from %s to %s", from, to)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE note_attachments
		SET processing_state=$4, error_message=$5, updated_at=NOW()
		WHERE attachment_id=$1 AND owner_id=$2 AND processing_state=$3
	`, attachmentID, ownerID, from, to, errorMessage)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Retry re-enters processing from failed and burns one retry credit in the
// same statement; it reports false once the credit budget is spent.
func (r *AttachmentRepository) Retry(ctx context.Context, ownerID, attachmentID string, maxRetries int) (domain.Attachment, bool, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE note_attachments
		SET processing_state=$3, retry_count=retry_count+1, error_message='', updated_at=NOW()
		WHERE attachment_id=$1 AND owner_id=$2
		  AND processing_state=$4
		  AND retry_count < $5
		RETURNING `+attachmentColumns+`
	`, attachmentID, ownerID, domain.StateProcessing, domain.StateFailed, maxRetries)
	att, err := scanAttachment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Attachment{}, false, nil
		}
		return domain.Attachment{}, false, err
	}
	return att, true, nil
}

func (r *AttachmentRepository) Delete(ctx context.Context, ownerID, attachmentID string) (domain.Attachment, error) {
	row := r.pool.QueryRow(ctx, `
		DELETE FROM note_attachments
		WHERE attachment_id=$1 AND owner_id=$2
		RETURNING `+attachmentColumns+`
	`, attachmentID, ownerID)
	att, err := scanAttachment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Attachment{}, apperr.NotFound("attachment")
		}
		return domain.Attachment{}, err
	}
	return att, nil
}

func scanAttachment(row pgx.Row) (domain.Attachment, error) {
	var att domain.Attachment
	err := row.Scan(
		&att.ID,
		&att.NoteID,
		&att.OwnerID,
		&att.FileName,
		&att.ObjectKey,
		&att.RetrievalURL,
		&att.SizeBytes,
		&att.MediaType,
		&att.State,
		&att.RetryCount,
		&att.ErrorMessage,
		&att.CreatedAt,
		&att.UpdatedAt,
	)
	return att, err
}
