package domain

import (
	"strings"
	"time"
)

// NoteKind is the closed set of content kinds; every media type maps onto
// exactly one of them, so dispatch in the pipeline can never fall through
// silently.
type NoteKind string

const (
	KindText     NoteKind = "text"
	KindAudio    NoteKind = "audio"
	KindVideo    NoteKind = "video"
	KindImage    NoteKind = "image"
	KindDocument NoteKind = "document"
	KindOther    NoteKind = "other"
)

func KindFromMediaType(mediaType string) NoteKind {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	switch {
	case strings.HasPrefix(mt, "audio/"):
		return KindAudio
	case strings.HasPrefix(mt, "video/"):
		return KindVideo
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case mt == "application/pdf" || mt == "text/plain" || strings.Contains(mt, "document") || strings.Contains(mt, "msword"):
		return KindDocument
	default:
		return KindOther
	}
}

type Note struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	Kind          NoteKind  `json:"kind"`
	Category      string    `json:"category"`
	IsStarred     bool      `json:"is_starred"`
	IsArchived    bool      `json:"is_archived"`
	Transcription *string   `json:"transcription,omitempty"`
	AISummary     *string   `json:"ai_summary,omitempty"`
	AITags        []string  `json:"ai_tags,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SearchText is the precomputed representation list and search match
// against; it is stored alongside the row and rebuilt on every mutation.
func (n Note) SearchText() string {
	parts := []string{n.Title, n.Content}
	parts = append(parts, n.AITags...)
	return strings.ToLower(strings.Join(parts, " "))
}

// NotePatch is a partial update; nil fields are left untouched.
type NotePatch struct {
	Title         *string   `json:"title,omitempty"`
	Content       *string   `json:"content,omitempty"`
	Category      *string   `json:"category,omitempty"`
	IsStarred     *bool     `json:"is_starred,omitempty"`
	IsArchived    *bool     `json:"is_archived,omitempty"`
	Transcription *string   `json:"transcription,omitempty"`
	AISummary     *string   `json:"ai_summary,omitempty"`
	AITags        *[]string `json:"ai_tags,omitempty"`
}

// ApplyTo overlays the set fields onto a note. Timestamps are left to the
// store; callers never fabricate updated_at.
func (p NotePatch) ApplyTo(note *Note) {
	if p.Title != nil {
		note.Title = *p.Title
	}
	if p.Content != nil {
		note.Content = *p.Content
	}
	if p.Category != nil {
		note.Category = *p.Category
	}
	if p.IsStarred != nil {
		note.IsStarred = *p.IsStarred
	}
	if p.IsArchived != nil {
		note.IsArchived = *p.IsArchived
	}
	if p.Transcription != nil {
		note.Transcription = p.Transcription
	}
	if p.AISummary != nil {
		note.AISummary = p.AISummary
	}
	if p.AITags != nil {
		note.AITags = *p.AITags
	}
}

func (p NotePatch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.Category == nil &&
		p.IsStarred == nil && p.IsArchived == nil &&
		p.Transcription == nil && p.AISummary == nil && p.AITags == nil
}

// ListFilter narrows list/search results. Archived notes are excluded
// unless IncludeArchived is set.
type ListFilter struct {
	Category        string
	StarredOnly     bool
	Query           string
	IncludeArchived bool
}

type ProcessingState string

const (
	StatePending    ProcessingState = "pending"
	StateProcessing ProcessingState = "processing"
	StateCompleted  ProcessingState = "completed"
	StateFailed     ProcessingState = "failed"
)

// CanTransition encodes the attachment state machine: processing states
// only move forward, and failed re-enters processing solely through retry.
func (s ProcessingState) CanTransition(to ProcessingState) bool {
	switch s {
	case StatePending:
		return to == StateProcessing
	case StateProcessing:
		return to == StateCompleted || to == StateFailed
	case StateFailed:
		return to == StateProcessing
	default:
		return false
	}
}

type Attachment struct {
	ID           string          `json:"id"`
	NoteID       string          `json:"note_id"`
	OwnerID      string          `json:"owner_id"`
	FileName     string          `json:"file_name"`
	ObjectKey    string          `json:"object_key"`
	RetrievalURL string          `json:"retrieval_url"`
	SizeBytes    int64           `json:"size_bytes"`
	MediaType    string          `json:"media_type"`
	State        ProcessingState `json:"processing_state"`
	RetryCount   int             `json:"retry_count"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeEvent describes one note mutation. Delivery to subscribers is
// at-least-once and unordered across producers; consumers must merge
// idempotently by id and updated_at.
type ChangeEvent struct {
	Operation Operation `json:"operation"`
	OwnerID   string    `json:"owner_id"`
	Note      Note      `json:"note"`
}

// IngestJob is the queue payload that hands an uploaded attachment to the
// pipeline worker.
type IngestJob struct {
	AttachmentID string `json:"attachment_id"`
	NoteID       string `json:"note_id"`
	OwnerID      string `json:"owner_id"`
	ObjectKey    string `json:"object_key"`
	RetrievalURL string `json:"retrieval_url"`
	MediaType    string `json:"media_type"`
	FileName     string `json:"file_name"`
}
