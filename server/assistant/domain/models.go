package domain

import "time"

type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
)

// ChatSession groups an exchange with the assistant. ContextNotes pins the
// owner's note ids the conversation may draw on.
type ChatSession struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Title        string    `json:"title"`
	ContextNotes []string  `json:"context_notes"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ChatMessage is append-only; the transcript is never edited.
type ChatMessage struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	OwnerID   string      `json:"owner_id"`
	Type      MessageType `json:"message_type"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

type ChatRequest struct {
	Message      string   `json:"message"`
	SessionID    string   `json:"session_id,omitempty"`
	ContextNotes []string `json:"context_note_ids,omitempty"`
}

// UsageReport is the owner's AI credit consumption for the current
// calendar month. Limit 0 means enforcement is off.
type UsageReport struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

type ChatReply struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}
