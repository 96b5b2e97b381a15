package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"knowledge_server/server/assistant/domain"
	"knowledge_server/server/common/apperr"
	commonlog "knowledge_server/server/common/log"
	"knowledge_server/server/ingest/provider"
	notesdomain "knowledge_server/server/notes/domain"
)

// sessionTitleMaxRunes bounds the lazily derived session title.
const sessionTitleMaxRunes = 50

type sessionStore interface {
	CreateSession(ctx context.Context, ownerID, title string, contextNotes []string) (domain.ChatSession, error)
	GetSession(ctx context.Context, ownerID, sessionID string) (domain.ChatSession, error)
	ListSessions(ctx context.Context, ownerID string) ([]domain.ChatSession, error)
	TouchSession(ctx context.Context, ownerID, sessionID string) error
	CloseSession(ctx context.Context, ownerID, sessionID string) error
	AppendMessage(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error)
	ListMessages(ctx context.Context, ownerID, sessionID string) ([]domain.ChatMessage, error)
}

type noteResolver interface {
	Resolve(ctx context.Context, ownerID string, noteIDs []string) ([]notesdomain.Note, error)
}

type quotaGate interface {
	CheckAndReserve(ctx context.Context, ownerID string) error
	Used(ctx context.Context, ownerID string) (int64, error)
	Limit() int64
}

// AssistantService orchestrates one chat turn: session bookkeeping, note
// context assembly, quota enforcement, and the provider call.
type AssistantService struct {
	sessions   sessionStore
	notes      noteResolver
	summarizer provider.Summarizer
	quota      quotaGate
}

func NewAssistantService(sessions sessionStore, notes noteResolver, summarizer provider.Summarizer, quota quotaGate) *AssistantService {
	return &AssistantService{sessions: sessions, notes: notes, summarizer: summarizer, quota: quota}
}

// Chat runs a single exchange. The user message is persisted before the
// provider call, so a failed turn still appears in the transcript.
func (s *AssistantService) Chat(ctx context.Context, ownerID string, req domain.ChatRequest) (domain.ChatReply, error) {
	message := strings.TrimSpace(req.Message)
	if ownerID == "" {
		return domain.ChatReply{}, apperr.Validation("owner id is required")
	}
	if message == "" {
		return domain.ChatReply{}, apperr.Validation("message must not be blank")
	}

	session, err := s.resolveSession(ctx, ownerID, message, req)
	if err != nil {
		return domain.ChatReply{}, err
	}

	if err := s.quota.CheckAndReserve(ctx, ownerID); err != nil {
		return domain.ChatReply{}, err
	}

	if _, err := s.sessions.AppendMessage(ctx, domain.ChatMessage{
		SessionID: session.ID,
		OwnerID:   ownerID,
		Type:      domain.MessageUser,
		Content:   message,
	}); err != nil {
		return domain.ChatReply{}, err
	}

	// Ids supplied with the message override the session's pinned set, so
	// a client can steer an ongoing conversation at new notes.
	contextIDs := session.ContextNotes
	if len(req.ContextNotes) > 0 {
		contextIDs = req.ContextNotes
	}
	contextText, err := s.assembleContext(ctx, ownerID, contextIDs)
	if err != nil {
		return domain.ChatReply{}, err
	}

	reply, err := s.generate(ctx, message, contextText)
	if err != nil {
		return domain.ChatReply{}, err
	}

	if _, err := s.sessions.AppendMessage(ctx, domain.ChatMessage{
		SessionID: session.ID,
		OwnerID:   ownerID,
		Type:      domain.MessageAssistant,
		Content:   reply,
	}); err != nil {
		return domain.ChatReply{}, err
	}
	if err := s.sessions.TouchSession(ctx, ownerID, session.ID); err != nil {
		commonlog.Warnf("event=assistant action=touch_session status=failed session_id=%s error=%v", session.ID, err)
	}

	return domain.ChatReply{Response: reply, SessionID: session.ID}, nil
}

func (s *AssistantService) Sessions(ctx context.Context, ownerID string) ([]domain.ChatSession, error) {
	return s.sessions.ListSessions(ctx, ownerID)
}

func (s *AssistantService) Messages(ctx context.Context, ownerID, sessionID string) ([]domain.ChatMessage, error) {
	if _, err := s.sessions.GetSession(ctx, ownerID, sessionID); err != nil {
		return nil, err
	}
	return s.sessions.ListMessages(ctx, ownerID, sessionID)
}

func (s *AssistantService) Close(ctx context.Context, ownerID, sessionID string) error {
	return s.sessions.CloseSession(ctx, ownerID, sessionID)
}

// Usage reports the owner's AI credit consumption for the current month.
func (s *AssistantService) Usage(ctx context.Context, ownerID string) (domain.UsageReport, error) {
	used, err := s.quota.Used(ctx, ownerID)
	if err != nil {
		return domain.UsageReport{}, err
	}
	return domain.UsageReport{Used: used, Limit: s.quota.Limit()}, nil
}

// resolveSession loads the named session or lazily creates one titled
// from the first message. Context note ids the owner cannot read are
// dropped here, not surfaced as errors.
func (s *AssistantService) resolveSession(ctx context.Context, ownerID, message string, req domain.ChatRequest) (domain.ChatSession, error) {
	if req.SessionID != "" {
		return s.sessions.GetSession(ctx, ownerID, req.SessionID)
	}

	contextIDs := []string{}
	if len(req.ContextNotes) > 0 {
		notes, err := s.notes.Resolve(ctx, ownerID, req.ContextNotes)
		if err != nil {
			return domain.ChatSession{}, err
		}
		for _, n := range notes {
			contextIDs = append(contextIDs, n.ID)
		}
	}
	return s.sessions.CreateSession(ctx, ownerID, truncateRunes(message, sessionTitleMaxRunes), contextIDs)
}

func (s *AssistantService) assembleContext(ctx context.Context, ownerID string, noteIDs []string) (string, error) {
	if len(noteIDs) == 0 {
		return "", nil
	}
	notes, err := s.notes.Resolve(ctx, ownerID, noteIDs)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, n := range notes {
		b.WriteString("Title: ")
		b.WriteString(n.Title)
		b.WriteString("\nContent: ")
		b.WriteString(n.Content)
		b.WriteString("\nSummary: ")
		if n.AISummary != nil && *n.AISummary != "" {
			b.WriteString(*n.AISummary)
		} else {
			b.WriteString("No summary")
		}
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

// generate produces the reply by condensing the question together with
// the pinned note context through the summarization provider.
func (s *AssistantService) generate(ctx context.Context, message, contextText string) (string, error) {
	prompt := message
	if contextText != "" {
		prompt = contextText + "Question: " + message
	}
	summary, err := s.summarizer.Summarize(ctx, prompt, provider.SummaryKeyPoints)
	if err != nil {
		return "", err
	}
	return summary.Summary, nil
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
