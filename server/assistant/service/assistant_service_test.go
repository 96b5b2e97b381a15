package service

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge_server/server/assistant/domain"
	"knowledge_server/server/common/apperr"
	"knowledge_server/server/ingest/provider"
	notesdomain "knowledge_server/server/notes/domain"
)

type fakeSessionStore struct {
	sessions map[string]domain.ChatSession
	messages []domain.ChatMessage
	nextID   int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]domain.ChatSession{}}
}

func (f *fakeSessionStore) CreateSession(ctx context.Context, ownerID, title string, contextNotes []string) (domain.ChatSession, error) {
	f.nextID++
	s := domain.ChatSession{
		ID:           "session-" + strconv.Itoa(f.nextID),
		OwnerID:      ownerID,
		Title:        title,
		ContextNotes: contextNotes,
		IsActive:     true,
	}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeSessionStore) GetSession(ctx context.Context, ownerID, sessionID string) (domain.ChatSession, error) {
	s, ok := f.sessions[sessionID]
	if !ok || s.OwnerID != ownerID {
		return domain.ChatSession{}, apperr.NotFound("chat session")
	}
	return s, nil
}

func (f *fakeSessionStore) ListSessions(ctx context.Context, ownerID string) ([]domain.ChatSession, error) {
	out := make([]domain.ChatSession, 0)
	for _, s := range f.sessions {
		if s.OwnerID == ownerID && s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) TouchSession(ctx context.Context, ownerID, sessionID string) error {
	return nil
}

func (f *fakeSessionStore) CloseSession(ctx context.Context, ownerID, sessionID string) error {
	s, err := f.GetSession(ctx, ownerID, sessionID)
	if err != nil {
		return err
	}
	s.IsActive = false
	f.sessions[sessionID] = s
	return nil
}

func (f *fakeSessionStore) AppendMessage(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error) {
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeSessionStore) ListMessages(ctx context.Context, ownerID, sessionID string) ([]domain.ChatMessage, error) {
	out := make([]domain.ChatMessage, 0)
	for _, m := range f.messages {
		if m.OwnerID == ownerID && m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeResolver struct {
	notes map[string]notesdomain.Note
}

func (f *fakeResolver) Resolve(ctx context.Context, ownerID string, noteIDs []string) ([]notesdomain.Note, error) {
	out := make([]notesdomain.Note, 0)
	for _, id := range noteIDs {
		if n, ok := f.notes[id]; ok && n.OwnerID == ownerID {
			out = append(out, n)
		}
	}
	return out, nil
}

type fakeReplySummarizer struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeReplySummarizer) Summarize(ctx context.Context, text string, summaryType provider.SummaryType) (provider.Summary, error) {
	f.prompts = append(f.prompts, text)
	if f.err != nil {
		return provider.Summary{}, f.err
	}
	return provider.Summary{Summary: f.reply, Confidence: 0.9}, nil
}

type fakeQuota struct {
	err   error
	calls int
	used  int64
	limit int64
}

func (f *fakeQuota) CheckAndReserve(ctx context.Context, ownerID string) error {
	f.calls++
	return f.err
}

func (f *fakeQuota) Used(ctx context.Context, ownerID string) (int64, error) {
	return f.used, nil
}

func (f *fakeQuota) Limit() int64 {
	return f.limit
}

func TestChatRejectsBlankMessage(t *testing.T) {
	svc := NewAssistantService(newFakeSessionStore(), &fakeResolver{}, &fakeReplySummarizer{}, &fakeQuota{})

	_, err := svc.Chat(context.Background(), "owner-1", domain.ChatRequest{Message: "   "})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestChatCreatesSessionLazilyWithTruncatedTitle(t *testing.T) {
	sessions := newFakeSessionStore()
	svc := NewAssistantService(sessions, &fakeResolver{}, &fakeReplySummarizer{reply: "sure"}, &fakeQuota{})

	message := strings.Repeat("p", 80)
	reply, err := svc.Chat(context.Background(), "owner-1", domain.ChatRequest{Message: message})
	require.NoError(t, err)
	require.NotEmpty(t, reply.SessionID)

	session := sessions.sessions[reply.SessionID]
	assert.Equal(t, 50, len([]rune(session.Title)))
}

func TestChatReusesExistingSession(t *testing.T) {
	sessions := newFakeSessionStore()
	existing, err := sessions.CreateSession(context.Background(), "owner-1", "earlier", nil)
	require.NoError(t, err)

	svc := NewAssistantService(sessions, &fakeResolver{}, &fakeReplySummarizer{reply: "ok"}, &fakeQuota{})
	reply, err := svc.Chat(context.Background(), "owner-1", domain.ChatRequest{Message: "again", SessionID: existing.ID})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, reply.SessionID)
	assert.Len(t, sessions.sessions, 1)
}

func TestChatRejectsForeignSession(t *testing.T) {
	sessions := newFakeSessionStore()
	theirs, err := sessions.CreateSession(context.Background(), "owner-2", "private", nil)
	require.NoError(t, err)

	svc := NewAssistantService(sessions, &fakeResolver{}, &fakeReplySummarizer{}, &fakeQuota{})
	_, err = svc.Chat(context.Background(), "owner-1", domain.ChatRequest{Message: "hi", SessionID: theirs.ID})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestChatDropsForeignContextNotes(t *testing.T) {
	sessions := newFakeSessionStore()
	resolver := &fakeResolver{notes: map[string]notesdomain.Note{
		"mine":   {ID: "mine", OwnerID: "owner-1", Title: "Plan", Content: "ship it"},
		"theirs": {ID: "theirs", OwnerID: "owner-2", Title: "Secret", Content: "hidden"},
	}}
	svc := NewAssistantService(sessions, resolver, &fakeReplySummarizer{reply: "ok"}, &fakeQuota{})

	reply, err := svc.Chat(context.Background(), "owner-1", domain.ChatRequest{
		Message:      "what is the plan",
		ContextNotes: []string{"mine", "theirs", "missing"},
	})
	require.NoError(t, err)

	session := sessions.sessions[reply.SessionID]
	assert.Equal(t, []string{"mine"}, session.ContextNotes)
}

func TestChatQuotaExceededBlocksProvider(t *testing.T) {
	sessions := newFakeSessionStore()
	summarizer := &fakeReplySummarizer{reply: "never"}
	quota := &fakeQuota{err: apperr.QuotaExceeded("monthly AI limit reached")}
	svc := NewAssistantService(sessions, &fakeResolver{}, summarizer, quota)

	_, err := svc.Chat(context.Background(), "owner-1", domain.ChatRequest{Message: "hello"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindQuotaExceeded))
	assert.Empty(t, summarizer.prompts)
	assert.Empty(t, sessions.messages)
}

func TestChatPersistsTranscriptInOrder(t *testing.T) {
	sessions := newFakeSessionStore()
	svc := NewAssistantService(sessions, &fakeResolver{}, &fakeReplySummarizer{reply: "the answer"}, &fakeQuota{})

	reply, err := svc.Chat(context.Background(), "owner-1", domain.ChatRequest{Message: "the question"})
	require.NoError(t, err)
	assert.Equal(t, "the answer", reply.Response)

	require.Len(t, sessions.messages, 2)
	assert.Equal(t, domain.MessageUser, sessions.messages[0].Type)
	assert.Equal(t, "the question", sessions.messages[0].Content)
	assert.Equal(t, domain.MessageAssistant, sessions.messages[1].Type)
	assert.Equal(t, "the answer", sessions.messages[1].Content)
}

func TestChatProviderFailureKeepsUserMessage(t *testing.T) {
	sessions := newFakeSessionStore()
	summarizer := &fakeReplySummarizer{err: apperr.ProviderTimeout("assistant timed out", nil)}
	svc := NewAssistantService(sessions, &fakeResolver{}, summarizer, &fakeQuota{})

	_, err := svc.Chat(context.Background(), "owner-1", domain.ChatRequest{Message: "are you there"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindProviderTimeout))

	// The failed turn still shows the user's side of the exchange.
	require.Len(t, sessions.messages, 1)
	assert.Equal(t, domain.MessageUser, sessions.messages[0].Type)
}

func TestChatIncludesContextInPrompt(t *testing.T) {
	sessions := newFakeSessionStore()
	summary := "the distilled summary"
	resolver := &fakeResolver{notes: map[string]notesdomain.Note{
		"n1": {ID: "n1", OwnerID: "owner-1", Title: "Roadmap", Content: "ship the sync engine", AISummary: &summary},
		"n2": {ID: "n2", OwnerID: "owner-1", Title: "Scratch", Content: "raw jottings"},
	}}
	summarizer := &fakeReplySummarizer{reply: "ok"}
	svc := NewAssistantService(sessions, resolver, summarizer, &fakeQuota{})

	_, err := svc.Chat(context.Background(), "owner-1", domain.ChatRequest{
		Message:      "what are we shipping",
		ContextNotes: []string{"n1", "n2"},
	})
	require.NoError(t, err)

	require.Len(t, summarizer.prompts, 1)
	prompt := summarizer.prompts[0]
	assert.Contains(t, prompt, "Title: Roadmap")
	assert.Contains(t, prompt, "Content: ship the sync engine")
	assert.Contains(t, prompt, "Summary: the distilled summary")
	// Notes without a summary still carry an explicit summary line.
	assert.Contains(t, prompt, "Summary: No summary")
	assert.Contains(t, prompt, "what are we shipping")
}

func TestChatRequestContextOverridesPinnedSet(t *testing.T) {
	sessions := newFakeSessionStore()
	resolver := &fakeResolver{notes: map[string]notesdomain.Note{
		"pinned": {ID: "pinned", OwnerID: "owner-1", Title: "Old", Content: "stale context"},
		"fresh":  {ID: "fresh", OwnerID: "owner-1", Title: "New", Content: "steer the conversation here"},
	}}
	summarizer := &fakeReplySummarizer{reply: "ok"}
	svc := NewAssistantService(sessions, resolver, summarizer, &fakeQuota{})

	first, err := svc.Chat(context.Background(), "owner-1", domain.ChatRequest{
		Message:      "start",
		ContextNotes: []string{"pinned"},
	})
	require.NoError(t, err)

	_, err = svc.Chat(context.Background(), "owner-1", domain.ChatRequest{
		Message:      "follow up",
		SessionID:    first.SessionID,
		ContextNotes: []string{"fresh"},
	})
	require.NoError(t, err)

	require.Len(t, summarizer.prompts, 2)
	assert.Contains(t, summarizer.prompts[1], "steer the conversation here")
	assert.NotContains(t, summarizer.prompts[1], "stale context")
}

func TestChatExistingSessionFallsBackToPinnedContext(t *testing.T) {
	sessions := newFakeSessionStore()
	resolver := &fakeResolver{notes: map[string]notesdomain.Note{
		"pinned": {ID: "pinned", OwnerID: "owner-1", Title: "Plan", Content: "pinned context"},
	}}
	summarizer := &fakeReplySummarizer{reply: "ok"}
	svc := NewAssistantService(sessions, resolver, summarizer, &fakeQuota{})

	first, err := svc.Chat(context.Background(), "owner-1", domain.ChatRequest{
		Message:      "start",
		ContextNotes: []string{"pinned"},
	})
	require.NoError(t, err)

	_, err = svc.Chat(context.Background(), "owner-1", domain.ChatRequest{
		Message:   "follow up",
		SessionID: first.SessionID,
	})
	require.NoError(t, err)

	require.Len(t, summarizer.prompts, 2)
	assert.Contains(t, summarizer.prompts[1], "pinned context")
}

func TestUsageReportsCurrentConsumption(t *testing.T) {
	svc := NewAssistantService(newFakeSessionStore(), &fakeResolver{}, &fakeReplySummarizer{}, &fakeQuota{used: 42, limit: 500})

	report, err := svc.Usage(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), report.Used)
	assert.Equal(t, int64(500), report.Limit)
}
