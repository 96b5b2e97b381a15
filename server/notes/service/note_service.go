package service

import (
	"context"
	"strings"

	"knowledge_server/server/common/apperr"
	commonlog "knowledge_server/server/common/log"
	"knowledge_server/server/notes/domain"
)

type noteStore interface {
	Create(ctx context.Context, note domain.Note) (domain.Note, error)
	Get(ctx context.Context, ownerID, noteID string) (domain.Note, error)
	GetByIDs(ctx context.Context, ownerID string, noteIDs []string) ([]domain.Note, error)
	Update(ctx context.Context, ownerID, noteID string, patch domain.NotePatch) (domain.Note, error)
	Delete(ctx context.Context, ownerID, noteID string) (domain.Note, error)
	List(ctx context.Context, ownerID string, filter domain.ListFilter) ([]domain.Note, error)
}

// NoteService is the authoritative note store surface. Every successful
// mutation emits exactly one ChangeEvent before returning to the caller.
type NoteService struct {
	store  noteStore
	events ChangePublisher
}

func NewNoteService(store noteStore, events ChangePublisher) *NoteService {
	return &NoteService{store: store, events: events}
}

func (s *NoteService) Create(ctx context.Context, ownerID string, note domain.Note) (domain.Note, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.Note{}, apperr.Validation("owner is required")
	}
	if strings.TrimSpace(note.Title) == "" {
		return domain.Note{}, apperr.Validation("title is required")
	}
	note.OwnerID = ownerID
	note.Title = strings.TrimSpace(note.Title)
	if note.Kind == "" {
		note.Kind = domain.KindText
	}

	created, err := s.store.Create(ctx, note)
	if err != nil {
		return domain.Note{}, err
	}
	s.emit(ctx, domain.OpInsert, created)
	return created, nil
}

func (s *NoteService) Get(ctx context.Context, ownerID, noteID string) (domain.Note, error) {
	return s.store.Get(ctx, ownerID, noteID)
}

func (s *NoteService) Update(ctx context.Context, ownerID, noteID string, patch domain.NotePatch) (domain.Note, error) {
	if patch.Empty() {
		return domain.Note{}, apperr.Validation("no fields to update")
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return domain.Note{}, apperr.Validation("title is required")
	}

	updated, err := s.store.Update(ctx, ownerID, noteID, patch)
	if err != nil {
		return domain.Note{}, err
	}
	s.emit(ctx, domain.OpUpdate, updated)
	return updated, nil
}

func (s *NoteService) Delete(ctx context.Context, ownerID, noteID string) error {
	deleted, err := s.store.Delete(ctx, ownerID, noteID)
	if err != nil {
		return err
	}
	s.emit(ctx, domain.OpDelete, deleted)
	return nil
}

func (s *NoteService) List(ctx context.Context, ownerID string, filter domain.ListFilter) ([]domain.Note, error) {
	return s.store.List(ctx, ownerID, filter)
}

func (s *NoteService) Search(ctx context.Context, ownerID, query string) ([]domain.Note, error) {
	return s.store.List(ctx, ownerID, domain.ListFilter{Query: query})
}

func (s *NoteService) Resolve(ctx context.Context, ownerID string, noteIDs []string) ([]domain.Note, error) {
	return s.store.GetByIDs(ctx, ownerID, noteIDs)
}

// emit publishes the event before the mutation returns. A failed publish
// is logged rather than surfaced: the write is durable and the client
// converges through its next snapshot load.
func (s *NoteService) emit(ctx context.Context, op domain.Operation, note domain.Note) {
	if s.events == nil {
		return
	}
	event := domain.ChangeEvent{Operation: op, OwnerID: note.OwnerID, Note: note}
	if err := s.events.PublishChange(ctx, event); err != nil {
		commonlog.Errorf("event=note_mutation action=emit status=failed op=%s note_id=%s error=%v", op, note.ID, err)
	}
}
