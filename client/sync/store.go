package sync

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"knowledge_server/server/notes/domain"
)

// Store is the client-side replica of one owner's notes. All merges are
// last-writer-wins on updated_at, with deletes winning unconditionally:
// a tombstone survives the session so late responses for a deleted note
// are discarded. Safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	notes      map[string]domain.Note
	tombstones map[string]struct{}
	listeners  map[int]func()
	nextID     int
}

func NewStore() *Store {
	return &Store{
		notes:      make(map[string]domain.Note),
		tombstones: make(map[string]struct{}),
		listeners:  make(map[int]func()),
	}
}

// Reset replaces the replica with a fresh server snapshot. Tombstones are
// kept: a delete confirmed earlier in the session still wins over a
// snapshot raced with it.
func (s *Store) Reset(notes []domain.Note) {
	s.mu.Lock()
	s.notes = make(map[string]domain.Note, len(notes))
	for _, n := range notes {
		if _, gone := s.tombstones[n.ID]; gone {
			continue
		}
		s.notes[n.ID] = n
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Get(noteID string) (domain.Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[noteID]
	return n, ok
}

// Snapshot returns the replica ordered newest-first by updated_at, id as
// tiebreak so the order is stable.
func (s *Store) Snapshot() []domain.Note {
	s.mu.RLock()
	out := make([]domain.Note, 0, len(s.notes))
	for _, n := range s.notes {
		out = append(out, n)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Subscribe registers a change callback and returns its cancel func. The
// callback runs outside the store lock and may call back into the store.
func (s *Store) Subscribe(fn func()) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// ApplyEvent folds one change notification into the replica. Events may
// arrive out of order and more than once; the merge is idempotent.
func (s *Store) ApplyEvent(event domain.ChangeEvent) {
	switch event.Operation {
	case domain.OpDelete:
		s.mu.Lock()
		delete(s.notes, event.Note.ID)
		s.tombstones[event.Note.ID] = struct{}{}
		s.mu.Unlock()
		s.notify()
	case domain.OpInsert, domain.OpUpdate:
		s.Merge(event.Note)
	}
}

// Merge folds one authoritative note version into the replica, applying
// the LWW rule. Used for both events and mutation responses.
func (s *Store) Merge(note domain.Note) {
	s.mu.Lock()
	if _, gone := s.tombstones[note.ID]; gone {
		s.mu.Unlock()
		return
	}
	current, ok := s.notes[note.ID]
	if ok && current.UpdatedAt.After(note.UpdatedAt) {
		s.mu.Unlock()
		return
	}
	s.notes[note.ID] = note
	s.mu.Unlock()
	s.notify()
}

// StageCreate inserts an optimistic placeholder under a temporary id and
// returns that id for later resolution or rollback.
func (s *Store) StageCreate(note domain.Note) string {
	tempID := "local-" + uuid.NewString()
	note.ID = tempID
	s.mu.Lock()
	s.notes[tempID] = note
	s.mu.Unlock()
	s.notify()
	return tempID
}

// ResolveCreate swaps the placeholder for the server-assigned note.
func (s *Store) ResolveCreate(tempID string, confirmed domain.Note) {
	s.mu.Lock()
	delete(s.notes, tempID)
	if _, gone := s.tombstones[confirmed.ID]; !gone {
		s.notes[confirmed.ID] = confirmed
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) RollbackCreate(tempID string) {
	s.mu.Lock()
	delete(s.notes, tempID)
	s.mu.Unlock()
	s.notify()
}

// StageUpdate applies a patch optimistically and returns the previous
// version for rollback. Returns false when the note is not in the replica.
func (s *Store) StageUpdate(noteID string, patch domain.NotePatch) (domain.Note, bool) {
	s.mu.Lock()
	prev, ok := s.notes[noteID]
	if !ok {
		s.mu.Unlock()
		return domain.Note{}, false
	}
	next := prev
	patch.ApplyTo(&next)
	s.notes[noteID] = next
	s.mu.Unlock()
	s.notify()
	return prev, true
}

// Rollback restores a staged-over version after a rejected mutation,
// unless a delete or a newer server version landed meanwhile.
func (s *Store) Rollback(prev domain.Note) {
	s.mu.Lock()
	if _, gone := s.tombstones[prev.ID]; gone {
		s.mu.Unlock()
		return
	}
	if current, ok := s.notes[prev.ID]; ok && current.UpdatedAt.After(prev.UpdatedAt) {
		s.mu.Unlock()
		return
	}
	s.notes[prev.ID] = prev
	s.mu.Unlock()
	s.notify()
}

// StageDelete removes the note optimistically. The tombstone is set only
// on server confirmation, so late events can still restore it on failure.
func (s *Store) StageDelete(noteID string) (domain.Note, bool) {
	s.mu.Lock()
	prev, ok := s.notes[noteID]
	if !ok {
		s.mu.Unlock()
		return domain.Note{}, false
	}
	delete(s.notes, noteID)
	s.mu.Unlock()
	s.notify()
	return prev, true
}

// ConfirmDelete marks the note permanently gone for this session.
func (s *Store) ConfirmDelete(noteID string) {
	s.mu.Lock()
	delete(s.notes, noteID)
	s.tombstones[noteID] = struct{}{}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) RollbackDelete(prev domain.Note) {
	s.Rollback(prev)
}

func (s *Store) notify() {
	s.mu.RLock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
