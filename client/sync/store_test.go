package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge_server/server/notes/domain"
)

func noteAt(id, title string, updatedAt time.Time) domain.Note {
	return domain.Note{
		ID:        id,
		OwnerID:   "owner-1",
		Title:     title,
		Kind:      domain.KindText,
		UpdatedAt: updatedAt,
	}
}

func TestSnapshotOrdering(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore()
	store.Reset([]domain.Note{
		noteAt("a", "oldest", base),
		noteAt("b", "newest", base.Add(2*time.Hour)),
		noteAt("c", "middle", base.Add(time.Hour)),
	})

	snap := store.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})
}

func TestApplyEventIsIdempotent(t *testing.T) {
	base := time.Now().UTC()
	store := NewStore()
	event := domain.ChangeEvent{Operation: domain.OpInsert, OwnerID: "owner-1", Note: noteAt("a", "hello", base)}

	store.ApplyEvent(event)
	store.ApplyEvent(event)
	store.ApplyEvent(event)

	assert.Len(t, store.Snapshot(), 1)
}

func TestOutOfOrderUpdatesConvergeToNewest(t *testing.T) {
	base := time.Now().UTC()
	newer := noteAt("a", "v2", base.Add(time.Second))
	older := noteAt("a", "v1", base)

	store := NewStore()
	store.ApplyEvent(domain.ChangeEvent{Operation: domain.OpUpdate, OwnerID: "owner-1", Note: newer})
	store.ApplyEvent(domain.ChangeEvent{Operation: domain.OpUpdate, OwnerID: "owner-1", Note: older})

	got, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Title)
}

func TestDeleteWinsOverLaterVersions(t *testing.T) {
	base := time.Now().UTC()
	store := NewStore()
	store.Reset([]domain.Note{noteAt("a", "hello", base)})

	store.ApplyEvent(domain.ChangeEvent{Operation: domain.OpDelete, OwnerID: "owner-1", Note: noteAt("a", "hello", base)})
	// A delayed update for the deleted note must be discarded.
	store.ApplyEvent(domain.ChangeEvent{Operation: domain.OpUpdate, OwnerID: "owner-1", Note: noteAt("a", "late", base.Add(time.Hour))})

	_, ok := store.Get("a")
	assert.False(t, ok)
	assert.Empty(t, store.Snapshot())
}

func TestTombstoneSurvivesReset(t *testing.T) {
	base := time.Now().UTC()
	store := NewStore()
	store.ApplyEvent(domain.ChangeEvent{Operation: domain.OpDelete, OwnerID: "owner-1", Note: noteAt("a", "gone", base)})

	store.Reset([]domain.Note{noteAt("a", "resurrected", base), noteAt("b", "kept", base)})

	_, ok := store.Get("a")
	assert.False(t, ok)
	_, ok = store.Get("b")
	assert.True(t, ok)
}

func TestStageCreateResolvesToServerID(t *testing.T) {
	store := NewStore()
	tempID := store.StageCreate(domain.Note{Title: "draft", Kind: domain.KindText})

	_, ok := store.Get(tempID)
	require.True(t, ok)

	confirmed := noteAt("server-id", "draft", time.Now().UTC())
	store.ResolveCreate(tempID, confirmed)

	_, ok = store.Get(tempID)
	assert.False(t, ok)
	got, ok := store.Get("server-id")
	require.True(t, ok)
	assert.Equal(t, "draft", got.Title)
}

func TestRollbackCreateRemovesPlaceholder(t *testing.T) {
	store := NewStore()
	tempID := store.StageCreate(domain.Note{Title: "draft"})

	store.RollbackCreate(tempID)

	assert.Empty(t, store.Snapshot())
}

func TestStageUpdateRollbackRestoresPrevious(t *testing.T) {
	base := time.Now().UTC()
	store := NewStore()
	store.Reset([]domain.Note{noteAt("a", "original", base)})

	title := "optimistic"
	prev, ok := store.StageUpdate("a", domain.NotePatch{Title: &title})
	require.True(t, ok)

	got, _ := store.Get("a")
	assert.Equal(t, "optimistic", got.Title)

	store.Rollback(prev)
	got, _ = store.Get("a")
	assert.Equal(t, "original", got.Title)
}

func TestRollbackSkippedWhenNewerVersionLanded(t *testing.T) {
	base := time.Now().UTC()
	store := NewStore()
	store.Reset([]domain.Note{noteAt("a", "original", base)})

	title := "optimistic"
	prev, ok := store.StageUpdate("a", domain.NotePatch{Title: &title})
	require.True(t, ok)

	// Server version arrives before the rollback; it must win.
	store.Merge(noteAt("a", "server", base.Add(time.Minute)))
	store.Rollback(prev)

	got, _ := store.Get("a")
	assert.Equal(t, "server", got.Title)
}

func TestStageDeleteRollbackRestores(t *testing.T) {
	base := time.Now().UTC()
	store := NewStore()
	store.Reset([]domain.Note{noteAt("a", "keep me", base)})

	prev, ok := store.StageDelete("a")
	require.True(t, ok)
	assert.Empty(t, store.Snapshot())

	store.RollbackDelete(prev)
	got, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, "keep me", got.Title)
}

func TestConfirmDeleteBlocksLateResponses(t *testing.T) {
	base := time.Now().UTC()
	store := NewStore()
	store.Reset([]domain.Note{noteAt("a", "doomed", base)})

	_, ok := store.StageDelete("a")
	require.True(t, ok)
	store.ConfirmDelete("a")

	// Response from an update that raced with the delete.
	store.Merge(noteAt("a", "late write", base.Add(time.Minute)))

	_, ok = store.Get("a")
	assert.False(t, ok)
}

func TestSubscribeNotifiesAndCancels(t *testing.T) {
	store := NewStore()
	calls := 0
	cancel := store.Subscribe(func() { calls++ })

	store.Reset([]domain.Note{noteAt("a", "x", time.Now().UTC())})
	require.Equal(t, 1, calls)

	cancel()
	store.Reset(nil)
	assert.Equal(t, 1, calls)
}
