package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindFromMediaType(t *testing.T) {
	cases := []struct {
		mediaType string
		want      NoteKind
	}{
		{"audio/mpeg", KindAudio},
		{"audio/wav", KindAudio},
		{"video/mp4", KindVideo},
		{"image/png", KindImage},
		{"image/jpeg", KindImage},
		{"application/pdf", KindDocument},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", KindDocument},
		{"text/plain", KindDocument},
		{"application/zip", KindOther},
		{"", KindOther},
		{"AUDIO/MPEG", KindAudio},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, KindFromMediaType(tc.mediaType), "media type %q", tc.mediaType)
	}
}

func TestProcessingStateTransitions(t *testing.T) {
	allowed := []struct{ from, to ProcessingState }{
		{StatePending, StateProcessing},
		{StateProcessing, StateCompleted},
		{StateProcessing, StateFailed},
		{StateFailed, StateProcessing},
	}
	for _, tr := range allowed {
		assert.True(t, tr.from.CanTransition(tr.to), "%s -> %s should be allowed", tr.from, tr.to)
	}

	forbidden := []struct{ from, to ProcessingState }{
		{StateCompleted, StatePending},
		{StateCompleted, StateProcessing},
		{StateFailed, StatePending},
		{StateProcessing, StatePending},
		{StatePending, StateCompleted},
		{StatePending, StateFailed},
	}
	for _, tr := range forbidden {
		assert.False(t, tr.from.CanTransition(tr.to), "%s -> %s should be forbidden", tr.from, tr.to)
	}
}

func TestNoteSearchText(t *testing.T) {
	n := Note{Title: "Meeting Notes", Content: "Discussed Roadmap", AITags: []string{"Planning"}}
	assert.Equal(t, "meeting notes discussed roadmap planning", n.SearchText())
}
