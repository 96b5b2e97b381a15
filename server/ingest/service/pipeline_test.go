package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge_server/server/common/apperr"
	"knowledge_server/server/ingest/provider"
	"knowledge_server/server/notes/domain"
)

type fakeTracker struct {
	state       domain.ProcessingState
	errorMsg    string
	transitions []string
}

func (f *fakeTracker) Get(ctx context.Context, ownerID, attachmentID string) (domain.Attachment, error) {
	return domain.Attachment{ID: attachmentID, OwnerID: ownerID, State: f.state, ErrorMessage: f.errorMsg}, nil
}

func (f *fakeTracker) Transition(ctx context.Context, ownerID, attachmentID string, from, to domain.ProcessingState, errorMessage string) (bool, error) {
	if !from.CanTransition(to) {
		return false, apperr.Validation("invalid transition %s -> %s", from, to)
	}
	if f.state != from {
		return false, nil
	}
	f.state = to
	f.errorMsg = errorMessage
	f.transitions = append(f.transitions, string(from)+"->"+string(to))
	return true, nil
}

type fakeMutator struct {
	patches []domain.NotePatch
	err     error
}

func (f *fakeMutator) Update(ctx context.Context, ownerID, noteID string, patch domain.NotePatch) (domain.Note, error) {
	if f.err != nil {
		return domain.Note{}, f.err
	}
	f.patches = append(f.patches, patch)
	return domain.Note{ID: noteID, OwnerID: ownerID}, nil
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioURL string, opts provider.TranscribeOptions) (provider.Transcription, error) {
	f.calls++
	if f.err != nil {
		return provider.Transcription{}, f.err
	}
	return provider.Transcription{Text: f.text, Confidence: 0.9}, nil
}

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) ExtractText(ctx context.Context, fileURL string) (provider.Extraction, error) {
	f.calls++
	if f.err != nil {
		return provider.Extraction{}, f.err
	}
	return provider.Extraction{Text: f.text}, nil
}

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string, summaryType provider.SummaryType) (provider.Summary, error) {
	f.calls++
	if f.err != nil {
		return provider.Summary{}, f.err
	}
	return provider.Summary{Summary: f.summary, Confidence: 0.8}, nil
}

type fakeUsage struct {
	records int
}

func (f *fakeUsage) Record(ctx context.Context, ownerID string) error {
	f.records++
	return nil
}

type fakeThumbs struct {
	calls int
}

func (f *fakeThumbs) MakeThumbnail(ctx context.Context, objectKey string) (string, error) {
	f.calls++
	return objectKey + "_thumb.jpg", nil
}

func audioJob() domain.IngestJob {
	return domain.IngestJob{
		AttachmentID: "att-1",
		NoteID:       "note-1",
		OwnerID:      "owner-1",
		ObjectKey:    "owner-1/abc.mp3",
		RetrievalURL: "http://blobs/owner-1/abc.mp3",
		MediaType:    "audio/mpeg",
		FileName:     "memo.mp3",
	}
}

func newTestPipeline(tracker *fakeTracker, mutator *fakeMutator, tr *fakeTranscriber, ex *fakeExtractor, su *fakeSummarizer, us *fakeUsage, th *fakeThumbs) *Pipeline {
	return NewPipeline(tracker, mutator, tr, ex, su, us, th)
}

func TestAudioJobTranscribesAndSummarizes(t *testing.T) {
	transcript := strings.Repeat("meeting notes about the quarterly roadmap ", 5)
	tracker := &fakeTracker{state: domain.StatePending}
	mutator := &fakeMutator{}
	tr := &fakeTranscriber{text: transcript}
	su := &fakeSummarizer{summary: "quarterly roadmap discussion"}
	usage := &fakeUsage{}

	p := newTestPipeline(tracker, mutator, tr, &fakeExtractor{}, su, usage, &fakeThumbs{})
	require.NoError(t, p.Process(context.Background(), audioJob()))

	assert.Equal(t, []string{"pending->processing", "processing->completed"}, tracker.transitions)
	assert.Equal(t, 1, tr.calls)
	assert.Equal(t, 1, su.calls)
	assert.Equal(t, 1, usage.records)

	require.Len(t, mutator.patches, 2)
	require.NotNil(t, mutator.patches[0].Content)
	assert.Equal(t, transcript, *mutator.patches[0].Content)
	require.NotNil(t, mutator.patches[0].Transcription)
	require.NotNil(t, mutator.patches[1].AISummary)
	assert.Equal(t, "quarterly roadmap discussion", *mutator.patches[1].AISummary)
	require.NotNil(t, mutator.patches[1].AITags)
}

func TestShortExtractionSkipsSummary(t *testing.T) {
	tracker := &fakeTracker{state: domain.StatePending}
	mutator := &fakeMutator{}
	su := &fakeSummarizer{summary: "unused"}

	p := newTestPipeline(tracker, mutator, &fakeTranscriber{text: "short memo"}, &fakeExtractor{}, su, &fakeUsage{}, &fakeThumbs{})
	require.NoError(t, p.Process(context.Background(), audioJob()))

	assert.Equal(t, domain.StateCompleted, tracker.state)
	assert.Zero(t, su.calls)
	require.Len(t, mutator.patches, 1)
	require.NotNil(t, mutator.patches[0].Content)
	assert.Nil(t, mutator.patches[0].AISummary)
}

func TestProviderFailureMarksAttachmentFailed(t *testing.T) {
	tracker := &fakeTracker{state: domain.StatePending}
	mutator := &fakeMutator{}
	tr := &fakeTranscriber{err: apperr.ProviderTimeout("transcription timed out", errors.New("deadline"))}
	usage := &fakeUsage{}

	p := newTestPipeline(tracker, mutator, tr, &fakeExtractor{}, &fakeSummarizer{}, usage, &fakeThumbs{})
	require.NoError(t, p.Process(context.Background(), audioJob()))

	assert.Equal(t, domain.StateFailed, tracker.state)
	assert.Contains(t, tracker.errorMsg, "transcription timed out")
	// The note keeps its last-good content and no usage is burned.
	assert.Empty(t, mutator.patches)
	assert.Zero(t, usage.records)
}

func TestCompletedAttachmentIsNotReprocessed(t *testing.T) {
	tracker := &fakeTracker{state: domain.StateCompleted}
	mutator := &fakeMutator{}
	tr := &fakeTranscriber{text: "anything"}

	p := newTestPipeline(tracker, mutator, tr, &fakeExtractor{}, &fakeSummarizer{}, &fakeUsage{}, &fakeThumbs{})
	require.NoError(t, p.Process(context.Background(), audioJob()))

	assert.Equal(t, domain.StateCompleted, tracker.state)
	assert.Zero(t, tr.calls)
	assert.Empty(t, mutator.patches)
}

func TestRetriedJobAlreadyInProcessingRuns(t *testing.T) {
	// The retry endpoint moves failed -> processing before requeueing, so
	// the worker picks the job up mid-state.
	tracker := &fakeTracker{state: domain.StateProcessing}
	mutator := &fakeMutator{}
	tr := &fakeTranscriber{text: "retried memo"}

	p := newTestPipeline(tracker, mutator, tr, &fakeExtractor{}, &fakeSummarizer{}, &fakeUsage{}, &fakeThumbs{})
	require.NoError(t, p.Process(context.Background(), audioJob()))

	assert.Equal(t, domain.StateCompleted, tracker.state)
	assert.Equal(t, 1, tr.calls)
	require.Len(t, mutator.patches, 1)
}

func TestTextAttachmentCompletesWithoutProviders(t *testing.T) {
	tracker := &fakeTracker{state: domain.StatePending}
	mutator := &fakeMutator{}
	tr := &fakeTranscriber{}
	ex := &fakeExtractor{}
	usage := &fakeUsage{}

	job := audioJob()
	job.MediaType = "application/octet-stream"

	p := newTestPipeline(tracker, mutator, tr, ex, &fakeSummarizer{}, usage, &fakeThumbs{})
	require.NoError(t, p.Process(context.Background(), job))

	assert.Equal(t, domain.StateCompleted, tracker.state)
	assert.Zero(t, tr.calls)
	assert.Zero(t, ex.calls)
	assert.Zero(t, usage.records)
	assert.Empty(t, mutator.patches)
}

func TestImageJobExtractsTextAndRendersThumbnail(t *testing.T) {
	tracker := &fakeTracker{state: domain.StatePending}
	mutator := &fakeMutator{}
	ex := &fakeExtractor{text: "whiteboard sketch"}
	thumbs := &fakeThumbs{}

	job := audioJob()
	job.MediaType = "image/png"
	job.ObjectKey = "owner-1/abc.png"

	p := newTestPipeline(tracker, mutator, &fakeTranscriber{}, ex, &fakeSummarizer{}, &fakeUsage{}, thumbs)
	require.NoError(t, p.Process(context.Background(), job))

	assert.Equal(t, domain.StateCompleted, tracker.state)
	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, 1, thumbs.calls)
	require.Len(t, mutator.patches, 1)
	// Image extractions land in content only, never transcription.
	assert.Nil(t, mutator.patches[0].Transcription)
}

func TestSummarizerFailureLeavesAttachmentCompleted(t *testing.T) {
	transcript := strings.Repeat("long recording with plenty of words to summarize ", 4)
	tracker := &fakeTracker{state: domain.StatePending}
	mutator := &fakeMutator{}
	su := &fakeSummarizer{err: apperr.Provider("summarizer unavailable", errors.New("503"))}

	p := newTestPipeline(tracker, mutator, &fakeTranscriber{text: transcript}, &fakeExtractor{}, su, &fakeUsage{}, &fakeThumbs{})
	require.NoError(t, p.Process(context.Background(), audioJob()))

	assert.Equal(t, domain.StateCompleted, tracker.state)
	require.Len(t, mutator.patches, 1)
	assert.Nil(t, mutator.patches[0].AISummary)
}

func TestDeriveTagsFiltersStopwordsAndShortWords(t *testing.T) {
	text := "The roadmap roadmap roadmap covers infrastructure infrastructure and the new API for billing"
	tags := DeriveTags(text)

	require.NotEmpty(t, tags)
	assert.Equal(t, "roadmap", tags[0])
	assert.Contains(t, tags, "infrastructure")
	assert.NotContains(t, tags, "the")
	assert.NotContains(t, tags, "and")
	assert.NotContains(t, tags, "api")
}
