package service

import (
	"context"
	"unicode/utf8"

	"knowledge_server/server/common/apperr"
	commonlog "knowledge_server/server/common/log"
	"knowledge_server/server/ingest/provider"
	"knowledge_server/server/notes/domain"
)

// summaryMinRunes is the extraction length below which summarization is
// skipped. Fixed constant, not user-configurable.
const summaryMinRunes = 100

type attachmentTracker interface {
	Get(ctx context.Context, ownerID, attachmentID string) (domain.Attachment, error)
	Transition(ctx context.Context, ownerID, attachmentID string, from, to domain.ProcessingState, errorMessage string) (bool, error)
}

type noteMutator interface {
	Update(ctx context.Context, ownerID, noteID string, patch domain.NotePatch) (domain.Note, error)
}

type usageRecorder interface {
	Record(ctx context.Context, ownerID string) error
}

type thumbnailer interface {
	MakeThumbnail(ctx context.Context, objectKey string) (string, error)
}

// Pipeline drives one uploaded attachment through extraction. Instances
// run concurrently with no mutual exclusion; the note row's per-row atomic
// update and the guarded attachment transitions carry all consistency.
type Pipeline struct {
	attachments attachmentTracker
	notes       noteMutator
	transcriber provider.Transcriber
	extractor   provider.TextExtractor
	summarizer  provider.Summarizer
	usage       usageRecorder
	thumbs      thumbnailer
}

func NewPipeline(attachments attachmentTracker, notes noteMutator, transcriber provider.Transcriber, extractor provider.TextExtractor, summarizer provider.Summarizer, usage usageRecorder, thumbs thumbnailer) *Pipeline {
	return &Pipeline{
		attachments: attachments,
		notes:       notes,
		transcriber: transcriber,
		extractor:   extractor,
		summarizer:  summarizer,
		usage:       usage,
		thumbs:      thumbs,
	}
}

// Process handles one ingest job. Domain failures (provider errors) are
// recorded on the attachment and do not return an error; only
// infrastructure faults surface to the consumer for redelivery.
func (p *Pipeline) Process(ctx context.Context, job domain.IngestJob) error {
	moved, err := p.attachments.Transition(ctx, job.OwnerID, job.AttachmentID, domain.StatePending, domain.StateProcessing, "")
	if err != nil {
		if apperr.IsKind(err, apperr.KindValidation) {
			commonlog.Warnf("event=ingest action=pickup status=skipped attachment_id=%s error=%v", job.AttachmentID, err)
			return nil
		}
		return err
	}
	if !moved {
		current, err := p.attachments.Get(ctx, job.OwnerID, job.AttachmentID)
		if err != nil {
			return err
		}
		// A retried attachment is already in processing; anything else
		// means a duplicate or stale delivery.
		if current.State != domain.StateProcessing {
			commonlog.Infof("event=ingest action=pickup status=skipped attachment_id=%s state=%s", job.AttachmentID, current.State)
			return nil
		}
	}

	kind := domain.KindFromMediaType(job.MediaType)
	text, extracted, extractErr := p.extract(ctx, kind, job.RetrievalURL)
	if extractErr != nil {
		// The failure stays local to the attachment; the note keeps its
		// last-good content.
		if _, terr := p.attachments.Transition(ctx, job.OwnerID, job.AttachmentID, domain.StateProcessing, domain.StateFailed, extractErr.Error()); terr != nil {
			return terr
		}
		commonlog.Errorf("event=ingest action=extract status=failed attachment_id=%s kind=%s error=%v", job.AttachmentID, kind, extractErr)
		return nil
	}

	if extracted {
		if err := p.usage.Record(ctx, job.OwnerID); err != nil {
			commonlog.Warnf("event=ingest action=record_usage status=failed owner_id=%s error=%v", job.OwnerID, err)
		}
	}

	if kind == domain.KindImage && p.thumbs != nil {
		if thumbKey, err := p.thumbs.MakeThumbnail(ctx, job.ObjectKey); err != nil {
			commonlog.Warnf("event=ingest action=thumbnail status=failed attachment_id=%s error=%v", job.AttachmentID, err)
		} else {
			commonlog.Debugf("event=ingest action=thumbnail status=ok attachment_id=%s thumb_key=%s", job.AttachmentID, thumbKey)
		}
	}

	if _, err := p.attachments.Transition(ctx, job.OwnerID, job.AttachmentID, domain.StateProcessing, domain.StateCompleted, ""); err != nil {
		return err
	}

	if !extracted {
		commonlog.Infof("event=ingest action=complete status=ok attachment_id=%s kind=%s extracted=false", job.AttachmentID, kind)
		return nil
	}

	// Content, then summary: independent mutations, each with its own
	// ChangeEvent. Observers see the derived fields converge eventually.
	patch := domain.NotePatch{Content: &text}
	if kind == domain.KindAudio || kind == domain.KindVideo {
		patch.Transcription = &text
	}
	if _, err := p.notes.Update(ctx, job.OwnerID, job.NoteID, patch); err != nil {
		commonlog.Errorf("event=ingest action=update_note status=failed note_id=%s error=%v", job.NoteID, err)
		return nil
	}

	if utf8.RuneCountInString(text) >= summaryMinRunes {
		p.summarize(ctx, job.OwnerID, job.NoteID, text)
	}

	commonlog.Infof("event=ingest action=complete status=ok attachment_id=%s kind=%s text_runes=%d", job.AttachmentID, kind, utf8.RuneCountInString(text))
	return nil
}

// extract dispatches on the closed kind set. Kinds without a provider
// complete with no derived content.
func (p *Pipeline) extract(ctx context.Context, kind domain.NoteKind, url string) (string, bool, error) {
	switch kind {
	case domain.KindAudio, domain.KindVideo:
		tr, err := p.transcriber.Transcribe(ctx, url, provider.TranscribeOptions{})
		if err != nil {
			return "", false, err
		}
		return tr.Text, true, nil
	case domain.KindImage, domain.KindDocument:
		ex, err := p.extractor.ExtractText(ctx, url)
		if err != nil {
			return "", false, err
		}
		return ex.Text, true, nil
	default:
		return "", false, nil
	}
}

// summarize is advisory: a failed summarization leaves the note without a
// summary but never regresses the completed attachment.
func (p *Pipeline) summarize(ctx context.Context, ownerID, noteID, text string) {
	summary, err := p.summarizer.Summarize(ctx, text, provider.SummaryAuto)
	if err != nil {
		commonlog.Warnf("event=ingest action=summarize status=failed note_id=%s error=%v", noteID, err)
		return
	}
	tags := DeriveTags(text)
	patch := domain.NotePatch{AISummary: &summary.Summary, AITags: &tags}
	if _, err := p.notes.Update(ctx, ownerID, noteID, patch); err != nil {
		commonlog.Errorf("event=ingest action=update_summary status=failed note_id=%s error=%v", noteID, err)
		return
	}
	commonlog.Infof("event=ingest action=summarize status=ok note_id=%s confidence=%.2f", noteID, summary.Confidence)
}
