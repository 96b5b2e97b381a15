package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"golang.org/x/crypto/blake2b"

	"knowledge_server/server/common/apperr"
	"knowledge_server/server/common/infra/object"
	commonlog "knowledge_server/server/common/log"
	"knowledge_server/server/notes/domain"
)

const maxAttachmentRetries = 3

type blobStore interface {
	Put(ctx context.Context, objectKey, contentType string, data []byte) error
	Remove(ctx context.Context, objectKey string) error
	URL(objectKey string) string
}

type attachmentStore interface {
	Create(ctx context.Context, att domain.Attachment) (domain.Attachment, error)
	Get(ctx context.Context, ownerID, attachmentID string) (domain.Attachment, error)
	ListByNote(ctx context.Context, ownerID, noteID string) ([]domain.Attachment, error)
	Retry(ctx context.Context, ownerID, attachmentID string, maxRetries int) (domain.Attachment, bool, error)
	Delete(ctx context.Context, ownerID, attachmentID string) (domain.Attachment, error)
}

type jobPublisher interface {
	PublishJob(ctx context.Context, job domain.IngestJob) error
}

type noteResolver interface {
	Get(ctx context.Context, ownerID, noteID string) (domain.Note, error)
}

// UploadService is the upload intake: raw bytes go to the blob store, the
// attachment row is created in pending, and a job is queued for the
// pipeline worker.
type UploadService struct {
	blobs       blobStore
	attachments attachmentStore
	notes       noteResolver
	jobs        jobPublisher
}

func NewUploadService(blobs blobStore, attachments attachmentStore, notes noteResolver, jobs jobPublisher) *UploadService {
	return &UploadService{blobs: blobs, attachments: attachments, notes: notes, jobs: jobs}
}

func (s *UploadService) Upload(ctx context.Context, ownerID, noteID, fileName, mediaType string, data []byte) (domain.Attachment, error) {
	if len(data) == 0 {
		return domain.Attachment{}, apperr.Validation("file is empty")
	}
	if strings.TrimSpace(fileName) == "" {
		return domain.Attachment{}, apperr.Validation("file name is required")
	}
	if _, err := s.notes.Get(ctx, ownerID, noteID); err != nil {
		return domain.Attachment{}, err
	}

	objectKey := contentAddressedKey(ownerID, fileName, data)
	if err := s.blobs.Put(ctx, objectKey, mediaType, data); err != nil {
		return domain.Attachment{}, apperr.Storage("store file", err)
	}

	att, err := s.attachments.Create(ctx, domain.Attachment{
		NoteID:       noteID,
		OwnerID:      ownerID,
		FileName:     fileName,
		ObjectKey:    objectKey,
		RetrievalURL: s.blobs.URL(objectKey),
		SizeBytes:    int64(len(data)),
		MediaType:    mediaType,
	})
	if err != nil {
		return domain.Attachment{}, err
	}

	if err := s.jobs.PublishJob(ctx, ingestJobFor(att)); err != nil {
		// Row stays pending; the operator retries through the same path
		// as a failed extraction.
		commonlog.Errorf("event=upload action=enqueue status=failed attachment_id=%s error=%v", att.ID, err)
	} else {
		commonlog.Infof("event=upload action=enqueue status=ok attachment_id=%s note_id=%s size_bytes=%d", att.ID, noteID, att.SizeBytes)
	}
	return att, nil
}

// Retry re-enters a failed attachment into processing and requeues the
// original job. The retry budget is fixed, not user-configurable.
func (s *UploadService) Retry(ctx context.Context, ownerID, attachmentID string) (domain.Attachment, error) {
	att, moved, err := s.attachments.Retry(ctx, ownerID, attachmentID, maxAttachmentRetries)
	if err != nil {
		return domain.Attachment{}, err
	}
	if !moved {
		current, err := s.attachments.Get(ctx, ownerID, attachmentID)
		if err != nil {
			return domain.Attachment{}, err
		}
		if current.State != domain.StateFailed {
			return domain.Attachment{}, apperr.Validation("only failed attachments can be retried")
		}
		return domain.Attachment{}, apperr.Validation("retry limit of %d reached", maxAttachmentRetries)
	}

	if err := s.jobs.PublishJob(ctx, ingestJobFor(att)); err != nil {
		return domain.Attachment{}, apperr.Storage("requeue attachment", err)
	}
	return att, nil
}

func (s *UploadService) ListByNote(ctx context.Context, ownerID, noteID string) ([]domain.Attachment, error) {
	return s.attachments.ListByNote(ctx, ownerID, noteID)
}

func (s *UploadService) Delete(ctx context.Context, ownerID, attachmentID string) error {
	att, err := s.attachments.Delete(ctx, ownerID, attachmentID)
	if err != nil {
		return err
	}
	if err := s.blobs.Remove(ctx, att.ObjectKey); err != nil {
		commonlog.Warnf("event=upload action=remove_blob status=failed object_key=%s error=%v", att.ObjectKey, err)
	}
	return nil
}

func ingestJobFor(att domain.Attachment) domain.IngestJob {
	return domain.IngestJob{
		AttachmentID: att.ID,
		NoteID:       att.NoteID,
		OwnerID:      att.OwnerID,
		ObjectKey:    att.ObjectKey,
		RetrievalURL: att.RetrievalURL,
		MediaType:    att.MediaType,
		FileName:     att.FileName,
	}
}

// contentAddressedKey derives the object key from the file bytes, so the
// same upload lands on the same key and storage stays deduplicated per
// owner.
func contentAddressedKey(ownerID, fileName string, data []byte) string {
	sum := blake2b.Sum256(data)
	return ownerID + "/" + hex.EncodeToString(sum[:16]) + strings.ToLower(filepath.Ext(fileName))
}

// MinioBlobStore adapts a minio client to the blobStore contract.
type MinioBlobStore struct {
	client   *minio.Client
	bucket   string
	endpoint string
	useSSL   bool
}

func NewMinioBlobStore(client *minio.Client, bucket, endpoint string, useSSL bool) *MinioBlobStore {
	return &MinioBlobStore{client: client, bucket: bucket, endpoint: endpoint, useSSL: useSSL}
}

func (m *MinioBlobStore) Put(ctx context.Context, objectKey, contentType string, data []byte) error {
	reader := bytes.NewReader(data)
	_, err := m.client.PutObject(ctx, m.bucket, objectKey, reader, int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (m *MinioBlobStore) Remove(ctx context.Context, objectKey string) error {
	return m.client.RemoveObject(ctx, m.bucket, objectKey, minio.RemoveObjectOptions{})
}

func (m *MinioBlobStore) Get(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	return m.client.GetObject(ctx, m.bucket, objectKey, minio.GetObjectOptions{})
}

func (m *MinioBlobStore) URL(objectKey string) string {
	return object.PublicURL(m.endpoint, m.bucket, objectKey, m.useSSL)
}
