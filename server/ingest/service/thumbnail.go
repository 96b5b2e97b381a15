package service

import (
	"bytes"
	"context"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const thumbnailSize = 320

type blobObjects interface {
	Get(ctx context.Context, objectKey string) (io.ReadCloser, error)
	Put(ctx context.Context, objectKey, contentType string, data []byte) error
}

// Thumbnails renders a 320x320 JPEG preview next to an image blob. The
// preview is derived output only; no attachment row references it.
type Thumbnails struct {
	blobs blobObjects
}

func NewThumbnails(blobs blobObjects) *Thumbnails {
	return &Thumbnails{blobs: blobs}
}

func (t *Thumbnails) MakeThumbnail(ctx context.Context, objectKey string) (string, error) {
	obj, err := t.blobs.Get(ctx, objectKey)
	if err != nil {
		return "", err
	}
	defer obj.Close()

	img, _, err := image.Decode(obj)
	if err != nil {
		return "", err
	}

	thumb := imaging.Thumbnail(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return "", err
	}

	ext := filepath.Ext(objectKey)
	thumbKey := strings.TrimSuffix(objectKey, ext) + "_thumb.jpg"
	if err := t.blobs.Put(ctx, thumbKey, "image/jpeg", buf.Bytes()); err != nil {
		return "", err
	}
	return thumbKey, nil
}
