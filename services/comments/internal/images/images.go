// Package images stores comment attachments in an S3 compatible object store
// and hands back their public URLs.
package images

import (
	"context"
	"errors"
	"mime"
	"strings"

	"go.uber.org/zap"
)

// KeyPrefix is the folder attachments are written under.
const KeyPrefix = "comment-images"

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image too large")
	ErrEmpty           = errors.New("empty image")
)

// Image is an attachment waiting to be uploaded.
type Image struct {
	Data     []byte
	MimeType string
}

// Uploader stores image bytes and returns a public URL for them.
type Uploader interface {
	Upload(ctx context.Context, data []byte, mimeType string) (string, error)
}

// UploadBestEffort uploads img and returns its URL, or nil when there is
// nothing to upload or the upload failed. Failures are logged and never
// block comment creation.
func UploadBestEffort(ctx context.Context, u Uploader, img *Image, log *zap.Logger) *string {
	if img == nil || len(img.Data) == 0 {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	if u == nil {
		log.Warn("image attached but no object store configured, dropping it")
		return nil
	}
	url, err := u.Upload(ctx, img.Data, img.MimeType)
	if err != nil {
		log.Warn("image upload failed, posting comment without it",
			zap.String("mime_type", img.MimeType), zap.Int("bytes", len(img.Data)), zap.Error(err))
		return nil
	}
	return &url
}

var knownExt = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/avif":    ".avif",
}

// extension maps an image mime type to a file extension.
func extension(mimeType string) (string, error) {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil || !strings.HasPrefix(mt, "image/") {
		return "", ErrUnsupportedType
	}
	if ext, ok := knownExt[mt]; ok {
		return ext, nil
	}
	if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
		return exts[0], nil
	}
	return ".img", nil
}
