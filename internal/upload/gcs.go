// File: internal/upload/gcs.go
package upload

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"kopiclub_backend/internal/firebase"
)

// GCSUploader stores avatar images in the app's Cloud Storage bucket under
// avatars/<uid>/<uuid><ext> and returns the public object URL. The bucket is
// expected to allow public reads of the avatars prefix.
type GCSUploader struct {
	bucket *storage.BucketHandle
	logger *zap.Logger
}

var _ Uploader = (*GCSUploader)(nil)

// NewGCSUploader creates an uploader backed by the Firebase storage bucket.
func NewGCSUploader(fb *firebase.Service, logger *zap.Logger) *GCSUploader {
	return &GCSUploader{
		bucket: fb.Bucket(),
		logger: logger.Named("GCSUploader"),
	}
}

// Upload copies the staged file to the bucket. The local file is left in
// place; discarding it after a successful save is the caller's concern.
func (u *GCSUploader) Upload(ctx context.Context, userID, localPath string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("userID cannot be empty")
	}

	src, err := os.Open(localPath)
	if err != nil {
		u.logger.Error("Failed to open staged image", zap.String("path", localPath), zap.Error(err))
		return "", fmt.Errorf("failed to open staged image %s: %w", localPath, err)
	}
	defer src.Close()

	ext := filepath.Ext(localPath)
	objectName := fmt.Sprintf("avatars/%s/%s%s", userID, uuid.NewString(), ext)
	obj := u.bucket.Object(objectName)

	w := obj.NewWriter(ctx)
	if ct := mime.TypeByExtension(ext); ct != "" {
		w.ContentType = ct
	}
	w.CacheControl = "public, max-age=86400"

	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		u.logger.Error("Failed to write avatar to bucket",
			zap.String("object", objectName), zap.Error(err))
		return "", fmt.Errorf("failed to upload avatar: %w", err)
	}
	if err := w.Close(); err != nil {
		u.logger.Error("Failed to finalize avatar upload",
			zap.String("object", objectName), zap.Error(err))
		return "", fmt.Errorf("failed to finalize avatar upload: %w", err)
	}

	url := fmt.Sprintf("https://storage.googleapis.com/%s/%s", obj.BucketName(), objectName)
	u.logger.Info("Avatar uploaded", zap.String("uid", userID), zap.String("url", url))
	return url, nil
}
