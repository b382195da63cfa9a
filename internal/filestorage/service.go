// File: internal/filestorage/service.go
package filestorage

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StagingService holds picked avatar images on local disk until a save
// uploads them to durable storage. Staged files are transient: they are
// removed on cancel and after a successful upload.
type StagingService struct {
	stagingPath string // Base path for staged files, e.g., "./staging"
	logger      *zap.Logger
}

// NewStagingService creates a new StagingService.
func NewStagingService(stagingPath string, logger *zap.Logger) (*StagingService, error) {
	if stagingPath == "" {
		return nil, fmt.Errorf("staging path cannot be empty")
	}
	if err := os.MkdirAll(stagingPath, os.ModePerm); err != nil {
		logger.Error("Failed to create staging path directory", zap.String("path", stagingPath), zap.Error(err))
		return nil, fmt.Errorf("failed to create staging path %s: %w", stagingPath, err)
	}
	logger.Info("StagingService initialized", zap.String("stagingPath", stagingPath))
	return &StagingService{stagingPath: stagingPath, logger: logger}, nil
}

// StageUploadedFile saves a multipart image under the user's staging
// sub-directory with a unique name and returns the path relative to the
// staging root (e.g., "uid123/uuid.jpg").
func (s *StagingService) StageUploadedFile(fileHeader *multipart.FileHeader, userID string) (string, error) {
	if fileHeader == nil {
		return "", fmt.Errorf("fileHeader cannot be nil")
	}
	if userID == "" {
		return "", fmt.Errorf("userID cannot be empty")
	}

	src, err := fileHeader.Open()
	if err != nil {
		s.logger.Error("Failed to open uploaded file", zap.Error(err))
		return "", fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	originalFilename := filepath.Base(fileHeader.Filename)
	extension := filepath.Ext(originalFilename)
	if extension == "" {
		// Infer the extension from the content type for extension-less uploads.
		contentType := fileHeader.Header.Get("Content-Type")
		switch {
		case strings.HasPrefix(contentType, "image/jpeg"):
			extension = ".jpg"
		case strings.HasPrefix(contentType, "image/png"):
			extension = ".png"
		case strings.HasPrefix(contentType, "image/gif"):
			extension = ".gif"
		default:
			return "", fmt.Errorf("unsupported file type or missing extension: %s", contentType)
		}
	}
	uniqueFilename := uuid.New().String() + extension

	cleanUserDir := filepath.Clean(userID)
	if strings.HasPrefix(cleanUserDir, "..") || filepath.IsAbs(cleanUserDir) {
		s.logger.Error("Invalid userID for staging directory", zap.String("userID", userID))
		return "", fmt.Errorf("invalid staging sub-directory")
	}

	destinationDir := filepath.Join(s.stagingPath, cleanUserDir)
	if err := os.MkdirAll(destinationDir, os.ModePerm); err != nil {
		s.logger.Error("Failed to create staging sub-directory", zap.String("path", destinationDir), zap.Error(err))
		return "", fmt.Errorf("failed to create directory %s: %w", destinationDir, err)
	}

	destinationPath := filepath.Join(destinationDir, uniqueFilename)

	dst, err := os.Create(destinationPath)
	if err != nil {
		s.logger.Error("Failed to create staged file", zap.String("path", destinationPath), zap.Error(err))
		return "", fmt.Errorf("failed to create file %s: %w", destinationPath, err)
	}
	defer dst.Close()

	if _, err = io.Copy(dst, src); err != nil {
		s.logger.Error("Failed to copy uploaded file to staging", zap.String("path", destinationPath), zap.Error(err))
		os.Remove(destinationPath)
		return "", fmt.Errorf("failed to stage file: %w", err)
	}

	s.logger.Info("Image staged", zap.String("path", destinationPath))
	return filepath.ToSlash(filepath.Join(cleanUserDir, uniqueFilename)), nil
}

// Resolve returns the absolute on-disk path of a staged file.
func (s *StagingService) Resolve(relativePath string) (string, error) {
	cleanRelativePath := filepath.Clean(relativePath)
	if strings.Contains(cleanRelativePath, "..") || filepath.IsAbs(cleanRelativePath) {
		return "", fmt.Errorf("invalid staged file path")
	}
	return filepath.Join(s.stagingPath, cleanRelativePath), nil
}

// Discard deletes a staged file given its path relative to the staging root.
// Discarding a file that no longer exists is not an error.
func (s *StagingService) Discard(relativePath string) error {
	if relativePath == "" {
		return fmt.Errorf("relative path cannot be empty")
	}

	fullPath, err := s.Resolve(relativePath)
	if err != nil {
		s.logger.Warn("Attempt to discard file with path traversal", zap.String("relativePath", relativePath))
		return err
	}

	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		s.logger.Warn("Attempt to discard non-existent staged file", zap.String("path", fullPath))
		return nil
	}

	if err := os.Remove(fullPath); err != nil {
		s.logger.Error("Failed to discard staged file", zap.String("path", fullPath), zap.Error(err))
		return fmt.Errorf("failed to delete file %s: %w", fullPath, err)
	}

	s.logger.Info("Staged file discarded", zap.String("path", fullPath))
	return nil
}
