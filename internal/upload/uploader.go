// File: internal/upload/uploader.go
package upload

import (
	"context"
)

// Uploader moves a staged local image to durable storage and returns a
// retrievable URL for it.
type Uploader interface {
	Upload(ctx context.Context, userID, localPath string) (string, error)
}
