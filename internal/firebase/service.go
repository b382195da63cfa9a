// File: internal/firebase/service.go
package firebase

import (
	"context"
	"fmt"
	"path/filepath"

	cloudstorage "cloud.google.com/go/storage"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"kopiclub_backend/internal/config"
)

// Service wraps the Firebase Admin SDK clients used by the application:
// Auth for identity, Firestore for profile documents and Cloud Storage
// for avatar images.
type Service struct {
	authClient      *auth.Client
	firestoreClient *firestore.Client
	bucket          *cloudstorage.BucketHandle
	logger          *zap.Logger
}

// NewService initializes the Firebase Admin SDK and the derived clients.
func NewService(cfg *config.Config, logger *zap.Logger) (*Service, func(), error) {
	if cfg.FirebaseServiceAccountKeyPath == "" {
		logger.Error("Firebase service account key path is not configured.")
		return nil, nil, fmt.Errorf("firebase service account key path is required")
	}

	// Clean the path to prevent issues with relative paths or symlinks
	cleanPath := filepath.Clean(cfg.FirebaseServiceAccountKeyPath)
	opt := option.WithCredentialsFile(cleanPath)

	ctx := context.Background()

	var app *firebase.App
	var err error

	if cfg.FirebaseProjectID != "" {
		conf := &firebase.Config{
			ProjectID:     cfg.FirebaseProjectID,
			StorageBucket: cfg.StorageBucket,
		}
		app, err = firebase.NewApp(ctx, conf, opt)
	} else {
		// If ProjectID is not specified in config, let SDK infer from credentials
		app, err = firebase.NewApp(ctx, &firebase.Config{StorageBucket: cfg.StorageBucket}, opt)
	}
	if err != nil {
		logger.Error("Failed to initialize Firebase Admin SDK app", zap.Error(err), zap.String("keyPath", cleanPath))
		return nil, nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		logger.Error("Failed to get Firebase Auth client", zap.Error(err))
		return nil, nil, fmt.Errorf("error getting Firebase Auth client: %w", err)
	}

	fsClient, err := app.Firestore(ctx)
	if err != nil {
		logger.Error("Failed to get Firestore client", zap.Error(err))
		return nil, nil, fmt.Errorf("error getting Firestore client: %w", err)
	}

	storageClient, err := app.Storage(ctx)
	if err != nil {
		fsClient.Close()
		logger.Error("Failed to get Cloud Storage client", zap.Error(err))
		return nil, nil, fmt.Errorf("error getting Cloud Storage client: %w", err)
	}

	var bucket *cloudstorage.BucketHandle
	if cfg.StorageBucket != "" {
		bucket, err = storageClient.Bucket(cfg.StorageBucket)
	} else {
		bucket, err = storageClient.DefaultBucket()
	}
	if err != nil {
		fsClient.Close()
		logger.Error("Failed to resolve storage bucket", zap.Error(err), zap.String("bucket", cfg.StorageBucket))
		return nil, nil, fmt.Errorf("error resolving storage bucket: %w", err)
	}

	logger.Info("Firebase Admin SDK initialized successfully.")

	svc := &Service{
		authClient:      authClient,
		firestoreClient: fsClient,
		bucket:          bucket,
		logger:          logger,
	}
	cleanup := func() {
		if err := fsClient.Close(); err != nil {
			logger.Warn("Failed to close Firestore client", zap.Error(err))
		}
	}
	return svc, cleanup, nil
}

// Auth returns the Firebase Auth client.
func (s *Service) Auth() *auth.Client {
	return s.authClient
}

// Firestore returns the Firestore client.
func (s *Service) Firestore() *firestore.Client {
	return s.firestoreClient
}

// Bucket returns the Cloud Storage bucket used for avatar uploads.
func (s *Service) Bucket() *cloudstorage.BucketHandle {
	return s.bucket
}
